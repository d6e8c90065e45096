package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/taforever/ircd-toxicity/pkg/annotator"
	"github.com/taforever/ircd-toxicity/pkg/handlers/http/request"
	"github.com/taforever/ircd-toxicity/pkg/perspective"
)

type ScoreResponse struct {
	Available bool     `json:"available"`
	Score     string   `json:"score,omitempty"`
	Value     *float64 `json:"value,omitempty"`
}

type scoreHandler struct {
	logger *logrus.Logger
	scorer perspective.Scorer
}

func NewScoreHandler(logger *logrus.Logger, scorer perspective.Scorer) Handler {
	return &scoreHandler{
		logger: logger,
		scorer: scorer,
	}
}

// Handle scores the posted text through the same path channel messages take.
// An unavailable score is a normal 200 answer with available=false.
func (h *scoreHandler) Handle(c *fiber.Ctx) error {
	var req request.ScoreRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.WithError(err).Error("failed to parse score request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	result := h.scorer.Score(c.UserContext(), req.Text)
	if !result.Present {
		return c.Status(fiber.StatusOK).JSON(ScoreResponse{Available: false})
	}

	value := result.Value
	return c.Status(fiber.StatusOK).JSON(ScoreResponse{
		Available: true,
		Score:     annotator.FormatScore(value),
		Value:     &value,
	})
}
