package annotator

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/taforever/ircd-toxicity/pkg/infra/prometheus"
	"github.com/taforever/ircd-toxicity/pkg/mtag"
	"github.com/taforever/ircd-toxicity/pkg/perspective"
)

const (
	actionInsert    = "insert"
	actionOverwrite = "overwrite"
)

// Annotator writes the toxicity tag onto outgoing messages.
type Annotator struct {
	scorer perspective.Scorer
	logger *logrus.Logger
}

func NewAnnotator(scorer perspective.Scorer, logger *logrus.Logger) *Annotator {
	return &Annotator{
		scorer: scorer,
		logger: logger,
	}
}

// Annotate scores text and sets the toxicity tag on tags. Nothing is written
// when text is empty, tags is nil or the score is unavailable. tags is only
// touched for the duration of the call.
func (a *Annotator) Annotate(ctx context.Context, text string, tags *mtag.List) {
	if text == "" || tags == nil {
		return
	}

	result := a.scorer.Score(ctx, text)
	if !result.Present {
		return
	}

	value := FormatScore(result.Value)
	action := actionOverwrite
	if tags.Set(mtag.ToxicityTag, value) {
		action = actionInsert
	}
	prometheus.TagsWrittenTotal.WithLabelValues(action).Inc()

	a.logger.WithFields(logrus.Fields{
		"tag":    mtag.ToxicityTag,
		"value":  value,
		"action": action,
	}).Debug("toxicity tag written")
}

// FormatScore renders a score with exactly two decimals. The result is the
// correctly rounded decimal of the binary value, so exact ties go to even
// (0.125 -> "0.12") while 0.375 -> "0.38". Output never depends on locale.
func FormatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
