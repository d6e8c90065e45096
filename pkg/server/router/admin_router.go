package router

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	handlers "github.com/taforever/ircd-toxicity/pkg/handlers/http"
)

var ErrInvalidHandlerTransport = errors.New("invalid handler transport")

type ServerRouter interface {
	BuildRoutes(router *fiber.App) error
}

type adminRouter struct {
	handlerTransport handlers.HandlerTransport
}

func NewAdminRouter(handlerTransport handlers.HandlerTransport) ServerRouter {
	return &adminRouter{
		handlerTransport: handlerTransport,
	}
}

func (r *adminRouter) BuildRoutes(router *fiber.App) error {
	if r.handlerTransport.ScoreHandler == nil || r.handlerTransport.VersionHandler == nil {
		return ErrInvalidHandlerTransport
	}

	router.Get("/version", r.handlerTransport.VersionHandler.Handle)

	v1 := router.Group("/v1")
	{
		v1.Post("/score", r.handlerTransport.ScoreHandler.Handle)
	}
	return nil
}
