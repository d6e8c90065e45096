package server

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/taforever/ircd-toxicity/pkg/config"
	handlers "github.com/taforever/ircd-toxicity/pkg/handlers/http"
	"github.com/taforever/ircd-toxicity/pkg/server/router"
)

type (
	AdminServerDI struct {
		HandlerTransport handlers.HandlerTransport
		Config           *config.Config
		Logger           *logrus.Logger
	}
	AdminServer struct {
		*BaseServer
		handlerTransport handlers.HandlerTransport
	}
)

func NewAdminServer(di AdminServerDI) *AdminServer {
	s := &AdminServer{
		BaseServer:       NewBaseServer(di.Config, di.Logger),
		handlerTransport: di.HandlerTransport,
	}
	s.setupHealthCheck()
	s.setupMetricsEndpoint()
	s.WithRouters(router.NewAdminRouter(di.HandlerTransport))
	return s
}

func (s *AdminServer) Run() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.AdminPort)
	s.runMetrics()
	s.Logger.WithField("addr", addr).Info("Starting admin server")
	return s.Router.Listen(addr)
}

func (s *AdminServer) Shutdown() error {
	return errors.Join(s.Router.Shutdown(), s.shutdownMetrics())
}
