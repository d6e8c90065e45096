// Package module adapts the toxicity annotator to an IRC server's module
// interface: tag registration, the pre-channel-message hook and the lifecycle
// of the shared HTTP transport.
package module

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/taforever/ircd-toxicity/pkg/annotator"
	"github.com/taforever/ircd-toxicity/pkg/config"
	"github.com/taforever/ircd-toxicity/pkg/infra/httpx"
	"github.com/taforever/ircd-toxicity/pkg/infra/logger"
	"github.com/taforever/ircd-toxicity/pkg/infra/prometheus"
	"github.com/taforever/ircd-toxicity/pkg/mtag"
	"github.com/taforever/ircd-toxicity/pkg/perspective"
	"github.com/taforever/ircd-toxicity/pkg/version"
)

const (
	skipEmptyText = "empty_text"
	skipNilTags   = "nil_tags"
	skipNotUser   = "not_user"
)

var ErrNilHost = errors.New("module: host is nil")

type Option func(*Module)

// WithLogger makes the module log through l instead of the logger it builds
// from the log settings in Init. The caller owns l.
func WithLogger(l *logrus.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.logger = l
			m.ownsLogger = false
		}
	}
}

// WithEnvLookup replaces the process environment as the API key source.
func WithEnvLookup(lookup perspective.EnvLookup) Option {
	return func(m *Module) {
		m.lookupEnv = lookup
	}
}

type Module struct {
	host       Host
	lookupEnv  perspective.EnvLookup
	cfg        config.ModuleConfig
	ownsLogger bool

	// initMu serializes Init. A failed Init may be retried; registrations
	// that already went through are not repeated.
	initMu         sync.Mutex
	initialized    bool
	hookRegistered bool
	tagRegistered  bool
	unloadOnce     sync.Once

	mu        sync.RWMutex
	logger    *logrus.Logger
	closeLog  func()
	transport *httpx.FastHTTPClient
	annotator *annotator.Annotator
}

func New(host Host, opts ...Option) *Module {
	m := &Module{
		host:       host,
		ownsLogger: true,
		closeLog:   func() {},
	}
	// Without a log file NewLogger cannot fail.
	m.logger, _, _ = logger.NewLogger(logger.Config{})
	m.cfg.Perspective = m.cfg.Perspective.WithDefaults()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ValidateConfig decodes the host's settings block for this module. It must be
// called before Init for the settings to take effect.
func (m *Module) ValidateConfig(settings map[string]any) error {
	cfg, err := config.DecodeModuleConfig(settings)
	if err != nil {
		return err
	}
	m.cfg = cfg
	if cfg.Log.Level != "" {
		m.log().SetLevel(logger.ParseLevel(cfg.Log.Level))
	}
	return nil
}

// Init registers the channel message hook and the toxicity tag, builds the
// module logger unless one was injected and creates the shared transport.
// Once Init succeeds later calls are no-ops. A failed Init can be retried.
func (m *Module) Init(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.initialized {
		return nil
	}
	if err := m.init(ctx); err != nil {
		return err
	}
	m.initialized = true
	return nil
}

func (m *Module) init(_ context.Context) error {
	if m.host == nil {
		return ErrNilHost
	}

	log, closeLog := m.log(), func() {}
	if m.ownsLogger {
		var err error
		log, closeLog, err = logger.NewLogger(m.cfg.Log)
		if err != nil {
			return err
		}
	}

	// The hook stays inert until the annotator is published below, so it is
	// safe to register it before the tag.
	if !m.hookRegistered {
		if err := m.host.RegisterPreChannelMessageHook(m.PreChannelMessage); err != nil {
			closeLog()
			return fmt.Errorf("failed to register channel message hook: %w", err)
		}
		m.hookRegistered = true
	}

	if !m.tagRegistered {
		if err := m.host.RegisterTagHandler(mtag.Handler{
			Name:        mtag.ToxicityTag,
			NoCapNeeded: true,
		}); err != nil {
			closeLog()
			return fmt.Errorf("failed to register tag %s: %w", mtag.ToxicityTag, err)
		}
		m.tagRegistered = true
	}

	pcfg := m.cfg.Perspective
	transport := httpx.NewFastHTTPClient(m.cfg.HTTP.Options(pcfg.Timeout, pcfg.MaxResponseBytes)...)

	var opts []perspective.Option
	if m.lookupEnv != nil {
		opts = append(opts, perspective.WithEnvLookup(m.lookupEnv))
	}
	scorer := perspective.NewClient(transport, log, pcfg, opts...)

	if sink, ok := m.host.(logger.Sink); ok {
		log.AddHook(logger.NewHostHook(sink, logrus.WarnLevel))
	}

	m.mu.Lock()
	m.logger = log
	m.closeLog = closeLog
	m.transport = transport
	m.annotator = annotator.NewAnnotator(scorer, log)
	m.mu.Unlock()

	log.WithFields(logrus.Fields{
		"version":  version.Version,
		"endpoint": pcfg.Endpoint,
		"timeout":  pcfg.Timeout.String(),
	}).Info("toxicity module initialized")
	return nil
}

// Load always succeeds. Messages pass through untagged if Init did not complete.
func (m *Module) Load(_ context.Context) error {
	if !m.Ready() {
		m.log().Warn("toxicity module loaded without a successful Init; messages will not be scored")
	}
	return nil
}

// Ready reports whether Init completed.
func (m *Module) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.annotator != nil
}

// Unload releases the transport and flushes the module's log file, if any.
// Messages scored afterwards get no tag.
func (m *Module) Unload(_ context.Context) error {
	m.unloadOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.transport != nil {
			m.transport.Close()
		}
		m.closeLog()
	})
	return nil
}

func (m *Module) log() *logrus.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

// PreChannelMessage annotates the message with its toxicity score. Only text
// sent by end users is scored. It never vetoes.
func (m *Module) PreChannelMessage(ctx context.Context, sender *Client, channel *Channel, tags *mtag.List, text string, sendType SendType) HookResult {
	var reason string
	switch {
	case text == "":
		reason = skipEmptyText
	case tags == nil:
		reason = skipNilTags
	case !sender.IsUser():
		reason = skipNotUser
	}
	if reason != "" {
		prometheus.MessagesSkippedTotal.WithLabelValues(reason).Inc()
		return Continue
	}

	m.mu.RLock()
	a, log := m.annotator, m.logger
	m.mu.RUnlock()
	if a == nil {
		return Continue
	}

	if log.IsLevelEnabled(logrus.DebugLevel) {
		fields := logrus.Fields{"sender": sender.Name, "send_type": sendType.String()}
		if channel != nil {
			fields["channel"] = channel.Name
		}
		log.WithFields(fields).Debug("scoring channel message")
	}

	a.Annotate(ctx, text, tags)
	return Continue
}
