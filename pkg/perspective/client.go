package perspective

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/taforever/ircd-toxicity/pkg/infra/httpx"
	"github.com/taforever/ircd-toxicity/pkg/infra/logger"
	"github.com/taforever/ircd-toxicity/pkg/infra/prometheus"
)

const (
	DefaultEndpoint         = "https://commentanalyzer.googleapis.com/v1alpha1/comments:analyze"
	DefaultAPIKeyEnv        = "PERSPECTIVE_API_KEY"
	DefaultTimeout          = 2 * time.Second
	DefaultMaxResponseBytes = 64 * 1024
)

// Log event codes.
const (
	EventKeyMissing  = "PERSPECTIVE_API_KEY_MISSING"
	EventRequestFail = "PERSPECTIVE_API_REQUEST_FAIL"
	EventStatusFail  = "PERSPECTIVE_API_STATUS_FAIL"
	EventParseFail   = "PERSPECTIVE_API_JSON_PARSE_FAIL"
	EventResponse    = "PERSPECTIVE_API_RESPONSE"
)

type Config struct {
	Endpoint         string        `mapstructure:"endpoint"`
	APIKeyEnv        string        `mapstructure:"api_key_env"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxResponseBytes int           `mapstructure:"max_response_bytes"`
	Languages        []string      `mapstructure:"languages"`
}

// WithDefaults fills every unset field.
func (c Config) WithDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = DefaultMaxResponseBytes
	}
	return c
}

func (c Config) Validate() error {
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil {
			return fmt.Errorf("%w: endpoint: %v", ErrInvalidConfig, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: endpoint must be an http(s) URL", ErrInvalidConfig)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}
	if c.MaxResponseBytes < 0 {
		return fmt.Errorf("%w: max_response_bytes must not be negative", ErrInvalidConfig)
	}
	return nil
}

// EnvLookup reads a process environment variable.
type EnvLookup func(key string) (string, bool)

type Option func(*Client)

// WithEnvLookup replaces os.LookupEnv as the credential source.
func WithEnvLookup(lookup EnvLookup) Option {
	return func(c *Client) {
		if lookup != nil {
			c.lookupEnv = lookup
		}
	}
}

// Client scores text against the Perspective comments:analyze endpoint.
// It is safe for concurrent use; every call owns its request and response buffers.
type Client struct {
	client    httpx.Client
	logger    *logrus.Logger
	cfg       Config
	lookupEnv EnvLookup
}

func NewClient(client httpx.Client, logger *logrus.Logger, cfg Config, opts ...Option) *Client {
	if client == nil {
		client = &http.Client{}
	}
	c := &Client{
		client:    client,
		logger:    logger,
		cfg:       cfg.WithDefaults(),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Score never fails: every error is logged and reported as Unavailable.
func (c *Client) Score(ctx context.Context, text string) Result {
	log := c.logger.WithField("request_id", uuid.NewString())

	value, err := c.analyze(ctx, text, log)
	if err != nil {
		prometheus.ScoringRequestsTotal.WithLabelValues(c.logFailure(log, err)).Inc()
		return Unavailable()
	}

	prometheus.ScoringRequestsTotal.WithLabelValues(prometheus.OutcomePresent).Inc()
	log.WithField("score", value).Debug("toxicity score received")
	return Present(value)
}

func (c *Client) analyze(ctx context.Context, text string, log *logrus.Entry) (float64, error) {
	apiKey, ok := c.lookupEnv(c.cfg.APIKeyEnv)
	if !ok || strings.TrimSpace(apiKey) == "" {
		return 0, ErrMissingAPIKey
	}

	body, err := EncodeRequest(text, c.cfg.Languages)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to encode request: %v", ErrTransport, err)
	}

	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	query := endpoint.Query()
	query.Set("key", apiKey)
	endpoint.RawQuery = query.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	prometheus.ScoringLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		switch {
		case errors.Is(err, httpx.ErrBodyTooLarge):
			return 0, fmt.Errorf("%w: %v", ErrResponseTooLarge, err)
		case errors.Is(err, httpx.ErrClosed):
			return 0, ErrTransportClosed
		}
		return 0, fmt.Errorf("%w: %w", ErrTransport, redactKey(err, apiKey))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.cfg.MaxResponseBytes)+1))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read response body: %w", ErrTransport, redactKey(err, apiKey))
	}
	if len(raw) > c.cfg.MaxResponseBytes {
		return 0, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.cfg.MaxResponseBytes)
	}

	log.WithFields(logrus.Fields{
		logger.FieldEvent: EventResponse,
		"status_code":     resp.StatusCode,
		"body":            string(raw),
	}).Debug("perspective response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &StatusError{StatusCode: resp.StatusCode}
	}

	return ParseResponse(raw)
}

// logFailure writes the diagnostic for err and returns its metrics outcome.
func (c *Client) logFailure(log *logrus.Entry, err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrMissingAPIKey):
		log.WithFields(logrus.Fields{
			logger.FieldEvent: EventKeyMissing,
			"env":             c.cfg.APIKeyEnv,
		}).Error("No Perspective API key found")
		return prometheus.OutcomeMissingKey
	case errors.As(err, &statusErr):
		log.WithFields(logrus.Fields{
			logger.FieldEvent: EventStatusFail,
			"status_code":     statusErr.StatusCode,
		}).Error("Perspective API returned an error status")
		return prometheus.OutcomeBadStatus
	case errors.Is(err, ErrResponseTooLarge):
		log.WithField(logger.FieldEvent, EventParseFail).WithError(err).Error("unable to parse Perspective API response")
		return prometheus.OutcomeTooLarge
	case errors.Is(err, ErrMalformedResponse):
		log.WithField(logger.FieldEvent, EventParseFail).WithError(err).Error("unable to parse Perspective API response")
		return prometheus.OutcomeParseError
	default:
		log.WithField(logger.FieldEvent, EventRequestFail).WithError(err).Error("request failed")
		return prometheus.OutcomeTransportError
	}
}

// StatusError reports a completed exchange with a non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", ErrUnexpectedStatus.Error(), e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// redactKey keeps the credential out of transport errors, which often embed the
// URL with the key query-escaped. The wrapped error stays reachable through Unwrap.
func redactKey(err error, apiKey string) error {
	if apiKey == "" {
		return err
	}
	msg := err.Error()
	redacted := strings.ReplaceAll(msg, apiKey, "REDACTED")
	if escaped := url.QueryEscape(apiKey); escaped != apiKey {
		redacted = strings.ReplaceAll(redacted, escaped, "REDACTED")
	}
	if redacted == msg {
		return err
	}
	return &redactedError{msg: redacted, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }
