// Package relay forwards storefront form submissions (calculator, contact,
// chatbot) to Make.com scenario webhooks with the account API key.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbd888/blueprintstore/internal/apperr"
	"github.com/mbd888/blueprintstore/internal/circuitbreaker"
	"github.com/mbd888/blueprintstore/internal/logging"
	"github.com/mbd888/blueprintstore/internal/metrics"
	"github.com/mbd888/blueprintstore/internal/retry"
	"github.com/mbd888/blueprintstore/internal/security"
)

// APIKeyHeader is the header Make.com checks on protected hooks.
const APIKeyHeader = "x-make-apikey"

// Form types accepted by the relay.
const (
	TypeCalculator = "calculator"
	TypeContact    = "contact"
	TypeChatbot    = "chatbot"
)

// maxReplySize bounds how much of the upstream reply is read.
const maxReplySize = 64 << 10

var (
	ErrUnknownType   = apperr.Validation("unknown_type", "Unknown webhook type")
	ErrMissingData   = apperr.Validation("missing_data", "data is required")
	ErrNoAPIKey      = apperr.Misconfigured("relay_not_configured", "Webhook API key is not configured")
	ErrNoTarget      = apperr.Misconfigured("relay_target_not_configured", "No webhook URL is configured for this type")
	ErrUpstreamError = apperr.BadGateway("relay_upstream_error", nil).WithMessage("Webhook delivery failed")
)

// Options configures a Relay.
type Options struct {
	APIKey      string
	Targets     map[string]string // form type -> hook URL
	MaxAttempts int
	Timeout     time.Duration
	// ValidateTargets rejects non-https and private targets at construction.
	ValidateTargets bool
}

// Relay forwards form payloads.
type Relay struct {
	apiKey  string
	targets map[string]string
	client  *http.Client
	policy  retry.Policy
	breaker *circuitbreaker.Breaker
}

// New creates a relay. Targets for unknown form types are ignored.
func New(opts Options) (*Relay, error) {
	targets := make(map[string]string)
	for typ, u := range opts.Targets {
		if !knownType(typ) {
			continue
		}
		if opts.ValidateTargets {
			if err := security.ValidateRelayTarget(u); err != nil {
				return nil, fmt.Errorf("relay target %s: %w", typ, err)
			}
		}
		targets[typ] = u
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	policy := retry.DefaultPolicy()
	if opts.MaxAttempts > 0 {
		policy.MaxAttempts = opts.MaxAttempts
	}
	return &Relay{
		apiKey:  opts.APIKey,
		targets: targets,
		client:  &http.Client{Timeout: timeout},
		policy:  policy,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}, nil
}

// WithPolicy overrides the retry policy.
func (r *Relay) WithPolicy(p retry.Policy) *Relay {
	r.policy = p
	return r
}

func knownType(t string) bool {
	switch t {
	case TypeCalculator, TypeContact, TypeChatbot:
		return true
	}
	return false
}

// Reply is the upstream answer. JSON is set when the body parsed as JSON.
type Reply struct {
	Status int
	JSON   json.RawMessage
	Text   string
}

type upstreamStatusError struct {
	status int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.status)
}

// upstreamFault reports whether err means the hook itself is unhealthy:
// transport errors, 5xx and 429. Other 4xx answers reject this submission
// only and neither trip the breaker nor get retried.
func upstreamFault(err error) bool {
	var se *upstreamStatusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	var pe *retry.PermanentError
	return !errors.As(err, &pe)
}

// Send posts data to the hook for formType.
func (r *Relay) Send(ctx context.Context, formType string, data json.RawMessage) (*Reply, error) {
	if !knownType(formType) {
		metrics.RelayRequestsTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, ErrUnknownType
	}
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		metrics.RelayRequestsTotal.WithLabelValues(formType, "rejected").Inc()
		return nil, ErrMissingData
	}
	if r.apiKey == "" {
		metrics.RelayRequestsTotal.WithLabelValues(formType, "unconfigured").Inc()
		return nil, ErrNoAPIKey
	}
	target := r.targets[formType]
	if target == "" {
		metrics.RelayRequestsTotal.WithLabelValues(formType, "unconfigured").Inc()
		return nil, ErrNoTarget
	}

	var reply *Reply
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		err := r.breaker.ExecuteIf(formType, func() error {
			var err error
			reply, err = r.post(ctx, target, data)
			return err
		}, upstreamFault)
		if errors.Is(err, circuitbreaker.ErrOpen) || (err != nil && !upstreamFault(err)) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		metrics.RelayRequestsTotal.WithLabelValues(formType, "failed").Inc()
		logging.L(ctx).Error("form relay failed", "type", formType, "error", err)
		return nil, ErrUpstreamError.Wrap(err)
	}
	metrics.RelayRequestsTotal.WithLabelValues(formType, "delivered").Inc()
	logging.L(ctx).Info("form relayed", "type", formType, "status", reply.Status)
	return reply, nil
}

func (r *Relay) post(ctx context.Context, target string, data json.RawMessage) (*Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &upstreamStatusError{status: resp.StatusCode}
	}

	reply := &Reply{Status: resp.StatusCode}
	if json.Valid(body) && len(bytes.TrimSpace(body)) > 0 {
		reply.JSON = body
	} else {
		reply.Text = string(body)
	}
	return reply, nil
}
