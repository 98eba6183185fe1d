package gateway

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/auth"
	"mercator-hq/ganymede/pkg/kiro"
)

const (
	// backoffBase and backoffCap bound the full-jitter delay between
	// upstream attempts.
	backoffBase = 250 * time.Millisecond
	backoffCap  = 4 * time.Second
)

// Upstream attempt results recorded per dial.
const (
	attemptSuccess      = "success"
	attemptAuthRetry    = "auth_retry"
	attemptTooLarge     = "too_large"
	attemptServerError  = "server_error"
	attemptClientError  = "client_error"
	attemptNetworkError = "network_error"
	attemptFirstToken   = "first_token_timeout"
	attemptStreamError  = "stream_error"
)

// dial posts the envelope until a stream is accepted or the attempt budget
// runs out. One invalidate-and-retry for a rejected token, one
// summarize-and-retry for an oversized payload, backoff for server and
// network failures. A first-token timeout is retried because nothing has
// reached the client yet; every other stream failure is terminal.
func (e *Engine) dial(ctx context.Context, env *kiro.Envelope, info kiro.ModelInfo) (*Exchange, error) {
	maxAttempts := e.cfg.LiveMaxRetries()
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	invalidated := false
	summarized := false
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		header, err := e.creds.AuthHeader(ctx)
		if err != nil {
			var te *auth.TransientError
			if errors.As(err, &te) && attempt < maxAttempts {
				lastErr = err
				e.logger.Warn("token refresh failed, backing off", "attempt", attempt, "error", err)
				if werr := sleepBackoff(ctx, attempt); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, err
		}

		if attempt > 1 {
			// Same conversation, fresh continuation.
			env.ConversationState.AgentContinuationID = uuid.NewString()
		}

		body, err := e.client.SendMessage(ctx, header, env)
		if err != nil {
			lastErr = err

			var ue *kiro.UpstreamError
			switch {
			case errors.As(err, &ue) && (ue.StatusCode == http.StatusUnauthorized || ue.CredentialsExpired) && !invalidated:
				invalidated = true
				e.creds.Invalidate()
				e.metrics.RecordUpstreamAttempt(attemptAuthRetry)
				e.logger.Warn("upstream rejected token, refreshing once", "status", ue.StatusCode, "attempt", attempt)
				continue

			case errors.As(err, &ue) && ue.StatusCode == http.StatusRequestEntityTooLarge && !summarized:
				summarized = true
				e.metrics.RecordUpstreamAttempt(attemptTooLarge)
				squeezed, serr := e.translator.SummarizeEnvelope(env, info.ID, squeezeBudget(info))
				if serr != nil {
					return nil, serr
				}
				env = squeezed
				e.logger.Info("upstream rejected payload size, retrying summarized", "attempt", attempt)
				continue

			case errors.As(err, &ue) && ue.StatusCode >= 500:
				e.metrics.RecordUpstreamAttempt(attemptServerError)
				e.logger.Warn("upstream server error", "status", ue.StatusCode, "attempt", attempt)
				if attempt < maxAttempts {
					if werr := sleepBackoff(ctx, attempt); werr != nil {
						return nil, werr
					}
					continue
				}
				return nil, err

			case errors.As(err, &ue):
				// The remaining 4xx are the request's own problem.
				e.metrics.RecordUpstreamAttempt(attemptClientError)
				return nil, err

			case isTransport(err):
				e.metrics.RecordUpstreamAttempt(attemptNetworkError)
				e.logger.Warn("upstream unreachable", "attempt", attempt, "error", err)
				if attempt < maxAttempts {
					if werr := sleepBackoff(ctx, attempt); werr != nil {
						return nil, werr
					}
					continue
				}
				return nil, err

			default:
				// Cancellation or an encoding failure.
				return nil, err
			}
		}

		events := kiro.ParseStream(ctx, body, kiro.StreamOptions{
			FirstTokenTimeout: e.cfg.LiveFirstTokenTimeout(),
			IdleTimeout:       e.cfg.LiveStreamIdleTimeout(),
		})

		first, ok, err := awaitFirst(ctx, events)
		if err != nil {
			var ftt *kiro.FirstTokenTimeoutError
			if errors.As(err, &ftt) {
				lastErr = err
				e.metrics.RecordUpstreamAttempt(attemptFirstToken)
				e.logger.Warn("no first token, retrying", "attempt", attempt, "timeout", ftt.Timeout)
				continue
			}
			e.metrics.RecordUpstreamAttempt(attemptStreamError)
			return nil, err
		}

		e.metrics.RecordUpstreamAttempt(attemptSuccess)
		ex := &Exchange{
			Model:       info.ID,
			InputTokens: e.translator.EnvelopeTokens(env, info.ID),
		}
		if !ok {
			closed := make(chan kiro.Event)
			close(closed)
			ex.Events = closed
			return ex, nil
		}
		ex.Events = relay(ctx, first, events)
		return ex, nil
	}

	return nil, lastErr
}

// awaitFirst blocks for the stream's first event. ok is false when the
// channel closed without one, which only happens on cancellation.
func awaitFirst(ctx context.Context, events <-chan kiro.Event) (kiro.Event, bool, error) {
	select {
	case ev, ok := <-events:
		if !ok {
			if err := ctx.Err(); err != nil {
				return kiro.Event{}, false, err
			}
			return kiro.Event{}, false, nil
		}
		if ev.Kind == kiro.EventError {
			return kiro.Event{}, false, ev.Err
		}
		return ev, true, nil
	case <-ctx.Done():
		return kiro.Event{}, false, ctx.Err()
	}
}

// relay re-injects the inspected first event ahead of the remaining stream.
func relay(ctx context.Context, first kiro.Event, rest <-chan kiro.Event) <-chan kiro.Event {
	out := make(chan kiro.Event, 1)
	out <- first
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-rest:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// sleepBackoff waits the full-jitter exponential delay for one attempt,
// honoring cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	d := backoffBase << (attempt - 1)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	d = time.Duration(rand.Int63n(int64(d) + 1))
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// squeezeBudget is the summarize target after an upstream 413. The
// estimator under-counted once already, so aim well below the window.
func squeezeBudget(info kiro.ModelInfo) int {
	return info.MaxInputTokens / 2
}

func isTransport(err error) bool {
	var te *kiro.TransportError
	return errors.As(err, &te)
}
