package interceptor

import (
	"context"
	stderrors "errors"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/reqlayer/internal/observability"
	"github.com/blueberrycongee/reqlayer/internal/resilience"
	"github.com/blueberrycongee/reqlayer/pkg/errors"
	"github.com/blueberrycongee/reqlayer/pkg/types"
)

// Envelope decodes 2xx bodies. An envelope with success=false becomes a
// terminal application error that is never classified or retried; anything
// else resolves to its unwrapped data.
func Envelope() ResponseFunc {
	return func(o *Outcome) *Outcome {
		if o.Terminal || !o.OK() {
			return o
		}
		env, ok := types.ParseEnvelope(o.Body)
		if ok && env.Failed() {
			o.Err = errors.Application(o.Status, env.Message, env.Error, env.Code, details(env))
			o.Terminal = true
			return o
		}
		o.Data = types.Unwrap(o.Body, env, ok)
		return o
	}
}

// RetryPolicy decides how failed attempts are resubmitted.
type RetryPolicy struct {
	// MaxRetries applies when the request carries no override.
	MaxRetries int
	Backoff    *resilience.Backoff
	// OnRetry observes every scheduled retry.
	OnRetry func(*Outcome)
}

// Retry schedules a resubmission for retryable failures. A failure is
// retryable when no response arrived or the status is 5xx; the method must
// be safe or the request must carry an idempotency key; and retries must
// remain. The retry counter is attached to the request on first use and
// shared by every later attempt.
func Retry(policy RetryPolicy, logger *observability.Logger) ResponseFunc {
	backoff := policy.Backoff
	if backoff == nil {
		backoff = resilience.DefaultBackoff()
	}
	if logger == nil {
		logger = observability.Wrap(nil, nil)
	}
	return func(o *Outcome) *Outcome {
		o.Retry = false
		o.Delay = 0
		if o.Terminal || o.OK() || o.Request == nil {
			return o
		}
		if !errors.Classify(o.Status, o.Err) {
			return o
		}
		if !retryAllowed(o.Request) {
			return o
		}

		state := o.Request.Retry
		if state == nil {
			max := policy.MaxRetries
			if o.Request.MaxRetries != nil {
				max = *o.Request.MaxRetries
			}
			state = &types.RetryState{MaxRetries: max, BaseDelay: backoff.Base}
			o.Request.Retry = state
		}
		if state.Exhausted() {
			return o
		}

		state.Count++
		o.Retry = true
		o.Delay = backoff.Delay(state.Count)

		logger.WithRequestID(requestContext(o)).RedactedWarn("retrying request",
			"method", o.Method(),
			"url", o.URL(),
			"status", o.Status,
			"attempt", state.Count,
			"max_retries", state.MaxRetries,
			"delay", o.Delay,
		)
		if policy.OnRetry != nil {
			policy.OnRetry(o)
		}
		return o
	}
}

// Finalize converts any remaining failure into a normalized *errors.Error
// carrying the request and attempt count, and logs it. Retrying outcomes
// and successes pass through.
func Finalize(logger *observability.Logger) ResponseFunc {
	if logger == nil {
		logger = observability.Wrap(nil, nil)
	}
	return func(o *Outcome) *Outcome {
		if o.Retry || o.OK() && !o.Terminal {
			return o
		}

		var e *errors.Error
		switch {
		case o.Terminal:
			e = errors.Wrap(o.Err)
		case o.Err != nil:
			if stderrors.Is(o.Err, context.Canceled) {
				e = errors.Canceled(o.Err)
			} else {
				e = errors.Wrap(o.Err)
			}
		default:
			env, _ := types.ParseEnvelope(o.Body)
			e = errors.FromStatus(o.Status, env.ServerMessage(), details(env))
		}
		e.WithRequest(o.Method(), o.URL(), o.Attempts())
		o.Err = e
		o.Terminal = true

		log := logger.WithRequestID(requestContext(o))
		if e.Kind == errors.KindCanceled {
			log.Debug("request canceled", "method", e.Method, "url", e.URL)
			return o
		}
		log.RedactedError("request failed",
			"method", e.Method,
			"url", e.URL,
			"kind", string(e.Kind),
			"code", e.Code,
			"attempts", e.Attempts,
			"error", e.Message,
		)
		return o
	}
}

func retryAllowed(req *types.Request) bool {
	return types.IsSafe(req.Method) || req.IdempotencyKey != ""
}

func details(env types.Envelope) any {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.RawMessage(env.Data)
}

func requestContext(o *Outcome) context.Context {
	if o.HTTPRequest != nil {
		return o.HTTPRequest.Context()
	}
	return context.Background()
}
