package metaform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Response is the outcome of one model call.
type Response struct {
	Unit    PromptUnit    `json:"unit"`
	Raw     string        `json:"raw"`
	Latency time.Duration `json:"latency"`
	Err     error         `json:"-"`

	issued bool
}

// Orchestrator issues the model calls of one request.
type Orchestrator struct {
	caller      ModelCaller
	model       string
	callTimeout time.Duration
	runner      func(ctx context.Context) Runner
	log         *slog.Logger
}

// NewOrchestrator creates an orchestrator calling model through caller.
func NewOrchestrator(caller ModelCaller, log *slog.Logger, o Options) *Orchestrator {
	o.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	runner := o.Runner
	if runner == nil {
		limit := o.MaxConcurrency
		runner = func(ctx context.Context) Runner { return NewLimitedRunner(ctx, limit) }
	}
	return &Orchestrator{
		caller:      caller,
		model:       o.Model,
		callTimeout: o.CallTimeout,
		runner:      runner,
		log:         log,
	}
}

// Run calls the model once per unit. Units are independent and run
// concurrently up to the configured limit; responses come back in unit
// order. Every failure is recorded on its response and all of them are
// joined into the returned error.
func (o *Orchestrator) Run(ctx context.Context, units []PromptUnit) ([]Response, error) {
	responses := make([]Response, len(units))
	r := o.runner(ctx)
	for i, u := range units {
		r.Go(func() error {
			responses[i] = o.call(ctx, u)
			return nil // one failed unit must not cancel the others
		})
	}
	runErr := r.Wait()

	var errs []error
	for i := range responses {
		if !responses[i].issued {
			cause := ctx.Err()
			if cause == nil {
				cause = runErr
			}
			if cause == nil {
				cause = errors.New("call not issued")
			}
			responses[i] = Response{Unit: units[i], Err: o.callError(units[i], cause)}
		}
		if responses[i].Err != nil {
			errs = append(errs, responses[i].Err)
		}
	}
	return responses, errors.Join(errs...)
}

// Stitch runs a stitching sequence strictly in order. Step k+1 is built only
// after step k was answered and its JSON merged; the first failure halts the
// sequence. The responses up to and including the failed step are returned
// with the error, unless the context was cancelled, in which case the
// partial result is discarded.
func (o *Orchestrator) Stitch(ctx context.Context, seq *StitchSequence) ([]Response, error) {
	responses := make([]Response, 0, seq.Len())
	confirmed := map[string]any{}
	for k := 0; k < seq.Len(); k++ {
		if err := ctx.Err(); err != nil {
			o.log.Debug("Stitching cancelled", "step", k+1, "error", err)
			return nil, &ModelCallError{Unit: fmt.Sprintf("step %d/%d", k+1, seq.Len()), Index: k, Model: o.model, Err: err}
		}
		unit, err := seq.Unit(k, confirmed)
		if err != nil {
			return responses, fmt.Errorf("build step %d: %w", k+1, err)
		}
		resp := o.call(ctx, unit)
		if resp.Err != nil {
			if ctx.Err() != nil {
				return nil, resp.Err
			}
			return append(responses, resp), resp.Err
		}
		frag, err := ParseResponse(resp.Raw)
		if err != nil {
			resp.Err = withUnit(err, unit.Label())
			o.log.Debug("Stitching step returned no usable JSON", "unit", unit.Label(), "error", resp.Err)
			return append(responses, resp), resp.Err
		}
		responses = append(responses, resp)
		confirmed = deepMerge(seq.schema, confirmed, frag)
		o.log.Debug("Stitching step merged", "unit", unit.Label(), "keys", len(frag))
	}
	return responses, nil
}

func (o *Orchestrator) call(ctx context.Context, u PromptUnit) Response {
	resp := Response{Unit: u, issued: true}
	if err := ctx.Err(); err != nil {
		resp.Err = o.callError(u, err)
		return resp
	}

	callCtx := ctx
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}

	o.log.Debug("Calling model", "unit", u.Label(), "model", o.model, "prompt_length", len(u.Prompt))
	start := time.Now()
	raw, err := o.caller.Call(callCtx, o.model, u.Prompt)
	resp.Latency = time.Since(start)
	if err != nil {
		// callers that ignore ctx still report the expired deadline
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		o.log.Warn("Model call failed", "unit", u.Label(), "model", o.model, "latency", resp.Latency, "error", err)
		resp.Err = o.callError(u, err)
		return resp
	}
	resp.Raw = raw
	o.log.Debug("Model call completed", "unit", u.Label(), "model", o.model, "latency", resp.Latency, "response_length", len(raw))
	return resp
}

func (o *Orchestrator) callError(u PromptUnit, err error) *ModelCallError {
	return &ModelCallError{Unit: u.Label(), Index: u.Index, Model: o.model, Err: err}
}
