package metaform

import (
	"context"
	"time"
)

// ModelCaller sends one prompt to a model and returns the raw response text.
type ModelCaller interface {
	Call(ctx context.Context, model, prompt string) (string, error)
}

// CallerFunc adapts a function to ModelCaller.
type CallerFunc func(ctx context.Context, model, prompt string) (string, error)

func (f CallerFunc) Call(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

// Runner lets the orchestrator schedule independent calls with any
// concurrency model.
type Runner interface {
	Go(fn func() error) // schedule
	Wait() error        // join / propagate first err
}

// PromptProvider should return the prompt template text for the given tag.
type PromptProvider interface {
	GetPrompt(tag string, version int) (string, error)
}

// ContextualPromptProvider renders a template with the variables of one
// prompt unit.
type ContextualPromptProvider interface {
	PromptProvider
	Render(tag string, vars map[string]any) (string, error)
}

const (
	DefaultTokenBudget    = 1500
	DefaultMinChunks      = 2
	DefaultMaxConcurrency = 4
)

// Options is the per-request configuration. Nothing here is process-wide:
// two concurrent requests may use different models, limits and templates.
type Options struct {
	Model          string
	Timeout        time.Duration  // whole request
	CallTimeout    time.Duration  // each model call
	MaxConcurrency int            // 0 → DefaultMaxConcurrency
	TokenBudget    int            // 0 → DefaultTokenBudget
	MinChunks      int            // 0 → DefaultMinChunks
	MaxRetries     int            // 0 → no retry
	Backoff        time.Duration  // first retry delay, doubled per attempt
	AllowPartial   bool           // assemble what succeeded when chunks fail
	Validate       bool           // run full JSON-Schema validation on the result
	Prompts        PromptProvider // nil → embedded templates
	Strategy       *Strategy      // force a strategy instead of the selected one

	// Runner builds the scheduler for independent calls; nil → bounded errgroup.
	Runner func(ctx context.Context) Runner
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.TokenBudget <= 0 {
		o.TokenBudget = DefaultTokenBudget
	}
	if o.MinChunks <= 0 {
		o.MinChunks = DefaultMinChunks
	}
}

// Functional option constructors
func WithModel(name string) func(*Options) {
	return func(o *Options) { o.Model = name }
}

func WithTimeout(d time.Duration) func(*Options) {
	return func(o *Options) { o.Timeout = d }
}

func WithCallTimeout(d time.Duration) func(*Options) {
	return func(o *Options) { o.CallTimeout = d }
}

func WithConcurrency(n int) func(*Options) {
	return func(o *Options) { o.MaxConcurrency = n }
}

func WithRunner(fn func(ctx context.Context) Runner) func(*Options) {
	return func(o *Options) { o.Runner = fn }
}

func WithTokenBudget(tokens int) func(*Options) {
	return func(o *Options) { o.TokenBudget = tokens }
}

func WithMinChunks(n int) func(*Options) {
	return func(o *Options) { o.MinChunks = n }
}

func WithRetry(max int, backoff time.Duration) func(*Options) {
	return func(o *Options) {
		o.MaxRetries = max
		o.Backoff = backoff
	}
}

// WithAllowPartial assembles the chunks that succeeded instead of failing the
// request when some independent calls fail. Missing paths are reported.
func WithAllowPartial() func(*Options) {
	return func(o *Options) { o.AllowPartial = true }
}

func WithValidation() func(*Options) {
	return func(o *Options) { o.Validate = true }
}

func WithPromptProvider(p PromptProvider) func(*Options) {
	return func(o *Options) { o.Prompts = p }
}

// WithStrategy bypasses the selector. Useful for previews and tests.
func WithStrategy(s Strategy) func(*Options) {
	return func(o *Options) { o.Strategy = &s }
}
