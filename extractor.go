package metaform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of one extraction request together with everything
// needed to show how it was produced.
type Result struct {
	RequestID string         `json:"requestId"`
	Metrics   Metrics        `json:"metrics"`
	Strategy  Strategy       `json:"strategy"`
	Units     []PromptUnit   `json:"units"`     // prompts exactly as submitted
	Responses []Response     `json:"responses"` // raw model output per unit
	Data      map[string]any `json:"data"`
	Warnings  []error        `json:"-"`
	Missing   []string       `json:"missing,omitempty"`
	Failed    []string       `json:"failed,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Extractor runs extraction requests. It holds no per-request state and is
// safe for concurrent use; everything request specific comes in through
// options.
type Extractor struct {
	caller ModelCaller
	log    *slog.Logger
}

// New returns an Extractor calling models through caller. A nil log uses
// slog.Default().
func New(caller ModelCaller, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{caller: caller, log: log}
}

// ExtractBytes parses schemaDoc and extracts text against it.
func (x *Extractor) ExtractBytes(ctx context.Context, schemaDoc []byte, text string, optFns ...func(*Options)) (*Result, error) {
	s, err := ParseSchema(schemaDoc)
	if err != nil {
		return nil, err
	}
	return x.Extract(ctx, s, text, optFns...)
}

// Extract converts text into JSON shaped by s.
func (x *Extractor) Extract(ctx context.Context, s *Schema, text string, optFns ...func(*Options)) (*Result, error) {
	opts := buildOptions(optFns)
	if x.caller == nil {
		return nil, ErrNoCaller
	}
	if opts.Model == "" {
		return nil, ErrModelMissing
	}

	res, builder, err := x.plan(s, text, opts)
	if err != nil {
		return nil, err
	}
	log := x.log.With("request_id", res.RequestID)
	log.Debug("=== EXTRACTION STARTED ===",
		"model", opts.Model,
		"strategy", res.Strategy,
		"metrics", res.Metrics.String(),
		"document_length", len(text))

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		log.Debug("Set timeout", "timeout", opts.Timeout)
	}

	caller := x.caller
	if opts.MaxRetries > 0 {
		caller = RetryCaller(caller, opts.MaxRetries, opts.Backoff, log)
	}
	orch := NewOrchestrator(caller, log, opts)
	asm := NewAssembler(s, log, opts)
	start := time.Now()

	var assembly *Assembly
	if res.Strategy == IterativeStitching {
		assembly, err = x.stitch(ctx, s, text, builder, orch, asm, opts, res)
	} else {
		assembly, err = x.fanOut(ctx, orch, asm, res)
	}
	res.Duration = time.Since(start)
	if err != nil {
		log.Debug("Extraction failed", "error", err, "duration", res.Duration)
		return nil, err
	}

	res.Data = assembly.Data
	res.Warnings = assembly.Warnings
	res.Missing = assembly.Missing
	res.Failed = assembly.Failed
	for _, w := range res.Warnings {
		log.Warn("Result does not fully match schema", "warning", w)
	}
	log.Info("Extraction completed successfully",
		"strategy", res.Strategy,
		"calls", len(res.Responses),
		"failed", len(res.Failed),
		"duration", res.Duration)
	return res, nil
}

func (x *Extractor) fanOut(ctx context.Context, orch *Orchestrator, asm *Assembler, res *Result) (*Assembly, error) {
	responses, callErr := orch.Run(ctx, res.Units)
	res.Responses = responses
	if callErr != nil && ctx.Err() != nil {
		return nil, callErr
	}
	return asm.Assemble(res.Strategy, responses)
}

func (x *Extractor) stitch(ctx context.Context, s *Schema, text string, b *Builder, orch *Orchestrator, asm *Assembler, opts Options, res *Result) (*Assembly, error) {
	seq, err := b.Stitching(s, text)
	if err != nil {
		return nil, err
	}
	responses, stitchErr := orch.Stitch(ctx, seq)
	res.Responses = responses
	res.Units = res.Units[:0]
	for _, r := range responses {
		res.Units = append(res.Units, r.Unit)
	}
	if stitchErr == nil {
		return asm.Assemble(IterativeStitching, responses)
	}
	if !opts.AllowPartial || ctx.Err() != nil || !hasSuccess(responses) {
		return nil, stitchErr
	}

	assembly, err := asm.Assemble(IterativeStitching, responses)
	if err != nil {
		return nil, errors.Join(stitchErr, err)
	}
	// steps never built after the halt
	for k := len(responses); k < seq.Len(); k++ {
		assembly.Missing = append(assembly.Missing, seq.Paths(k)...)
	}
	return assembly, nil
}

func hasSuccess(responses []Response) bool {
	for _, r := range responses {
		if r.Err == nil {
			return true
		}
	}
	return false
}

// DryRun analyzes the schema and builds every prompt without calling a
// model. For iterative stitching the prompts carry no prior results.
func (x *Extractor) DryRun(s *Schema, text string, optFns ...func(*Options)) (*Result, error) {
	res, _, err := x.plan(s, text, buildOptions(optFns))
	if err != nil {
		return nil, err
	}
	x.log.Debug("Dry run completed", "request_id", res.RequestID, "strategy", res.Strategy, "units", len(res.Units))
	return res, nil
}

// Explain renders the plan of a dry run in format.
func (x *Extractor) Explain(s *Schema, text string, format FormatType, optFns ...func(*Options)) (string, error) {
	opts := buildOptions(optFns)
	res, _, err := x.plan(s, text, opts)
	if err != nil {
		return "", err
	}
	pb := NewPlanBuilder().WithMetrics(res.Metrics, res.Strategy).WithUnits(res.Units).WithModel(opts.Model)
	plan, err := pb.ExplainWithCosts(DefaultModelPricing())
	if err != nil {
		return "", err
	}
	return pb.FormatPlan(plan, format)
}

// plan runs everything up to the first model call.
func (x *Extractor) plan(s *Schema, text string, opts Options) (*Result, *Builder, error) {
	if s == nil {
		return nil, nil, ErrMissingSchema
	}
	res := &Result{RequestID: uuid.NewString(), Metrics: Analyze(s)}
	res.Strategy = SelectStrategy(res.Metrics.Score)
	if opts.Strategy != nil {
		res.Strategy = *opts.Strategy
	}

	builder, err := NewBuilder(opts)
	if err != nil {
		return nil, nil, err
	}
	units, err := builder.Build(res.Strategy, s, text)
	if err != nil {
		return nil, nil, fmt.Errorf("build prompts: %w", err)
	}
	res.Units = units
	return res, builder, nil
}

func buildOptions(optFns []func(*Options)) Options {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.applyDefaults()
	return opts
}
