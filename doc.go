// Package metaform converts unstructured documents into JSON that follows a
// user-supplied JSON schema, using one or more LLM calls.
//
// # Strategy Selection
//
// The schema decides how the work is split. Analyze measures it:
//
//	score = num_fields + 5*depth + 0.01*num_enums
//
// and SelectStrategy maps the score to one of three plans:
//
//   - DirectPrompt (score < 100): one prompt with the full schema and text
//   - ChunkedInput (100 <= score <= 200): the schema or the text is split and
//     the chunks are extracted concurrently
//   - IterativeStitching (score > 200): sub-schemas are extracted one after
//     another, each step seeing the results confirmed before it
//
// # Basic Usage
//
//	caller, _ := metaform.NewOpenAICaller(metaform.OpenAIConfig{APIKey: key})
//	x := metaform.New(caller, slog.Default())
//
//	res, err := x.ExtractBytes(ctx, schemaJSON, text,
//	    metaform.WithModel("mistralai/mistral-7b-instruct"),
//	    metaform.WithCallTimeout(60*time.Second),
//	)
//	if err != nil {
//	    var noJSON *metaform.NoJSONFoundError
//	    if errors.As(err, &noJSON) {
//	        fmt.Println(noJSON.Raw) // what the model actually said
//	    }
//	    return err
//	}
//	out, _ := metaform.MarshalResult(res.Data)
//
// # Transparency
//
// Result.Units holds every prompt byte for byte as it was submitted, and
// Result.Responses the raw model output for each. DryRun builds the prompts
// without calling a model, and Explain renders the plan as text, JSON or DOT.
//
// # Model Callers
//
// Anything implementing ModelCaller can drive an extraction. The package ships
// OpenAICaller (any OpenAI-compatible endpoint, OpenRouter by default) and
// GeminiCaller, plus decorators for retries (RetryCaller), rate limiting
// (RateLimiter) and response caching (CachedCaller).
//
// # Prompt Templates
//
// Prompts are Twig templates rendered with stick. The defaults are embedded;
// override any of them with WithPromptProvider:
//
//	p, _ := metaform.DefaultPromptProvider(metaform.WithTemplates(map[string]string{
//	    metaform.TagDirect: "Schema:\n{{ schema }}\n\nText:\n{{ document }}\n\nReply with one ```json block.",
//	}))
//	res, err := x.Extract(ctx, schema, text, metaform.WithModel(model), metaform.WithPromptProvider(p))
package metaform
