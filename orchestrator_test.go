package metaform

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUnits(n int) []PromptUnit {
	units := make([]PromptUnit, n)
	for i := range units {
		units[i] = PromptUnit{Strategy: ChunkedInput, Index: i, Total: n, Target: TargetSchema, Prompt: fmt.Sprintf("p%d", i)}
	}
	return units
}

func TestOrchestrator_Run(t *testing.T) {
	caller := &fakeCaller{respond: func(_ int, prompt string) (string, error) {
		return "answer to " + prompt, nil
	}}
	o := NewOrchestrator(caller, quietLogger(), Options{Model: "m"})

	responses, err := o.Run(context.Background(), testUnits(3))
	require.NoError(t, err)
	require.Len(t, responses, 3)
	for i, r := range responses {
		assert.Equal(t, i, r.Unit.Index)
		assert.Equal(t, fmt.Sprintf("answer to p%d", i), r.Raw)
		assert.NoError(t, r.Err)
	}
	assert.Equal(t, 3, caller.count())
}

func TestOrchestrator_RunPartialFailure(t *testing.T) {
	caller := &fakeCaller{respond: func(_ int, prompt string) (string, error) {
		if prompt == "p1" {
			return "", errors.New("provider unavailable")
		}
		return "{}", nil
	}}
	o := NewOrchestrator(caller, quietLogger(), Options{Model: "m"})

	responses, err := o.Run(context.Background(), testUnits(3))
	require.Error(t, err)
	assert.Equal(t, 3, caller.count(), "independent calls still run")

	var callErr *ModelCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "chunk 2/3", callErr.Unit)
	assert.Equal(t, 1, callErr.Index)
	assert.Equal(t, "m", callErr.Model)
	assert.False(t, callErr.Timeout())

	assert.Equal(t, "{}", responses[0].Raw)
	assert.Error(t, responses[1].Err)
	assert.Equal(t, "{}", responses[2].Raw)
}

func TestOrchestrator_RunHonoursConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	caller := &fakeCaller{respond: func(int, string) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "{}", nil
	}}
	o := NewOrchestrator(caller, quietLogger(), Options{Model: "m", MaxConcurrency: 2})

	_, err := o.Run(context.Background(), testUnits(8))
	require.NoError(t, err)
	assert.Equal(t, 8, caller.count())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestOrchestrator_RunSequentialRunner(t *testing.T) {
	caller := fixed("{}")
	o := NewOrchestrator(caller, quietLogger(), Options{
		Model:  "m",
		Runner: func(context.Context) Runner { return &SequentialRunner{} },
	})

	_, err := o.Run(context.Background(), testUnits(4))
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "p1", "p2", "p3"}, caller.prompts)
}

func TestOrchestrator_RunCancelled(t *testing.T) {
	caller := fixed("{}")
	o := NewOrchestrator(caller, quietLogger(), Options{Model: "m"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	responses, err := o.Run(ctx, testUnits(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, caller.count(), "no call is issued after cancellation")
	for _, r := range responses {
		assert.True(t, errors.Is(r.Err, context.Canceled))
	}
}

func TestOrchestrator_RunCancelInFlight(t *testing.T) {
	caller := newBlockingCaller()
	o := NewOrchestrator(caller, quietLogger(), Options{Model: "m"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-caller.started
		cancel()
	}()
	_, err := o.Run(ctx, testUnits(2))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestOrchestrator_CallTimeout(t *testing.T) {
	t.Run("caller honours ctx", func(t *testing.T) {
		o := NewOrchestrator(newBlockingCaller(), quietLogger(), Options{Model: "m", CallTimeout: 20 * time.Millisecond})
		responses, err := o.Run(context.Background(), testUnits(1))
		require.Error(t, err)

		var callErr *ModelCallError
		require.True(t, errors.As(responses[0].Err, &callErr))
		assert.True(t, callErr.Timeout())
	})

	t.Run("caller ignores ctx", func(t *testing.T) {
		slow := CallerFunc(func(context.Context, string, string) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "", errors.New("gateway timeout")
		})
		o := NewOrchestrator(slow, quietLogger(), Options{Model: "m", CallTimeout: 5 * time.Millisecond})
		_, err := o.Run(context.Background(), testUnits(1))

		var callErr *ModelCallError
		require.True(t, errors.As(err, &callErr))
		assert.True(t, callErr.Timeout())
		assert.ErrorContains(t, err, "gateway timeout")
	})
}

// stitchAnswers answers the invoice stitching steps in order.
var stitchAnswers = []string{
	`{"invoice_number":"INV-1"}`,
	`{"vendor":{"name":"Acme","address":"1 Main Street"}}`,
	`{"status":"paid"}`,
	`{"lines":[{"description":"Widgets","amount":120.5}]}`,
	`{"tags":["hardware"]}`,
}

func newInvoiceSequence(t *testing.T) *StitchSequence {
	t.Helper()
	seq, err := newTestBuilder(t).Stitching(MustParseSchema([]byte(invoiceSchema)), invoiceText)
	require.NoError(t, err)
	require.Equal(t, len(stitchAnswers), seq.Len())
	return seq
}

func TestOrchestrator_Stitch(t *testing.T) {
	caller := &fakeCaller{respond: func(n int, _ string) (string, error) {
		return fenced(stitchAnswers[n-1]), nil
	}}
	o := NewOrchestrator(caller, quietLogger(), Options{Model: "m"})

	responses, err := o.Stitch(context.Background(), newInvoiceSequence(t))
	require.NoError(t, err)
	require.Len(t, responses, 5)
	assert.Equal(t, 5, caller.count())

	assert.NotContains(t, caller.prompts[0], "Already confirmed")
	assert.Contains(t, caller.prompts[1], `"invoice_number": "INV-1"`)
	assert.Contains(t, caller.prompts[4], `"status": "paid"`)
	assert.Contains(t, caller.prompts[4], `"name": "Acme"`)
	for i, r := range responses {
		assert.Equal(t, i, r.Unit.Index)
		assert.Equal(t, TargetStep, r.Unit.Target)
	}
}

func TestOrchestrator_StitchHaltsOnFailure(t *testing.T) {
	caller := &fakeCaller{respond: func(n int, _ string) (string, error) {
		if n == 3 {
			return "", errors.New("rate limited")
		}
		return fenced(stitchAnswers[n-1]), nil
	}}
	o := NewOrchestrator(caller, quietLogger(), Options{Model: "m"})

	responses, err := o.Stitch(context.Background(), newInvoiceSequence(t))
	require.Error(t, err)
	assert.Equal(t, 3, caller.count(), "no step after the failed one is built")
	require.Len(t, responses, 3)
	assert.Error(t, responses[2].Err)

	var callErr *ModelCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "step 3/5", callErr.Unit)
}

func TestOrchestrator_StitchHaltsOnUnusableResponse(t *testing.T) {
	caller := fixed("I could not find anything.")
	o := NewOrchestrator(caller, quietLogger(), Options{Model: "m"})

	responses, err := o.Stitch(context.Background(), newInvoiceSequence(t))
	var noJSON *NoJSONFoundError
	require.True(t, errors.As(err, &noJSON))
	assert.Equal(t, "step 1/5", noJSON.Unit)
	assert.Equal(t, "I could not find anything.", noJSON.Raw)
	assert.Equal(t, 1, caller.count())
	require.Len(t, responses, 1)
}

func TestOrchestrator_StitchCancelledDiscardsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	caller := &fakeCaller{respond: func(n int, _ string) (string, error) {
		if n == 2 {
			cancel()
			return "", context.Canceled
		}
		return fenced(stitchAnswers[n-1]), nil
	}}
	o := NewOrchestrator(caller, quietLogger(), Options{Model: "m"})

	responses, err := o.Stitch(ctx, newInvoiceSequence(t))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, responses)
	assert.Equal(t, 2, caller.count())
}
