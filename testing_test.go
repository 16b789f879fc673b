package metaform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// fakeCaller answers prompts with a deterministic function and records every
// call it receives.
type fakeCaller struct {
	respond func(n int, prompt string) (string, error)

	calls   atomic.Int32
	mu      sync.Mutex
	prompts []string
}

func (f *fakeCaller) Call(ctx context.Context, model, prompt string) (string, error) {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.respond(n, prompt)
}

func (f *fakeCaller) count() int { return int(f.calls.Load()) }

// fixed returns a caller that always answers with raw.
func fixed(raw string) *fakeCaller {
	return &fakeCaller{respond: func(int, string) (string, error) { return raw, nil }}
}

// fenced wraps a JSON body the way models usually answer.
func fenced(body string) string {
	return "Here is the result:\n```json\n" + body + "\n```\n"
}

// blockingCaller waits for ctx to end before returning.
type blockingCaller struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingCaller() *blockingCaller {
	return &blockingCaller{started: make(chan struct{})}
}

func (b *blockingCaller) Call(ctx context.Context, model, prompt string) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return "", ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flatSchema builds a schema with n top-level string fields named f01, f02...
func flatSchema(n int) []byte {
	var sb strings.Builder
	sb.WriteString(`{"type":"object","properties":{`)
	for i := 1; i <= n; i++ {
		if i > 1 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, `"f%02d":{"type":"string","description":"field number %d"}`, i, i)
	}
	sb.WriteString(`}}`)
	return []byte(sb.String())
}

const invoiceSchema = `{
  "type": "object",
  "required": ["invoice_number", "vendor"],
  "properties": {
    "invoice_number": {"type": "string"},
    "vendor": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "address": {"type": "string"}
      }
    },
    "status": {"type": "string", "enum": ["paid", "open", "overdue"]},
    "lines": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "description": {"type": "string"},
          "amount": {"type": "number"}
        }
      }
    },
    "tags": {"type": "array", "items": {"type": "string"}, "x-singular": true}
  }
}`

const invoiceText = `INVOICE INV-2024-001
Vendor: Acme Corp, 1 Main Street
Status: paid
Widgets 120.50
Gadgets 80.00`
