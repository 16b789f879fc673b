package metaform

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/tyler-sommer/stick"
)

// Template tags used by the Builder.
const (
	TagDirect      = "direct"
	TagChunkSchema = "chunk_schema"
	TagChunkText   = "chunk_text"
	TagStitch      = "stitch"
)

//go:embed templates/*.twig
var defaultTemplates embed.FS

// StickPromptProvider renders Twig templates with stick. It is fs-agnostic.
type StickPromptProvider struct {
	env       *stick.Env
	templates map[string]string
	vars      map[string]any // available in all templates
}

// Option configures a StickPromptProvider.
type Option func(*StickPromptProvider) error

// WithFS loads every *.twig file found under dir in the supplied FS.
func WithFS[F fs.FS](fsys F, dir string) Option {
	return func(p *StickPromptProvider) error {
		return fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".twig") {
				return nil
			}
			content, readErr := fs.ReadFile(fsys, path)
			if readErr != nil {
				return fmt.Errorf("read %s: %w", path, readErr)
			}
			tag := strings.TrimSuffix(filepath.Base(path), ".twig")
			p.templates[tag] = string(content)
			return nil
		})
	}
}

// WithTemplates lets you inject an in-memory map. Entries override templates
// loaded by earlier options.
func WithTemplates(m map[string]string) Option {
	return func(p *StickPromptProvider) error {
		for k, v := range m {
			p.templates[k] = v
		}
		return nil
	}
}

// WithVar adds a variable that will be available in all templates.
func WithVar(key string, value any) Option {
	return func(p *StickPromptProvider) error {
		p.vars[key] = value
		return nil
	}
}

// NewStickPromptProvider builds a provider from any combination of options.
func NewStickPromptProvider(opts ...Option) (*StickPromptProvider, error) {
	p := &StickPromptProvider{
		env:       stick.New(nil),
		templates: make(map[string]string),
		vars:      make(map[string]any),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// DefaultPromptProvider returns a provider holding the embedded templates,
// with overrides applied on top.
func DefaultPromptProvider(overrides ...Option) (*StickPromptProvider, error) {
	opts := append([]Option{WithFS(defaultTemplates, "templates")}, overrides...)
	return NewStickPromptProvider(opts...)
}

// AddTemplate updates or inserts one template.
func (p *StickPromptProvider) AddTemplate(tag, tpl string) { p.templates[tag] = tpl }

// GetPrompt renders the template for the given tag with no unit variables.
func (p *StickPromptProvider) GetPrompt(tag string, version int) (string, error) {
	return p.Render(tag, map[string]any{"version": version})
}

// Render executes the template for tag. vars take precedence over the
// provider-wide variables.
func (p *StickPromptProvider) Render(tag string, vars map[string]any) (string, error) {
	tpl, ok := p.templates[tag]
	if !ok {
		return "", fmt.Errorf("template %q not found", tag)
	}

	templateCtx := make(map[string]stick.Value, len(p.vars)+len(vars)+1)
	templateCtx["tag"] = tag
	for k, v := range p.vars {
		templateCtx[k] = v
	}
	for k, v := range vars {
		templateCtx[k] = v
	}

	var out strings.Builder
	if err := p.env.Execute(tpl, &out, templateCtx); err != nil {
		return "", fmt.Errorf("execute %q: %w", tag, err)
	}
	return out.String(), nil
}

// SimplePromptProvider serves template sources from a map. The Builder
// renders what it returns with stick.
type SimplePromptProvider map[string]string

func (s SimplePromptProvider) GetPrompt(tag string, version int) (string, error) {
	if tpl, ok := s[tag]; ok {
		return tpl, nil
	}
	return "", fmt.Errorf("prompt %q not found", tag)
}

// contextual adapts any PromptProvider to ContextualPromptProvider by
// treating GetPrompt's output as a template source.
func contextual(p PromptProvider) ContextualPromptProvider {
	if cp, ok := p.(ContextualPromptProvider); ok {
		return cp
	}
	return sourceProvider{src: p, env: stick.New(nil)}
}

type sourceProvider struct {
	src PromptProvider
	env *stick.Env
}

func (s sourceProvider) GetPrompt(tag string, version int) (string, error) {
	return s.src.GetPrompt(tag, version)
}

func (s sourceProvider) Render(tag string, vars map[string]any) (string, error) {
	tpl, err := s.src.GetPrompt(tag, 1)
	if err != nil {
		return "", err
	}
	templateCtx := make(map[string]stick.Value, len(vars)+1)
	templateCtx["tag"] = tag
	for k, v := range vars {
		templateCtx[k] = v
	}
	var out strings.Builder
	if err := s.env.Execute(tpl, &out, templateCtx); err != nil {
		return "", fmt.Errorf("execute %q: %w", tag, err)
	}
	return out.String(), nil
}
