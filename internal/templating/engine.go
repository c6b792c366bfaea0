package templating

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"sync"
	"text/template"

	"github.com/yegors/clara/pkg/logger"
)

//go:embed prompts/*.tmpl
var defaultPrompts embed.FS

// Prompt names a prompt template
type Prompt string

const (
	PromptEncounter  Prompt = "encounter"
	PromptSynthesis  Prompt = "synthesis"
	PromptNearbyCare Prompt = "nearby_care"
)

// Engine handles template loading, caching, and rendering. Each prompt has
// an embedded default that a file path may override.
type Engine struct {
	overrides     map[Prompt]string
	templateCache map[Prompt]*template.Template
	cacheMutex    sync.RWMutex
	logger        *logger.Logger
}

// NewEngine creates a new template engine. overrides maps prompts to
// template files; prompts without an entry use the embedded default.
func NewEngine(overrides map[Prompt]string, logger *logger.Logger) *Engine {
	o := make(map[Prompt]string, len(overrides))
	for k, v := range overrides {
		if v != "" {
			o[k] = v
		}
	}
	return &Engine{
		overrides:     o,
		templateCache: make(map[Prompt]*template.Template),
		logger:        logger.Named("template-engine"),
	}
}

// Render executes the named prompt with data
func (e *Engine) Render(name Prompt, data any) (string, error) {
	tmpl, err := e.getTemplate(name)
	if err != nil {
		return "", fmt.Errorf("failed to get template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	rendered := buf.String()
	e.logger.Debug("Template rendered successfully",
		logger.String("template", string(name)),
		logger.Int("rendered_length", len(rendered)))

	return rendered, nil
}

// getTemplate retrieves a template from cache or loads it
func (e *Engine) getTemplate(name Prompt) (*template.Template, error) {
	e.cacheMutex.RLock()
	if tmpl, exists := e.templateCache[name]; exists {
		e.cacheMutex.RUnlock()
		return tmpl, nil
	}
	e.cacheMutex.RUnlock()

	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	// Double-check in case another goroutine loaded it while we were waiting
	if tmpl, exists := e.templateCache[name]; exists {
		return tmpl, nil
	}

	tmpl, err := e.loadTemplate(name)
	if err != nil {
		return nil, err
	}
	e.templateCache[name] = tmpl
	e.logger.Debug("Template loaded and cached", logger.String("template", string(name)))
	return tmpl, nil
}

// loadTemplate reads the override file if configured, else the embedded default
func (e *Engine) loadTemplate(name Prompt) (*template.Template, error) {
	var (
		content []byte
		err     error
		source  string
	)
	if path, ok := e.overrides[name]; ok {
		source = path
		content, err = os.ReadFile(path)
	} else {
		source = "prompts/" + string(name) + ".tmpl"
		content, err = defaultPrompts.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read template '%s': %w", source, err)
	}

	tmpl, err := template.New(string(name)).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", source, err)
	}
	return tmpl, nil
}

// ReloadTemplate forces a template to be reloaded
func (e *Engine) ReloadTemplate(name Prompt) error {
	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	tmpl, err := e.loadTemplate(name)
	if err != nil {
		return err
	}
	e.templateCache[name] = tmpl
	e.logger.Info("Template reloaded", logger.String("template", string(name)))
	return nil
}

// ReloadAllTemplates reloads every cached template. A template that fails
// to reload keeps its previous version.
func (e *Engine) ReloadAllTemplates() error {
	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	var errors []string
	reloadedCount := 0

	for name := range e.templateCache {
		tmpl, err := e.loadTemplate(name)
		if err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		e.templateCache[name] = tmpl
		reloadedCount++
	}

	if len(errors) > 0 {
		e.logger.Error("Some templates failed to reload",
			logger.Int("successful", reloadedCount),
			logger.Int("failed", len(errors)))
		return fmt.Errorf("failed to reload %d templates: %v", len(errors), errors)
	}

	e.logger.Info("All templates reloaded successfully", logger.Int("count", reloadedCount))
	return nil
}

// ClearCache clears the template cache
func (e *Engine) ClearCache() {
	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	templateCount := len(e.templateCache)
	e.templateCache = make(map[Prompt]*template.Template)
	e.logger.Info("Template cache cleared", logger.Int("cleared_count", templateCount))
}

// CachedCount returns the number of cached templates
func (e *Engine) CachedCount() int {
	e.cacheMutex.RLock()
	defer e.cacheMutex.RUnlock()
	return len(e.templateCache)
}
