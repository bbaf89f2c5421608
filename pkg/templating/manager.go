package templating

import (
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	texttemplate "text/template"
)

const (
	pagePattern     = "*.tmpl.html"
	partialPattern  = "*.part.html"
	documentPattern = "*.el.tmpl"
)

// ErrNotFound is returned when executing a template name that is not loaded.
var ErrNotFound = errors.New("template not found")

// TemplateManager is the central controller for the templating engine.
// It owns the parsed page and document template sets and reloads them on
// demand. All methods are concurrent-safe.
type TemplateManager struct {
	logger        *slog.Logger
	config        *TemplateConfig
	pages         *htmltemplate.Template
	documents     *texttemplate.Template
	cleanDocs     *texttemplate.Template
	pageNames     []string
	documentNames []string
	funcs         map[string]any
	changed       chan struct{}
	mu            sync.RWMutex
}

// NewTemplateManager creates, initializes, and returns a new TemplateManager.
// It performs an initial Refresh, so a broken template directory is reported
// here rather than on the first request.
func NewTemplateManager(logger *slog.Logger, config *TemplateConfig) (*TemplateManager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	tm := &TemplateManager{
		logger:  logger,
		config:  config,
		funcs:   funcMap(),
		changed: make(chan struct{}, 1),
	}

	if err := tm.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized", "source", tm.sourceName())
	return tm, nil
}

// SetConfig applies a new configuration. Call Refresh afterwards to load
// templates from the new source. A running Watch follows changes to
// TemplateDir and Watch.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	old := tm.config
	tm.config = config
	if old.TemplateDir != config.TemplateDir || old.Watch != config.Watch {
		select {
		case tm.changed <- struct{}{}:
		default:
		}
	}
}

func (tm *TemplateManager) source() fs.FS {
	if tm.config.TemplateDir != "" {
		return os.DirFS(tm.config.TemplateDir)
	}
	return templatesFS()
}

func (tm *TemplateManager) sourceName() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.config.TemplateDir != "" {
		return tm.config.TemplateDir
	}
	return "embedded"
}

func noFiles(err error) bool {
	return err != nil && strings.Contains(err.Error(), "pattern matches no files")
}

// Refresh reloads all templates from the configured source. If parsing fails
// the previously loaded templates stay in place and the error is returned.
func (tm *TemplateManager) Refresh() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	src := tm.source()

	tm.logger.Debug("Loading page templates...")
	pages, err := htmltemplate.New("").Funcs(tm.funcs).ParseFS(src, pagePattern)
	if err != nil {
		if !noFiles(err) {
			tm.logger.Error("failed to parse page templates", "error", err)
			return err
		}
		pages = htmltemplate.New("").Funcs(tm.funcs)
	}
	withPartials, err := pages.ParseFS(src, partialPattern)
	if err != nil {
		if !noFiles(err) {
			tm.logger.Error("failed to parse partial templates", "error", err)
			return err
		}
		withPartials = pages
	}

	tm.logger.Debug("Loading document templates...")
	documents, err := texttemplate.New("").Funcs(tm.funcs).ParseFS(src, documentPattern)
	if err != nil {
		if !noFiles(err) {
			tm.logger.Error("failed to parse document templates", "error", err)
			return err
		}
		documents = texttemplate.New("").Funcs(tm.funcs)
	}

	cleanDocs, err := documents.Clone()
	if err != nil {
		tm.logger.Error("failed to create a clean clone of document templates", "error", err)
		return err
	}

	var pageNames, documentNames []string
	for _, t := range withPartials.Templates() {
		if strings.HasSuffix(t.Name(), ".tmpl.html") {
			pageNames = append(pageNames, t.Name())
		}
	}
	for _, t := range documents.Templates() {
		if strings.HasSuffix(t.Name(), ".el.tmpl") {
			documentNames = append(documentNames, t.Name())
		}
	}
	slices.Sort(pageNames)
	slices.Sort(documentNames)

	if len(pageNames) == 0 {
		tm.logger.Warn("No page templates found", "pattern", pagePattern)
	}
	if len(documentNames) == 0 {
		tm.logger.Warn("No document templates found", "pattern", documentPattern)
	}

	tm.pages = withPartials
	tm.documents = documents
	tm.cleanDocs = cleanDocs
	tm.pageNames = pageNames
	tm.documentNames = documentNames
	tm.logger.Info("Loaded templates", "pages", len(pageNames), "documents", len(documentNames))
	return nil
}

// Execute renders the HTML page template name to w.
func (tm *TemplateManager) Execute(w io.Writer, name string, data any) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.pages.Lookup(name) == nil {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return tm.pages.ExecuteTemplate(w, name, data)
}

// ExecuteDocument renders the configuration document template name to w.
func (tm *TemplateManager) ExecuteDocument(w io.Writer, name string, data any) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.documents.Lookup(name) == nil {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return tm.documents.ExecuteTemplate(w, name, data)
}

// ExecuteTemplateString parses and executes a raw document template using the
// manager's function map. Loaded document templates can be referenced from
// content. Nothing is stored, so this is suited to previews.
func (tm *TemplateManager) ExecuteTemplateString(w io.Writer, content string, data any) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	tempSet, err := tm.cleanDocs.Clone()
	if err != nil {
		return fmt.Errorf("failed to clone clean templates for string execution: %w", err)
	}

	t, err := tempSet.New("preview").Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse string template: %w", err)
	}

	return t.Execute(w, data)
}

// GetConfig returns a copy of the current configuration.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// GetPageNames returns the names of the loaded page templates.
func (tm *TemplateManager) GetPageNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return slices.Clone(tm.pageNames)
}

// GetDocumentNames returns the names of the loaded document templates.
func (tm *TemplateManager) GetDocumentNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return slices.Clone(tm.documentNames)
}
