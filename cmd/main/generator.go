package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/CTAG07/ecg/pkg/compose"
	"github.com/CTAG07/ecg/pkg/registry"
	"github.com/CTAG07/ecg/pkg/templating"
	"github.com/google/uuid"
)

const documentTemplate = "init.el.tmpl"

// Origins recorded with each generation.
const (
	originSite = "site"
	originAPI  = "api"
	originMCP  = "mcp"
)

var errRender = errors.New("failed to render template")

// Recorder stores generation statistics.
type Recorder interface {
	RecordGeneration(ctx context.Context, gen *compose.Generation, origin string) error
}

// Generator turns requests into rendered init.el documents. It is shared by
// the site handlers, the admin API and the MCP tools.
type Generator struct {
	reg      *registry.Registry
	tm       *templating.TemplateManager
	defaults compose.Defaults
	recorder Recorder
	logger   *slog.Logger
}

// NewGenerator creates a Generator. recorder may be nil to disable statistics.
func NewGenerator(reg *registry.Registry, tm *templating.TemplateManager, config *GeneratorConfig, recorder Recorder, logger *slog.Logger) *Generator {
	return &Generator{
		reg:      reg,
		tm:       tm,
		defaults: config.Defaults,
		recorder: recorder,
		logger:   logger,
	}
}

// Registry returns the option registry of the current server cycle.
func (g *Generator) Registry() *registry.Registry {
	return g.reg
}

// Generate assembles and renders req. A failure to record statistics is
// logged and does not fail the generation.
func (g *Generator) Generate(ctx context.Context, req compose.Request, origin string) (*compose.Generation, error) {
	doc := compose.Assemble(g.reg, req, g.defaults)

	var buf bytes.Buffer
	if err := g.tm.ExecuteDocument(&buf, documentTemplate, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errRender, err)
	}

	gen := &compose.Generation{
		ID:       uuid.NewString(),
		Document: doc,
		Config:   buf.String(),
	}

	if g.recorder != nil {
		if err := g.recorder.RecordGeneration(ctx, gen, origin); err != nil {
			g.logger.Warn("Failed to record generation", "generation_id", gen.ID, "error", err)
		}
	}

	g.logger.Info("Generated config",
		"generation_id", gen.ID,
		"origin", origin,
		"theme", doc.Theme,
		"features", doc.FeatureKeys,
		"languages", doc.LanguageKeys)
	return gen, nil
}
