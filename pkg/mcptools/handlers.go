package mcptools

import (
	"context"
	"fmt"
	"slices"

	"github.com/CTAG07/ecg/pkg/compose"
	"github.com/CTAG07/ecg/pkg/registry"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ListOptionsInput is the input for the list_options MCP tool.
type ListOptionsInput struct {
	Group string `json:"group,omitempty" jsonschema:"only list this option group (feature or language)"`
}

// Option is one selectable key.
type Option struct {
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
	StartsEglot bool   `json:"startsEglot,omitempty"`
}

// ListOptionsOutput is the result of the list_options MCP tool.
type ListOptionsOutput struct {
	Version   string   `json:"version"`
	Themes    []string `json:"themes,omitempty"`
	Fonts     []string `json:"fonts,omitempty"`
	Features  []Option `json:"features,omitempty"`
	Languages []Option `json:"languages,omitempty"`
}

// GenerateConfigInput is the input for the generate_config MCP tool.
type GenerateConfigInput struct {
	Theme     string   `json:"theme,omitempty" jsonschema:"theme name; unknown or empty selects the default"`
	Font      string   `json:"font,omitempty" jsonschema:"font family; empty selects the default"`
	Features  []string `json:"features,omitempty" jsonschema:"feature keys in the order their blocks should appear"`
	Languages []string `json:"languages,omitempty" jsonschema:"language keys in the order their blocks should appear"`
}

// GenerateConfigOutput is the result of the generate_config MCP tool.
type GenerateConfigOutput struct {
	GenerationID string   `json:"generationId"`
	Theme        string   `json:"theme"`
	Font         string   `json:"font"`
	Features     []string `json:"features"`
	Languages    []string `json:"languages"`
	Config       string   `json:"config"`
}

// GeneratorService handles MCP tool calls against a Generator.
type GeneratorService struct {
	gen    Generator
	origin string
}

// NewGeneratorService creates a GeneratorService. origin tags the
// generations it produces.
func NewGeneratorService(gen Generator, origin string) *GeneratorService {
	return &GeneratorService{
		gen:    gen,
		origin: origin,
	}
}

func options(reg *registry.Registry, group registry.Group) []Option {
	hooks := reg.HookLanguages()
	entries := reg.Entries(group)
	out := make([]Option, 0, len(entries))
	for _, e := range entries {
		opt := Option{Key: e.Key, Description: e.Description}
		opt.StartsEglot = group == registry.GroupLanguage && slices.Contains(hooks, e.Key)
		out = append(out, opt)
	}
	return out
}

// ListOptions reports the registry contents, optionally for one group only.
func (s *GeneratorService) ListOptions(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ListOptionsInput,
) (*mcp.CallToolResult, ListOptionsOutput, error) {
	reg := s.gen.Registry()
	out := ListOptionsOutput{Version: reg.Version()}

	switch registry.Group(input.Group) {
	case registry.GroupFeature:
		out.Features = options(reg, registry.GroupFeature)
	case registry.GroupLanguage:
		out.Languages = options(reg, registry.GroupLanguage)
	case "":
		out.Themes = reg.Themes()
		out.Fonts = reg.Fonts()
		out.Features = options(reg, registry.GroupFeature)
		out.Languages = options(reg, registry.GroupLanguage)
	default:
		return nil, out, fmt.Errorf("unknown group %q, expected feature or language", input.Group)
	}
	return nil, out, nil
}

// GenerateConfig renders an init.el for the selection.
func (s *GeneratorService) GenerateConfig(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GenerateConfigInput,
) (*mcp.CallToolResult, GenerateConfigOutput, error) {
	gen, err := s.gen.Generate(ctx, compose.Request{
		Theme:     input.Theme,
		Font:      input.Font,
		Features:  input.Features,
		Languages: input.Languages,
	}, s.origin)
	if err != nil {
		return nil, GenerateConfigOutput{}, err
	}

	return nil, GenerateConfigOutput{
		GenerationID: gen.ID,
		Theme:        gen.Theme,
		Font:         gen.Font,
		Features:     gen.FeatureKeys,
		Languages:    gen.LanguageKeys,
		Config:       gen.Config,
	}, nil
}
