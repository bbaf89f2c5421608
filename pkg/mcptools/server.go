// Package mcptools exposes the config generator to MCP clients.
package mcptools

import (
	"context"
	"net/http"

	"github.com/CTAG07/ecg/pkg/compose"
	"github.com/CTAG07/ecg/pkg/registry"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// Generator renders init.el documents. Generations are tagged with origin.
type Generator interface {
	Registry() *registry.Registry
	Generate(ctx context.Context, req compose.Request, origin string) (*compose.Generation, error)
}

// NewGeneratorMCPServer creates an MCP server with the list_options and
// generate_config tools registered.
func NewGeneratorMCPServer(svc *GeneratorService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "emacs-config-generator",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_options",
		Description: "List the themes, fonts, features and languages that can be selected when generating an Emacs init.el.",
	}, svc.ListOptions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_config",
		Description: "Generate an Emacs init.el from a theme, a font and lists of feature and language keys. Unknown keys are ignored.",
	}, svc.GenerateConfig)

	return server
}

// Handler serves server over the streamable HTTP transport.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)
}
