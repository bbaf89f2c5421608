package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/ecg/pkg/compose"
	"github.com/CTAG07/ecg/pkg/templating"
	"github.com/natefinch/atomic"
)

const maxTemplateBytes = 1 << 20

var templateSuffixes = []string{".tmpl.html", ".part.html", ".el.tmpl"}

// TemplateList is the response of /api/templates.
type TemplateList struct {
	Source    string   `json:"source"`
	Pages     []string `json:"pages"`
	Documents []string `json:"documents"`
}

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	tm     *templating.TemplateManager
	gen    *Generator
	logger *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *templating.TemplateManager, gen *Generator, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		tm:     tm,
		gen:    gen,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/{name}", t.handleFile)
}

// handleRefresh triggers a manual refresh of templates from their source.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if !hasScope(r, scopeTemplatesWrite) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:write' scope")
		return
	}
	if err := t.tm.Refresh(); err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns the names of the loaded templates.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if !hasScope(r, scopeTemplatesRead) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:read' scope")
		return
	}
	source := t.tm.GetConfig().TemplateDir
	if source == "" {
		source = "embedded"
	}
	respondWithJSON(w, http.StatusOK, TemplateList{
		Source:    source,
		Pages:     t.tm.GetPageNames(),
		Documents: t.tm.GetDocumentNames(),
	})
}

// handlePreview renders a document for the selection in the query string.
// GET renders a loaded document template (?name=, default init.el.tmpl);
// POST renders the request body as a template without storing it.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if !hasScope(r, scopeTemplatesRead) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:read' scope")
		return
	}

	var req compose.Request
	if err := parseSelectionQuery(r.URL.RawQuery, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to deserialize query string")
		return
	}
	doc := compose.Assemble(t.gen.Registry(), req, t.gen.defaults)

	var buf bytes.Buffer
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTemplateBytes))
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		if err = t.tm.ExecuteTemplateString(&buf, string(body), doc); err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %v", err))
			return
		}
	} else {
		name := r.URL.Query().Get("name")
		if name == "" {
			name = documentTemplate
		}
		if err := t.tm.ExecuteDocument(&buf, name, doc); err != nil {
			if errors.Is(err, templating.ErrNotFound) {
				respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
				return
			}
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render preview: %v", err))
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleFile reads, writes or deletes a single file in the template
// directory. It is unavailable while the embedded templates are in use.
func (t *TemplateAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPut, http.MethodDelete) {
		return
	}
	scope := scopeTemplatesWrite
	if r.Method == http.MethodGet {
		scope = scopeTemplatesRead
	}
	if !hasScope(r, scope) {
		respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
		return
	}

	name := r.PathValue("name")
	if !validTemplateName(name) {
		respondWithError(w, http.StatusBadRequest, "Invalid template name format")
		return
	}

	dir := t.tm.GetConfig().TemplateDir
	if dir == "" {
		respondWithError(w, http.StatusConflict, "Templates are embedded; set template_config.template_dir to manage files")
		return
	}
	templateDir, err := filepath.Abs(dir)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve template directory")
		return
	}
	path := filepath.Join(templateDir, name)
	if filepath.Dir(path) != templateDir {
		respondWithError(w, http.StatusForbidden, "Access denied: Path outside template directory")
		return
	}

	switch r.Method {
	case http.MethodGet:
		content, err := os.ReadFile(path)
		if err != nil {
			respondWithError(w, http.StatusNotFound, "Template not found")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(content)

	case http.MethodPut:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTemplateBytes))
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		if err = atomic.WriteFile(path, bytes.NewReader(body)); err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write template file: %v", err))
			return
		}
		t.refreshAfterEdit(w, name)

	case http.MethodDelete:
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				respondWithError(w, http.StatusNotFound, "Template not found")
				return
			}
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete template file: %v", err))
			return
		}
		t.refreshAfterEdit(w, name)
	}
}

// refreshAfterEdit reloads the templates after a file change. A file that
// breaks parsing is reported back; the previous templates stay live.
func (t *TemplateAPI) refreshAfterEdit(w http.ResponseWriter, name string) {
	if err := t.tm.Refresh(); err != nil {
		t.logger.Warn("Template change left the set unparseable", "template", name, "error", err)
		respondWithError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Saved, but templates failed to reload: %v", err))
		return
	}
	t.logger.Info("Template file changed via API", "template", name)
	w.WriteHeader(http.StatusNoContent)
}

func validTemplateName(name string) bool {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	for _, suffix := range templateSuffixes {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return true
		}
	}
	return false
}
