package main

import (
	"bytes"
	"database/sql"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/CTAG07/ecg/pkg/compose"
	"github.com/CTAG07/ecg/pkg/mcptools"
	"github.com/CTAG07/ecg/pkg/registry"
	"github.com/CTAG07/ecg/pkg/templating"
)

const (
	indexPage  = "index.tmpl.html"
	configPage = "config.tmpl.html"
)

// indexData is consumed by the landing page template.
type indexData struct {
	Themes        []string
	DefaultTheme  string
	Fonts         []string
	DefaultFont   string
	Features      []registry.Entry
	Languages     []registry.Entry
	HookLanguages []string
	Version       string
}

// configData is consumed by the result page template.
type configData struct {
	Doc     compose.Document
	Query   template.URL
	Config  string
	Version string
}

type Server struct {
	cm          *ConfigManager
	logger      *slog.Logger
	gen         *Generator
	tm          *templating.TemplateManager
	authAPI     *AuthAPI
	optionsAPI  *OptionsAPI
	templateAPI *TemplateAPI
	statsAPI    *StatsAPI
	serverAPI   *ServerAPI
	siteMux     *http.ServeMux
	apiMux      *http.ServeMux
}

// NewServer wires the handlers of one server cycle. statsDB may be nil when
// statistics are disabled.
func NewServer(cm *ConfigManager, logger *slog.Logger, reg *registry.Registry, tm *templating.TemplateManager, statsDB, authDB *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	statsAPI := NewStatsAPI(statsDB, logger)
	var recorder Recorder
	if statsDB != nil && config.Server.RecordStats {
		recorder = statsAPI
	}
	gen := NewGenerator(reg, tm, config.Generator, recorder, logger)

	server := &Server{
		cm:          cm,
		logger:      logger,
		gen:         gen,
		tm:          tm,
		authAPI:     NewAuthAPI(authDB, logger),
		optionsAPI:  NewOptionsAPI(gen, logger),
		templateAPI: NewTemplateAPI(tm, gen, logger),
		statsAPI:    statsAPI,
		serverAPI:   NewServerAPI(cm, actionChan, tm, reg, logger),
		siteMux:     http.NewServeMux(),
		apiMux:      http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.optionsAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Everything under /api/ must pass through authentication first,
	// except for the health check so that orchestrators can probe it.
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", server.authAPI.Authenticate(apiMux))

	if config.Server.MCPEnabled {
		mcpServer := mcptools.NewGeneratorMCPServer(mcptools.NewGeneratorService(gen, originMCP))
		server.apiMux.Handle("/mcp", server.authAPI.Authenticate(requireScope(scopeGenerate, mcptools.Handler(mcpServer))))
		logger.Info("MCP endpoint enabled", "path", "/mcp")
	}

	server.siteMux.Handle("/static/", http.StripPrefix("/static/", http.FileServerFS(templating.StaticFS())))
	server.siteMux.HandleFunc("/favicon.ico", handleFavicon)
	server.siteMux.HandleFunc("/config.el", server.handleConfigFile)
	server.siteMux.HandleFunc("/config", server.handleConfig)
	server.siteMux.HandleFunc("/", server.handleIndex)

	return server, nil
}

// handleIndex renders the option picker.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	reg := s.gen.Registry()
	data := indexData{
		Themes:        reg.Themes(),
		DefaultTheme:  s.gen.defaults.Theme,
		Fonts:         reg.Fonts(),
		DefaultFont:   s.gen.defaults.Font,
		Features:      reg.Entries(registry.GroupFeature),
		Languages:     reg.Entries(registry.GroupLanguage),
		HookLanguages: reg.HookLanguages(),
		Version:       reg.Version(),
	}
	s.renderPage(w, indexPage, data)
}

// handleConfig renders the result page embedding the generated init.el.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	gen, req, ok := s.generate(w, r)
	if !ok {
		return
	}
	data := configData{
		Doc:     gen.Document,
		Query:   template.URL(encodeSelection(req)),
		Config:  gen.Config,
		Version: s.gen.Registry().Version(),
	}
	w.Header().Set("X-Generation-Id", gen.ID)
	s.renderPage(w, configPage, data)
}

// handleConfigFile serves the generated init.el as a download.
func (s *Server) handleConfigFile(w http.ResponseWriter, r *http.Request) {
	gen, _, ok := s.generate(w, r)
	if !ok {
		return
	}
	setNoStoreHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="init.el"`)
	w.Header().Set("X-Generation-Id", gen.ID)
	_, _ = w.Write([]byte(gen.Config))
}

// generate decodes the selection and runs the generator, writing the error
// response itself when it fails.
func (s *Server) generate(w http.ResponseWriter, r *http.Request) (*compose.Generation, compose.Request, bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return nil, compose.Request{}, false
	}

	req, err := parseSelection(w, r)
	if err != nil {
		s.logger.Debug("Rejected selection", "remote_addr", s.getClientIP(r), "error", err)
		http.Error(w, "Failed to deserialize query string", http.StatusBadRequest)
		return nil, req, false
	}

	gen, err := s.gen.Generate(r.Context(), req, originSite)
	if err != nil {
		s.logger.Error("Failed to generate config", "remote_addr", s.getClientIP(r), "error", err)
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return nil, req, false
	}
	return gen, req, true
}

func (s *Server) renderPage(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := s.tm.Execute(&buf, name, data); err != nil {
		s.logger.Error("Failed to execute template", "template", name, "error", err)
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return
	}
	setPageHeaders(w)
	_, _ = buf.WriteTo(w)
}

func setNoStoreHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func setPageHeaders(w http.ResponseWriter) {
	setNoStoreHeaders(w)
	w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline';")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
}

// getClientIP returns the client address, honoring forwarding headers only
// when the direct peer is a trusted proxy.
func (s *Server) getClientIP(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If splitting fails (e.g., no port), use the address as is.
		remote = r.RemoteAddr
	}
	if !s.cm.IsTrusted(remote) {
		return remote
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}
	// The first IP in X-Forwarded-For is the original client.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}
	return remote
}

// handleFavicon answers favicon requests with no content.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

