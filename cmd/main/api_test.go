package main

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/CTAG07/ecg/pkg/compose"
	"github.com/CTAG07/ecg/pkg/templating"
)

// createKey creates an API key through the API and returns its raw value.
func createKey(t *testing.T, env *testEnv, authKey string, scopes ...string) CreateKeyResponse {
	t.Helper()
	rec := env.api(http.MethodPost, "/api/auth/keys", authKey, CreateKeyRequest{Scopes: scopes, Description: "test"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed to create key: %d %s", rec.Code, rec.Body.String())
	}
	var resp CreateKeyResponse
	decodeJSON(t, rec, &resp)
	return resp
}

func TestAuth_OpenUntilFirstKey(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.api(http.MethodGet, "/api/auth/me", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("API should be open without keys, got %d", rec.Code)
	}

	// The first key is always promoted to master.
	master := createKey(t, env, "", scopeStatsRead)
	if len(master.Scopes) != 1 || master.Scopes[0] != scopeMaster {
		t.Errorf("first key should get the master scope, got %v", master.Scopes)
	}
	if !strings.HasPrefix(master.RawKey, "ecg_") {
		t.Errorf("unexpected key format %q", master.RawKey)
	}

	if rec := env.api(http.MethodGet, "/api/auth/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a key, got %d", rec.Code)
	}
	if rec := env.api(http.MethodGet, "/api/auth/me", "ecg_wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for an unknown key, got %d", rec.Code)
	}

	rec := env.api(http.MethodGet, "/api/auth/me", master.RawKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with the master key, got %d", rec.Code)
	}
	var me struct {
		KeyID  int      `json:"key_id"`
		Scopes []string `json:"scopes"`
	}
	decodeJSON(t, rec, &me)
	if me.KeyID != master.ID || len(me.Scopes) != 1 || me.Scopes[0] != scopeMaster {
		t.Errorf("unexpected /me response: %+v", me)
	}
}

func TestAuth_Scopes(t *testing.T) {
	env := newTestEnv(t, nil)
	master := createKey(t, env, "")
	reader := createKey(t, env, master.RawKey, scopeStatsRead)

	if rec := env.api(http.MethodGet, "/api/stats/summary", reader.RawKey, nil); rec.Code != http.StatusOK {
		t.Errorf("stats:read key should read stats, got %d", rec.Code)
	}
	if rec := env.api(http.MethodGet, "/api/auth/keys", reader.RawKey, nil); rec.Code != http.StatusForbidden {
		t.Errorf("stats:read key must not list keys, got %d", rec.Code)
	}
	if rec := env.api(http.MethodPost, "/api/auth/keys", reader.RawKey, CreateKeyRequest{Scopes: []string{scopeMaster}}); rec.Code != http.StatusForbidden {
		t.Errorf("stats:read key must not create keys, got %d", rec.Code)
	}
	if rec := env.api(http.MethodPost, "/api/generate", reader.RawKey, compose.Request{}); rec.Code != http.StatusForbidden {
		t.Errorf("stats:read key must not generate, got %d", rec.Code)
	}
	if rec := env.api(http.MethodPost, "/api/auth/keys", master.RawKey, CreateKeyRequest{Scopes: []string{"root"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown scopes should be rejected, got %d", rec.Code)
	}
}

func TestAuth_ListAndDelete(t *testing.T) {
	env := newTestEnv(t, nil)
	master := createKey(t, env, "")
	other := createKey(t, env, master.RawKey, scopeGenerate, scopeOptionsRead)

	rec := env.api(http.MethodGet, "/api/auth/keys", master.RawKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var keys []APIKeyInfo
	decodeJSON(t, rec, &keys)
	if len(keys) != 2 || keys[1].ID != other.ID || len(keys[1].Scopes) != 2 {
		t.Errorf("unexpected key list: %+v", keys)
	}
	if strings.Contains(rec.Body.String(), other.RawKey) {
		t.Error("raw keys must never be listed")
	}

	if rec = env.api(http.MethodDelete, "/api/auth/keys/1", master.RawKey, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("the primary key must not be deletable, got %d", rec.Code)
	}
	if rec = env.api(http.MethodDelete, "/api/auth/keys/abc", master.RawKey, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad id, got %d", rec.Code)
	}
	path := "/api/auth/keys/" + strconv.Itoa(other.ID)
	if rec = env.api(http.MethodDelete, path, master.RawKey, nil); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec = env.api(http.MethodDelete, path, master.RawKey, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a deleted key, got %d", rec.Code)
	}
	if rec = env.api(http.MethodGet, "/api/auth/me", other.RawKey, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("deleted key should no longer authenticate, got %d", rec.Code)
	}
}

func TestOptionsAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.api(http.MethodGet, "/api/options", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var opts OptionsResponse
	decodeJSON(t, rec, &opts)
	if len(opts.Features) != 5 || len(opts.Languages) != 9 {
		t.Errorf("unexpected option counts: %d features, %d languages", len(opts.Features), len(opts.Languages))
	}
	if strings.Join(opts.HookLanguages, ",") != "go,tsx,rust" {
		t.Errorf("unexpected hook languages %v", opts.HookLanguages)
	}
	if opts.Defaults.Theme != "modus-vivendi" {
		t.Errorf("unexpected defaults %+v", opts.Defaults)
	}
}

func TestGenerateAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.api(http.MethodPost, "/api/generate", "", compose.Request{
		Theme:     "not-a-theme",
		Features:  []string{"magit", "helpful"},
		Languages: []string{"tsx"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var gen compose.Generation
	decodeJSON(t, rec, &gen)
	if gen.ID == "" || gen.ID != rec.Header().Get("X-Generation-Id") {
		t.Errorf("generation id missing or inconsistent: %q", gen.ID)
	}
	if gen.Theme != "modus-vivendi" {
		t.Errorf("unknown theme should fall back to the default, got %q", gen.Theme)
	}
	if strings.Join(gen.FeatureKeys, ",") != "magit,helpful" {
		t.Errorf("unexpected feature keys %v", gen.FeatureKeys)
	}
	if strings.Index(gen.Config, "(use-package magit") > strings.Index(gen.Config, "(use-package helpful") {
		t.Error("features should appear in request order")
	}
	if !strings.Contains(gen.Config, "typescript-language-server") {
		t.Error("tsx should emit the server stanza")
	}

	if rec = env.api(http.MethodPost, "/api/generate", "", "{"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", rec.Code)
	}
	if rec = env.api(http.MethodGet, "/api/generate", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}

	summary, err := env.server.statsAPI.Summary(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if summary.ByOrigin[originAPI] != 1 {
		t.Errorf("API generation should be recorded with its origin: %+v", summary)
	}
}

func TestStatsAPI_TopOptions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.site(http.MethodGet, "/config.el?theme=wombat&language=go&language=rust", nil)
	env.site(http.MethodGet, "/config.el?theme=wombat&language=go", nil)

	rec := env.api(http.MethodGet, "/api/stats/top_options?group=language&limit=1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var top []OptionStat
	decodeJSON(t, rec, &top)
	if len(top) != 1 || top[0].Key != "go" || top[0].TotalSelections != 2 {
		t.Errorf("unexpected top languages: %+v", top)
	}

	rec = env.api(http.MethodGet, "/api/stats/top_options?group=theme", "", nil)
	decodeJSON(t, rec, &top)
	if len(top) != 1 || top[0].Key != "wombat" {
		t.Errorf("unexpected top themes: %+v", top)
	}

	if rec = env.api(http.MethodGet, "/api/stats/top_options?group=colors", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown group, got %d", rec.Code)
	}
	if rec = env.api(http.MethodGet, "/api/stats/top_options?limit=-3", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad limit, got %d", rec.Code)
	}
}

func TestTemplateAPI_ListAndPreview(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.api(http.MethodGet, "/api/templates", "", nil)
	var list TemplateList
	decodeJSON(t, rec, &list)
	if list.Source != "embedded" || len(list.Documents) != 1 || len(list.Pages) != 2 {
		t.Errorf("unexpected template list: %+v", list)
	}

	rec = env.api(http.MethodGet, "/api/templates/preview?language=go", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "(go-mode . eglot-ensure)") {
		t.Errorf("unexpected preview: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.api(http.MethodPost, "/api/templates/preview?feature=magit&theme=tango", "", "{{.Theme}}:{{join \",\" .FeatureKeys}}")
	if rec.Code != http.StatusOK || rec.Body.String() != "tango:magit" {
		t.Errorf("unexpected string preview: %d %q", rec.Code, rec.Body.String())
	}

	if rec = env.api(http.MethodPost, "/api/templates/preview", "", "{{.Nope"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a broken template, got %d", rec.Code)
	}
	if rec = env.api(http.MethodGet, "/api/templates/preview?name=missing.el.tmpl", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a missing template, got %d", rec.Code)
	}
	if rec = env.api(http.MethodGet, "/api/templates/init.el.tmpl", "", nil); rec.Code != http.StatusConflict {
		t.Errorf("file access should be unavailable with embedded templates, got %d", rec.Code)
	}
}

func TestTemplateAPI_Files(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "init.el.tmpl"), []byte("(load-theme '{{.Theme}} t)\n"), 0644); err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, func(c *Config) {
		tc := *templating.DefaultConfig()
		tc.TemplateDir = dir
		c.Templates = &tc
	})

	rec := env.api(http.MethodGet, "/api/templates/init.el.tmpl", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "load-theme") {
		t.Fatalf("unexpected file read: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.api(http.MethodPut, "/api/templates/extra.el.tmpl", "", ";; {{.Font}}")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on write, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.api(http.MethodGet, "/api/templates/preview?name=extra.el.tmpl&font=Menlo", "", nil)
	if rec.Body.String() != ";; Menlo" {
		t.Errorf("new template was not loaded, preview gave %q", rec.Body.String())
	}

	rec = env.api(http.MethodPut, "/api/templates/broken.el.tmpl", "", "{{if}}")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for a template that breaks parsing, got %d", rec.Code)
	}
	if rec = env.api(http.MethodDelete, "/api/templates/broken.el.tmpl", "", nil); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 on delete, got %d", rec.Code)
	}

	for _, name := range []string{"notes.txt", ".el.tmpl"} {
		if rec = env.api(http.MethodGet, "/api/templates/"+name, "", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for name %q, got %d", name, rec.Code)
		}
	}
}

func TestServerAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.api(http.MethodGet, "/api/server/config", "", nil)
	var config Config
	decodeJSON(t, rec, &config)
	if config.Generator == nil || config.Generator.Font != "Monospace" {
		t.Fatalf("unexpected config: %s", rec.Body.String())
	}

	config.Generator.Font = ""
	if rec = env.api(http.MethodPut, "/api/server/config", "", config); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid config should be rejected, got %d", rec.Code)
	}
	config.Generator.Font = "Menlo"
	if rec = env.api(http.MethodPut, "/api/server/config", "", config); rec.Code != http.StatusOK {
		t.Errorf("expected 200 on config update, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.cm.Get().Generator.Font != "Menlo" {
		t.Error("config update was not applied")
	}

	rec = env.api(http.MethodGet, "/api/server/version", "", nil)
	var info VersionInfo
	decodeJSON(t, rec, &info)
	if info.Version != Version || info.RegistryVersion == "" {
		t.Errorf("unexpected version info %+v", info)
	}

	if rec = env.api(http.MethodPost, "/api/server/restart", "", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if action := <-env.actionChan; action != actionRestart {
		t.Errorf("expected %q action, got %q", actionRestart, action)
	}
}

func TestMCPEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	master := createKey(t, env, "")
	reader := createKey(t, env, master.RawKey, scopeStatsRead)

	if rec := env.api(http.MethodPost, "/mcp", "", "{}"); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a key, got %d", rec.Code)
	}
	if rec := env.api(http.MethodPost, "/mcp", reader.RawKey, "{}"); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without the generate scope, got %d", rec.Code)
	}

	disabled := newTestEnv(t, func(c *Config) {
		c.Server.MCPEnabled = false
	})
	if rec := disabled.api(http.MethodPost, "/mcp", "", "{}"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 with MCP disabled, got %d", rec.Code)
	}
}
