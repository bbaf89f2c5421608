package templating

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type testDocument struct {
	Theme     string
	Font      string
	Features  string
	Languages string
	Eglot     string
	NeedsVC   bool
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestManager creates a TemplateManager backed by the embedded templates.
func setupTestManager(tb testing.TB) *TemplateManager {
	tb.Helper()
	tm, err := NewTemplateManager(testLogger(), DefaultConfig())
	if err != nil {
		tb.Fatalf("NewTemplateManager failed: %v", err)
	}
	return tm
}

// setupDirManager creates a TemplateManager reading from a fresh temp directory
// containing the given files.
func setupDirManager(tb testing.TB, files map[string]string) (*TemplateManager, string) {
	tb.Helper()
	dir := tb.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			tb.Fatalf("failed to write %s: %v", name, err)
		}
	}
	config := DefaultConfig()
	config.TemplateDir = dir
	config.Watch = true
	config.WatchDebounceMs = 20
	tm, err := NewTemplateManager(testLogger(), config)
	if err != nil {
		tb.Fatalf("NewTemplateManager failed: %v", err)
	}
	return tm, dir
}

func TestNewTemplateManager_Embedded(t *testing.T) {
	tm := setupTestManager(t)

	pages := tm.GetPageNames()
	if len(pages) != 2 || pages[0] != "config.tmpl.html" || pages[1] != "index.tmpl.html" {
		t.Errorf("unexpected page templates: %v", pages)
	}
	docs := tm.GetDocumentNames()
	if len(docs) != 1 || docs[0] != "init.el.tmpl" {
		t.Errorf("unexpected document templates: %v", docs)
	}
}

func TestManager_ExecuteDocument(t *testing.T) {
	tm := setupTestManager(t)

	doc := testDocument{
		Theme:     "wombat",
		Font:      `Fira "Code"`,
		Features:  "\n;; feature block\n",
		Languages: "\n;; language block\n",
		Eglot:     "\n;; eglot block\n",
	}
	var buf bytes.Buffer
	if err := tm.ExecuteDocument(&buf, "init.el.tmpl", doc); err != nil {
		t.Fatalf("ExecuteDocument failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"(load-theme 'wombat t)",
		`(set-face-attribute 'default nil :font "Fira \"Code\"")`,
		";; feature block\n\n;; language block\n\n;; eglot block\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered document is missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "vc-use-package") {
		t.Error("vc-use-package bootstrap should only be emitted when needed")
	}
	if strings.Contains(out, "&#34;") {
		t.Error("documents must not be HTML escaped")
	}

	buf.Reset()
	doc.NeedsVC = true
	if err := tm.ExecuteDocument(&buf, "init.el.tmpl", doc); err != nil {
		t.Fatalf("ExecuteDocument failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(require 'vc-use-package)") {
		t.Error("expected vc-use-package bootstrap when NeedsVC is set")
	}
}

func TestManager_ExecuteNotFound(t *testing.T) {
	tm := setupTestManager(t)
	var buf bytes.Buffer

	err := tm.Execute(&buf, "nonexistent.tmpl.html", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing page, got %v", err)
	}
	err = tm.ExecuteDocument(&buf, "init.el.tmpl.html", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing document, got %v", err)
	}
	// Partials are parsed into the page set but aren't pages.
	if err = tm.Execute(&buf, "head", "x"); err != nil {
		t.Errorf("partial definitions should be executable: %v", err)
	}
}

func TestManager_ExecutePageEscapes(t *testing.T) {
	tm, _ := setupDirManager(t, map[string]string{
		"p.tmpl.html": `<p>{{.}}</p>`,
	})
	var buf bytes.Buffer
	if err := tm.Execute(&buf, "p.tmpl.html", "<script>"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if buf.String() != "<p>&lt;script&gt;</p>" {
		t.Errorf("page output was not escaped: %q", buf.String())
	}
}

func TestManager_Refresh(t *testing.T) {
	tm, dir := setupDirManager(t, map[string]string{
		"a.el.tmpl": `A`,
	})
	if n := len(tm.GetDocumentNames()); n != 1 {
		t.Fatalf("expected 1 document template, got %d", n)
	}
	if n := len(tm.GetPageNames()); n != 0 {
		t.Fatalf("expected no page templates, got %d", n)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.el.tmpl"), []byte(`B`), 0644); err != nil {
		t.Fatalf("failed to write new template: %v", err)
	}
	if err := tm.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if n := len(tm.GetDocumentNames()); n != 2 {
		t.Errorf("expected 2 document templates after refresh, got %d", n)
	}

	// A broken template is rejected and the loaded set survives.
	if err := os.WriteFile(filepath.Join(dir, "c.el.tmpl"), []byte(`{{if}}`), 0644); err != nil {
		t.Fatalf("failed to write broken template: %v", err)
	}
	if err := tm.Refresh(); err == nil {
		t.Fatal("expected Refresh to fail on a broken template")
	}
	var buf bytes.Buffer
	if err := tm.ExecuteDocument(&buf, "b.el.tmpl", nil); err != nil || buf.String() != "B" {
		t.Errorf("previous templates should remain usable, got %q, %v", buf.String(), err)
	}
}

func TestManager_SetConfig(t *testing.T) {
	tm, dir := setupDirManager(t, map[string]string{"only.el.tmpl": `x`})
	if got := tm.GetConfig().TemplateDir; got != dir {
		t.Fatalf("GetConfig returned dir %q, want %q", got, dir)
	}

	tm.SetConfig(DefaultConfig())
	if err := tm.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	docs := tm.GetDocumentNames()
	if len(docs) != 1 || docs[0] != "init.el.tmpl" {
		t.Errorf("expected embedded templates after switching config, got %v", docs)
	}
}

func TestManager_ExecuteTemplateString(t *testing.T) {
	tm := setupTestManager(t)
	var buf bytes.Buffer

	err := tm.ExecuteTemplateString(&buf, `(load-theme '{{.Theme}} t) {{elispString .Font}}`, testDocument{Theme: "tango", Font: `a\b`})
	if err != nil {
		t.Fatalf("ExecuteTemplateString failed: %v", err)
	}
	if buf.String() != `(load-theme 'tango t) "a\\b"` {
		t.Errorf("unexpected output %q", buf.String())
	}

	if err = tm.ExecuteTemplateString(&buf, `{{.Theme`, nil); err == nil {
		t.Error("expected a parse error")
	}

	// Previews never leak into the loaded set.
	if docs := tm.GetDocumentNames(); len(docs) != 1 {
		t.Errorf("preview changed the loaded documents: %v", docs)
	}
}

func TestElispString(t *testing.T) {
	tests := map[string]string{
		"Menlo":          `"Menlo"`,
		"":               `""`,
		`say "hi"`:       `"say \"hi\""`,
		`C:\fonts`:       `"C:\\fonts"`,
		"two\nlines":     `"two\nlines"`,
		`") (delete-file`: `"\") (delete-file"`,
	}
	for in, want := range tests {
		if got := elispString(in); got != want {
			t.Errorf("elispString(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestStaticFS(t *testing.T) {
	data, err := fsReadFile(t, "fontselector.js")
	if err != nil {
		t.Fatalf("fontselector.js is not embedded: %v", err)
	}
	if !strings.Contains(string(data), "font_family") {
		t.Error("unexpected fontselector.js content")
	}
}

func fsReadFile(t *testing.T, name string) ([]byte, error) {
	t.Helper()
	f, err := StaticFS().Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func TestManager_Watch(t *testing.T) {
	tm, dir := setupDirManager(t, map[string]string{"a.el.tmpl": `A`})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tm.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "b.el.tmpl"), []byte(`B`), 0644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(tm.GetDocumentNames()) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("watcher did not reload templates, have %v", tm.GetDocumentNames())
}

func TestManager_WatchEmbedded(t *testing.T) {
	tm := setupTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tm.Watch(ctx); err != nil {
		t.Errorf("Watch on embedded templates should return nil once cancelled, got %v", err)
	}
}

func TestManager_WatchFollowsConfig(t *testing.T) {
	tm, _ := setupDirManager(t, map[string]string{"a.el.tmpl": `A`})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tm.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	next := t.TempDir()
	if err := os.WriteFile(filepath.Join(next, "c.el.tmpl"), []byte(`C`), 0644); err != nil {
		t.Fatal(err)
	}
	config := tm.GetConfig()
	config.TemplateDir = next
	tm.SetConfig(&config)
	if err := tm.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Give the watcher a moment to move to the new directory.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(next, "d.el.tmpl"), []byte(`D`), 0644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if names := tm.GetDocumentNames(); len(names) == 2 && names[0] == "c.el.tmpl" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("watcher did not follow the new directory, have %v", tm.GetDocumentNames())
}
