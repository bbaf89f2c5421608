package registry

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultData []byte

// Group names an independent set of option keys.
type Group string

const (
	GroupFeature  Group = "feature"
	GroupLanguage Group = "language"
)

// Groups lists every known group in the order they appear in a document.
var Groups = []Group{GroupFeature, GroupLanguage}

// Fragment is a static block of Emacs Lisp bound to a single option key.
type Fragment string

// Entry is a single registered option.
type Entry struct {
	Key         string
	Description string
	Fragment    Fragment

	// VC is set on features whose fragment relies on the use-package :vc keyword.
	VC bool

	// EglotMode is the major mode that should start Eglot for this language.
	// Empty for languages without language server integration.
	EglotMode string

	// EglotStanza is extra Eglot configuration, one line per element, emitted
	// whenever this language is selected.
	EglotStanza []string
}

type table struct {
	keys    []string
	entries map[string]Entry
}

// Registry is an immutable set of option tables.
type Registry struct {
	version        string
	tables         map[Group]*table
	themes         []string
	themeSet       map[string]struct{}
	fonts          []string
	stanzaLanguage string
}

type fileEntry struct {
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
	Fragment    string `yaml:"fragment"`
	VC          bool   `yaml:"vc"`
	EglotMode   string `yaml:"eglot_mode"`
	EglotStanza string `yaml:"eglot_stanza"`
}

type file struct {
	Version   string      `yaml:"version"`
	Themes    []string    `yaml:"themes"`
	Fonts     []string    `yaml:"fonts"`
	Features  []fileEntry `yaml:"features"`
	Languages []fileEntry `yaml:"languages"`
}

// Default returns the registry built from the embedded option tables.
func Default() (*Registry, error) {
	return Parse(defaultData)
}

// Load reads a registry file from disk. An empty path selects the embedded tables.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	return reg, nil
}

// Parse builds a registry from YAML data. Unknown fields, duplicate keys, and
// Eglot settings on features are rejected, as is more than one language
// declaring an Eglot stanza.
func Parse(data []byte) (*Registry, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("registry data is empty")
		}
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	reg := &Registry{
		version:  f.Version,
		tables:   make(map[Group]*table, len(Groups)),
		themes:   slices.Clone(f.Themes),
		themeSet: make(map[string]struct{}, len(f.Themes)),
		fonts:    slices.Clone(f.Fonts),
	}
	for _, theme := range f.Themes {
		if theme == "" {
			return nil, errors.New("theme names cannot be empty")
		}
		reg.themeSet[theme] = struct{}{}
	}

	features, err := buildTable(GroupFeature, f.Features)
	if err != nil {
		return nil, err
	}
	languages, err := buildTable(GroupLanguage, f.Languages)
	if err != nil {
		return nil, err
	}
	reg.tables[GroupFeature] = features
	reg.tables[GroupLanguage] = languages

	for _, key := range languages.keys {
		if len(languages.entries[key].EglotStanza) == 0 {
			continue
		}
		if reg.stanzaLanguage != "" {
			return nil, fmt.Errorf("languages %q and %q both declare an eglot stanza", reg.stanzaLanguage, key)
		}
		reg.stanzaLanguage = key
	}

	return reg, nil
}

func buildTable(group Group, raw []fileEntry) (*table, error) {
	t := &table{
		keys:    make([]string, 0, len(raw)),
		entries: make(map[string]Entry, len(raw)),
	}
	for _, e := range raw {
		if e.Key == "" {
			return nil, fmt.Errorf("%s entry with empty key", group)
		}
		if _, dup := t.entries[e.Key]; dup {
			return nil, fmt.Errorf("duplicate %s key %q", group, e.Key)
		}
		if group != GroupLanguage && (e.EglotMode != "" || e.EglotStanza != "") {
			return nil, fmt.Errorf("%s %q: eglot settings are only valid on languages", group, e.Key)
		}
		if group != GroupFeature && e.VC {
			return nil, fmt.Errorf("%s %q: vc is only valid on features", group, e.Key)
		}
		if e.EglotStanza != "" && e.EglotMode == "" {
			return nil, fmt.Errorf("%s %q: eglot_stanza requires eglot_mode", group, e.Key)
		}

		entry := Entry{
			Key:         e.Key,
			Description: e.Description,
			Fragment:    Fragment("\n" + e.Fragment),
			VC:          e.VC,
			EglotMode:   e.EglotMode,
		}
		if e.EglotStanza != "" {
			entry.EglotStanza = strings.Split(strings.TrimRight(e.EglotStanza, "\n"), "\n")
		}
		t.keys = append(t.keys, e.Key)
		t.entries[e.Key] = entry
	}
	return t, nil
}

// Lookup returns the fragment registered for key in group.
func (r *Registry) Lookup(group Group, key string) (Fragment, bool) {
	e, ok := r.Entry(group, key)
	if !ok {
		return "", false
	}
	return e.Fragment, true
}

// Entry returns the full entry registered for key in group.
func (r *Registry) Entry(group Group, key string) (Entry, bool) {
	t, ok := r.tables[group]
	if !ok {
		return Entry{}, false
	}
	e, ok := t.entries[key]
	if !ok {
		return Entry{}, false
	}
	e.EglotStanza = slices.Clone(e.EglotStanza)
	return e, true
}

// Keys returns the keys of a group in registration order.
func (r *Registry) Keys(group Group) []string {
	t, ok := r.tables[group]
	if !ok {
		return nil
	}
	return slices.Clone(t.keys)
}

// Entries returns every entry of a group in registration order.
func (r *Registry) Entries(group Group) []Entry {
	var entries []Entry
	for _, key := range r.Keys(group) {
		e, _ := r.Entry(group, key)
		entries = append(entries, e)
	}
	return entries
}

// HookLanguages returns the language keys that have an Eglot mode.
func (r *Registry) HookLanguages() []string {
	var keys []string
	for _, e := range r.Entries(GroupLanguage) {
		if e.EglotMode != "" {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// StanzaLanguage returns the language that carries the extra Eglot stanza, if any.
func (r *Registry) StanzaLanguage() string {
	return r.stanzaLanguage
}

// Themes returns the offered theme names.
func (r *Registry) Themes() []string {
	return slices.Clone(r.themes)
}

// HasTheme reports whether name is an offered theme.
func (r *Registry) HasTheme(name string) bool {
	_, ok := r.themeSet[name]
	return ok
}

// Fonts returns the suggested font families.
func (r *Registry) Fonts() []string {
	return slices.Clone(r.fonts)
}

// Version returns the version string declared by the registry data.
func (r *Registry) Version() string {
	return r.version
}
