package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/CTAG07/ecg/pkg/compose"
	"github.com/CTAG07/ecg/pkg/registry"
)

// OptionInfo describes one selectable option.
type OptionInfo struct {
	Key         string   `json:"key"`
	Description string   `json:"description,omitempty"`
	VC          bool     `json:"vc,omitempty"`
	EglotMode   string   `json:"eglot_mode,omitempty"`
	EglotStanza []string `json:"eglot_stanza,omitempty"`
}

// OptionsResponse is the registry dump served by /api/options.
type OptionsResponse struct {
	Version       string           `json:"version"`
	Themes        []string         `json:"themes"`
	Fonts         []string         `json:"fonts"`
	Features      []OptionInfo     `json:"features"`
	Languages     []OptionInfo     `json:"languages"`
	HookLanguages []string         `json:"hook_languages"`
	Defaults      compose.Defaults `json:"defaults"`
}

// OptionsAPI exposes the registry and the generator over JSON.
type OptionsAPI struct {
	gen    *Generator
	logger *slog.Logger
}

func NewOptionsAPI(gen *Generator, logger *slog.Logger) *OptionsAPI {
	return &OptionsAPI{
		gen:    gen,
		logger: logger,
	}
}

func (o *OptionsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/options", o.handleOptions)
	mux.HandleFunc("/api/generate", o.handleGenerate)
}

func optionInfos(reg *registry.Registry, group registry.Group) []OptionInfo {
	entries := reg.Entries(group)
	infos := make([]OptionInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, OptionInfo{
			Key:         e.Key,
			Description: e.Description,
			VC:          e.VC,
			EglotMode:   e.EglotMode,
			EglotStanza: e.EglotStanza,
		})
	}
	return infos
}

func (o *OptionsAPI) handleOptions(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if !hasScope(r, scopeOptionsRead) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'options:read' scope")
		return
	}

	reg := o.gen.Registry()
	respondWithJSON(w, http.StatusOK, OptionsResponse{
		Version:       reg.Version(),
		Themes:        reg.Themes(),
		Fonts:         reg.Fonts(),
		Features:      optionInfos(reg, registry.GroupFeature),
		Languages:     optionInfos(reg, registry.GroupLanguage),
		HookLanguages: reg.HookLanguages(),
		Defaults:      o.gen.defaults,
	})
}

func (o *OptionsAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if !hasScope(r, scopeGenerate) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'generate' scope")
		return
	}

	var req compose.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	gen, err := o.gen.Generate(r.Context(), req, originAPI)
	if err != nil {
		o.logger.Error("API generation failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Generation failed: %v", err))
		return
	}
	w.Header().Set("X-Generation-Id", gen.ID)
	respondWithJSON(w, http.StatusOK, gen)
}
