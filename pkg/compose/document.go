package compose

import "github.com/CTAG07/ecg/pkg/registry"

// Request is the raw input of one generation. Values are used exactly as
// received.
type Request struct {
	Theme     string   `json:"theme"`
	Font      string   `json:"font"`
	Features  []string `json:"features"`
	Languages []string `json:"languages"`
}

// Defaults holds the fallback scalars used when a request leaves them out.
type Defaults struct {
	Theme string `json:"default_theme"`
	Font  string `json:"default_font"`
}

// Document holds every field the init.el template consumes.
type Document struct {
	Theme string `json:"theme"`
	Font  string `json:"font"`

	Features  string `json:"features"`
	Languages string `json:"languages"`
	Eglot     string `json:"eglot"`

	// NeedsVC is set when a selected feature installs its package through
	// the use-package :vc keyword.
	NeedsVC bool `json:"needs_vc"`

	FeatureKeys  []string `json:"feature_keys"`
	LanguageKeys []string `json:"language_keys"`
}

// Assemble computes the document fields for req. The theme falls back to
// defs.Theme when empty or not offered by the registry; the font only falls
// back when empty.
func Assemble(reg *registry.Registry, req Request, defs Defaults) Document {
	doc := Document{
		Theme:        req.Theme,
		Font:         req.Font,
		Features:     Compose(reg, registry.GroupFeature, req.Features),
		Languages:    Compose(reg, registry.GroupLanguage, req.Languages),
		Eglot:        SynthesizeHooks(reg, req.Languages),
		FeatureKeys:  Matched(reg, registry.GroupFeature, req.Features),
		LanguageKeys: Matched(reg, registry.GroupLanguage, req.Languages),
	}
	if doc.Theme == "" || !reg.HasTheme(doc.Theme) {
		doc.Theme = defs.Theme
	}
	if doc.Font == "" {
		doc.Font = defs.Font
	}
	for _, key := range doc.FeatureKeys {
		if e, _ := reg.Entry(registry.GroupFeature, key); e.VC {
			doc.NeedsVC = true
			break
		}
	}
	return doc
}

// Generation is a rendered document together with the identifier it was
// recorded under.
type Generation struct {
	ID string `json:"id"`
	Document
	Config string `json:"config"`
}
