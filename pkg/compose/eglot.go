package compose

import (
	"strings"

	"github.com/CTAG07/ecg/pkg/registry"
)

const eglotPreamble = `
;; Adds LSP support. Note that you must have the respective LSP
;; server installed on your machine to use it with Eglot. e.g.
;; rust-analyzer to use Eglot with ` + "`rust-mode'" + `.
(use-package eglot
  :ensure t
  :bind (("s-<mouse-1>" . eglot-find-implementation)
         ("C-c ." . eglot-code-action-quickfix))`

const eglotHookComment = `
  ;; Add your programming modes here to automatically start Eglot,
  ;; assuming you have the respective LSP server installed.
  :hook (`

const (
	eglotAction   = "eglot-ensure"
	hookSeparator = "\n         "
	stanzaIndent  = "\n  "
)

// Hook is a single (mode . action) pair of the Eglot :hook clause.
type Hook struct {
	Mode   string
	Action string
}

// String renders the hook as an Emacs Lisp dotted pair.
func (h Hook) String() string {
	return "(" + h.Mode + " . " + h.Action + ")"
}

// Hooks returns one hook per language in selection that has an Eglot mode,
// in selection order.
func Hooks(src Source, selection []string) []Hook {
	var hooks []Hook
	for _, key := range selection {
		e, ok := src.Entry(registry.GroupLanguage, key)
		if !ok || e.EglotMode == "" {
			continue
		}
		hooks = append(hooks, Hook{Mode: e.EglotMode, Action: eglotAction})
	}
	return hooks
}

// SynthesizeHooks builds the Eglot use-package block for a language selection.
//
// The block always starts with the binding preamble. The :hook clause is only
// present when at least one selected language has an Eglot mode, and the
// stanza of the designated language is appended after it whenever that
// language appears anywhere in the selection.
func SynthesizeHooks(src Source, selection []string) string {
	var sb strings.Builder
	sb.WriteString(eglotPreamble)

	if hooks := Hooks(src, selection); len(hooks) > 0 {
		pairs := make([]string, len(hooks))
		for i, h := range hooks {
			pairs[i] = h.String()
		}
		sb.WriteString(eglotHookComment)
		sb.WriteString(strings.Join(pairs, hookSeparator))
		sb.WriteString(")")
	}

	for _, line := range stanza(src, selection) {
		sb.WriteString(stanzaIndent)
		sb.WriteString(line)
	}

	sb.WriteString(")\n")
	return sb.String()
}

// stanza returns the extra Eglot lines of the first selected language that
// declares them. The registry allows at most one such language.
func stanza(src Source, selection []string) []string {
	for _, key := range selection {
		e, ok := src.Entry(registry.GroupLanguage, key)
		if ok && len(e.EglotStanza) > 0 {
			return e.EglotStanza
		}
	}
	return nil
}
