package templating

import "time"

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// TemplateDir is a directory of templates used instead of the embedded
	// ones. Empty means the embedded templates are used.
	TemplateDir string `json:"template_dir"`

	// Watch enables automatic reloading when files in TemplateDir change.
	// It has no effect with the embedded templates.
	Watch bool `json:"watch"`

	// WatchDebounceMs is how long to wait after the last change before
	// reloading, so that editors writing several files trigger a single refresh.
	WatchDebounceMs int `json:"watch_debounce_ms"`
}

// DefaultConfig returns a TemplateConfig that uses the embedded templates.
func DefaultConfig() *TemplateConfig {
	return &TemplateConfig{
		TemplateDir:     "",
		Watch:           false,
		WatchDebounceMs: 250,
	}
}

func (c *TemplateConfig) debounce() time.Duration {
	if c.WatchDebounceMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.WatchDebounceMs) * time.Millisecond
}
