package templating

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// TemplateDir is the directory holding the *.tmpl.html pages and *.part.html partials.
	TemplateDir string `json:"template_dir" yaml:"template_dir"`

	// CacheDir is where rendered output is cached. It is resolved once at startup
	// with ResolveCacheDir, and caching is turned off if it cannot be written to.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// Debug enables the dump template function and adds the template name
	// and render context to execution errors.
	Debug bool `json:"debug" yaml:"debug"`

	// AutoReload re-parses the template set before a render whenever a source
	// file changed on disk since the last parse.
	AutoReload bool `json:"auto_reload" yaml:"auto_reload"`
}

// DefaultConfig returns a TemplateConfig suited for development: templates are
// read from ./templates, rendered pages are cached in ./cache/templates, and
// both debug and auto-reload are on.
func DefaultConfig() *TemplateConfig {
	return &TemplateConfig{
		TemplateDir: "./templates",
		CacheDir:    "./cache/templates",
		Debug:       true,
		AutoReload:  true,
	}
}
