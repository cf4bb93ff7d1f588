package templating

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	pagePattern    = "*.tmpl.html"
	partialPattern = "*.part.html"
)

// TemplateManager is the central controller for the templating engine.
// It manages the template set, configuration, function map, and the optional
// render cache. It is responsible for loading, parsing, and executing templates
// in a concurrent-safe manner.
// All methods are concurrent-safe.
type TemplateManager struct {
	logger        *slog.Logger
	config        *TemplateConfig
	cache         *RenderCache
	templates     *template.Template
	templateNames []string
	funcMap       template.FuncMap
	templateDir   string
	fingerprint   string // content hash of the parsed set
	signature     string // stat summary used by auto-reload
	mu            sync.RWMutex
}

// NewTemplateManager creates, initializes, and returns a new TemplateManager.
// It requires a logger, a configuration whose TemplateDir holds the template
// files, and an optional RenderCache (nil disables caching). It performs an
// initial Refresh to load all templates.
func NewTemplateManager(logger *slog.Logger, config *TemplateConfig, cache *RenderCache) (*TemplateManager, error) {
	tm := &TemplateManager{
		logger:      logger,
		config:      config,
		cache:       cache,
		templateDir: config.TemplateDir,
	}
	tm.funcMap = tm.makeFuncMap()

	if err := tm.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized", "template_dir", tm.templateDir, "cache", cache != nil)
	return tm, nil
}

func (tm *TemplateManager) makeFuncMap() template.FuncMap {
	return template.FuncMap{
		// Logic (from funcs_logic.go)
		"dict":    dict,
		"default": defaultValue,

		// Debugging
		"dump": tm.dump,
	}
}

// Refresh reloads all templates from the filesystem. This function allows for
// updates to templates without restarting the application. When a render cache
// is attached, entries rendered from a previous template set are pruned.
func (tm *TemplateManager) Refresh() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.refreshLocked()
}

func (tm *TemplateManager) refreshLocked() error {
	filePattern := filepath.Join(tm.templateDir, pagePattern)
	tm.logger.Debug("Loading template files...", "pattern", filePattern)

	parsedFiles, err := template.New("").Funcs(tm.funcMap).ParseGlob(filePattern)
	var names []string
	if err != nil {
		if !strings.Contains(err.Error(), "pattern matches no files") {
			tm.logger.Error("failed to parse template files", "error", err)
			return fmt.Errorf("failed to parse template files: %w", err)
		}
		// No template files, so we have to create the object without any
		parsedFiles = template.New("").Funcs(tm.funcMap)
		names = []string{}
	} else {
		for _, t := range parsedFiles.Templates() {
			// The root template has no name and is never executed
			if strings.HasSuffix(t.Name(), ".tmpl.html") {
				names = append(names, t.Name())
			}
		}
	}

	partialGlob := filepath.Join(tm.templateDir, partialPattern)
	newParsedFiles, err := parsedFiles.ParseGlob(partialGlob)
	if err != nil {
		if !strings.Contains(err.Error(), "pattern matches no files") {
			tm.logger.Error("failed to parse partial files", "error", err)
			return fmt.Errorf("failed to parse partial files: %w", err)
		}
		newParsedFiles = parsedFiles
	}

	if len(names) == 0 {
		tm.logger.Warn("No template files found matching pattern", "pattern", filePattern)
	}
	sort.Strings(names)

	files, err := tm.templateFiles()
	if err != nil {
		return err
	}
	fingerprint, err := fingerprintFiles(files)
	if err != nil {
		return err
	}
	signature, err := signFiles(files)
	if err != nil {
		return err
	}

	previous := tm.fingerprint
	tm.templates = newParsedFiles
	tm.templateNames = names
	tm.fingerprint = fingerprint
	tm.signature = signature
	tm.logger.Info("Loaded template and partial files", "count", len(newParsedFiles.Templates())-1, "fingerprint", fingerprint[:12])

	if tm.cache != nil && previous != fingerprint {
		pruned, err := tm.cache.PruneStale(context.Background(), fingerprint)
		if err != nil {
			tm.logger.Warn("failed to prune render cache", "error", err)
		} else if pruned > 0 {
			tm.logger.Info("Pruned stale render cache entries", "count", pruned)
		}
	}

	return nil
}

// Render executes the named template with data and returns the output. With
// AutoReload on, changed template files are re-parsed first. With a render
// cache attached, a previous render of the same template set and data is
// returned without executing the template.
func (tm *TemplateManager) Render(ctx context.Context, name string, data any) (string, error) {
	if tm.config.AutoReload {
		if err := tm.reloadIfChanged(); err != nil {
			return "", err
		}
	}

	if name == "" {
		return "", fmt.Errorf("template name is empty")
	}
	templates, fingerprint := tm.snapshot()

	var key string
	cacheable := false
	if tm.cache != nil {
		key, cacheable = cacheKey(name, fingerprint, data)
	}
	if cacheable {
		content, hit, err := tm.cache.Get(ctx, key)
		if err != nil {
			tm.logger.Warn("Render cache read failed, rendering live", "template", name, "error", err)
		} else if hit {
			tm.logger.Debug("Render cache hit", "template", name)
			return content, nil
		}
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		if tm.config.Debug {
			return "", fmt.Errorf("rendering %q with context %v: %w", name, data, err)
		}
		return "", fmt.Errorf("rendering %q: %w", name, err)
	}
	content := buf.String()

	// A reload during execution has already pruned this fingerprint.
	if cacheable && tm.Fingerprint() == fingerprint {
		if err := tm.cache.Put(ctx, key, name, fingerprint, content); err != nil {
			tm.logger.Warn("Render cache write failed", "template", name, "error", err)
		}
	}
	return content, nil
}

// snapshot returns the parsed template set together with the fingerprint of
// the files it was parsed from.
func (tm *TemplateManager) snapshot() (*template.Template, string) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templates, tm.fingerprint
}

// Execute renders a specific template by name, writing the output to the provided io.Writer.
// The `data` argument is passed to the template and can be used to provide context or
// dynamic values. It never consults the render cache.
func (tm *TemplateManager) Execute(w io.Writer, name string, data any) error {
	if name == "" {
		return fmt.Errorf("template name is empty")
	}
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templates.ExecuteTemplate(w, name, data)
}

// reloadIfChanged re-parses the template set when the stat signature of the
// template files differs from the one recorded at the last parse.
func (tm *TemplateManager) reloadIfChanged() error {
	files, err := tm.templateFiles()
	if err != nil {
		return err
	}
	signature, err := signFiles(files)
	if err != nil {
		return err
	}

	tm.mu.RLock()
	unchanged := signature == tm.signature
	tm.mu.RUnlock()
	if unchanged {
		return nil
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if signature == tm.signature {
		return nil
	}
	tm.logger.Info("Template files changed, reloading", "template_dir", tm.templateDir)
	return tm.refreshLocked()
}

// TemplateNames returns the names of the loaded page templates, sorted.
func (tm *TemplateManager) TemplateNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	names := make([]string, len(tm.templateNames))
	copy(names, tm.templateNames)
	return names
}

// GetConfig returns a copy of the current configuration.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// GetTemplateDir returns the template dir that the TemplateManager uses.
func (tm *TemplateManager) GetTemplateDir() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templateDir
}

// Fingerprint returns the content hash of the currently parsed template set.
func (tm *TemplateManager) Fingerprint() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.fingerprint
}

// dump renders v as indented JSON inside a <pre> block. It renders nothing
// unless Debug is on.
func (tm *TemplateManager) dump(v any) template.HTML {
	if !tm.config.Debug {
		return ""
	}
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		encoded = []byte(fmt.Sprintf("%#v", v))
	}
	return template.HTML(`<pre class="dump">` + template.HTMLEscapeString(string(encoded)) + `</pre>`)
}

// templateFiles lists every page and partial file, sorted by path.
func (tm *TemplateManager) templateFiles() ([]string, error) {
	var files []string
	for _, pattern := range []string{pagePattern, partialPattern} {
		matches, err := filepath.Glob(filepath.Join(tm.templateDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to list template files: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func fingerprintFiles(files []string) (string, error) {
	h := sha256.New()
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read template file: %w", err)
		}
		h.Write([]byte(filepath.Base(file)))
		h.Write([]byte{0})
		h.Write(content)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func signFiles(files []string) (string, error) {
	var sb strings.Builder
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			return "", fmt.Errorf("failed to stat template file: %w", err)
		}
		sb.WriteString(file)
		sb.WriteByte('|')
		sb.WriteString(strconv.FormatInt(info.Size(), 10))
		sb.WriteByte('|')
		sb.WriteString(strconv.FormatInt(info.ModTime().UnixNano(), 10))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
