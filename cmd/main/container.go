package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/CTAG07/resume-generator/pkg/templating"
)

// Container holds the process-wide dependencies. It is built once per server
// cycle and handed to the handlers through their constructors.
type Container struct {
	Config *Config
	Logger *slog.Logger
	Cache  templating.CacheOption

	// private - for cleanup
	cacheDB     *sql.DB
	renderCache *templating.RenderCache

	mu        sync.Mutex
	templates *templating.TemplateManager
}

// BuildContainer loads the configuration at configPath and assembles a Container from it.
func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewContainer(config, newLogger(config.Server)), nil
}

// NewContainer resolves the template cache directory and, when it is usable,
// opens the render cache inside it. Cache problems are logged and leave the
// container without a cache; they never fail startup.
func NewContainer(config *Config, logger *slog.Logger) *Container {
	c := &Container{
		Config: config,
		Logger: logger,
		Cache:  templating.ResolveCacheDir(config.Templates.CacheDir),
	}

	dir, ok := c.Cache.Path()
	if !ok {
		logger.Warn("Template cache directory is not writable, rendering without cache", "cache_dir", config.Templates.CacheDir)
		return c
	}

	db, err := openCacheDB(filepath.Join(dir, templating.CacheFileName))
	if err != nil {
		logger.Warn("Failed to open render cache, rendering without cache", "error", err)
		c.Cache = templating.CacheDisabled()
		return c
	}
	if err = templating.SetupCacheSchema(db); err != nil {
		logger.Warn("Failed to set up render cache schema, rendering without cache", "error", err)
		_ = db.Close()
		c.Cache = templating.CacheDisabled()
		return c
	}
	rc, err := templating.NewRenderCache(db)
	if err != nil {
		logger.Warn("Failed to prepare render cache, rendering without cache", "error", err)
		_ = db.Close()
		c.Cache = templating.CacheDisabled()
		return c
	}

	c.cacheDB = db
	c.renderCache = rc
	logger.Info("Render cache enabled", "cache_dir", dir)
	return c
}

// Templates returns the shared TemplateManager, constructing it on first use.
// A failed construction is not memoized, so a fixed template set is picked up
// by the next request.
func (c *Container) Templates() (*templating.TemplateManager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.templates != nil {
		return c.templates, nil
	}
	tm, err := templating.NewTemplateManager(c.Logger, c.Config.Templates, c.renderCache)
	if err != nil {
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	c.templates = tm
	return tm, nil
}

// Views adapts Templates to the ViewRenderer interface the page handlers take.
func (c *Container) Views() (ViewRenderer, error) {
	tm, err := c.Templates()
	if err != nil {
		return nil, err
	}
	return tm, nil
}

// Close releases the render cache.
func (c *Container) Close() error {
	if c.renderCache != nil {
		c.renderCache.Close()
	}
	if c.cacheDB != nil {
		if err := c.cacheDB.Close(); err != nil {
			return fmt.Errorf("failed to close render cache database: %w", err)
		}
	}
	return nil
}
