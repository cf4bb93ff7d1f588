package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
)

// Server is the application shell: a gin engine with every route mounted
// under the base path.
type Server struct {
	container *Container
	logger    *slog.Logger
	engine    *gin.Engine
	basePath  string
	pageAPI   *PageAPI
	serverAPI *ServerAPI
}

// NewServer creates the gin engine, installs the middleware chain, and registers the routes.
func NewServer(container *Container) (*Server, error) {
	config := container.Config.Server
	logger := container.Logger

	if parseLogLevel(config.LogLevel) == slog.LevelDebug {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	if err := engine.SetTrustedProxies(config.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	secureConfig := secure.Config{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}
	// Only add SSL-specific headers if SSL is terminated by this process.
	if config.SSL {
		secureConfig.SSLRedirect = true
		secureConfig.STSSeconds = 31536000
		secureConfig.STSIncludeSubdomains = true
	}

	engine.Use(
		requestLogger(logger),
		errorHandler(config, logger),
		secure.New(secureConfig),
	)

	server := &Server{
		container: container,
		logger:    logger,
		engine:    engine,
		basePath:  resolveBasePath(config, os.Getenv),
		pageAPI:   NewPageAPI(container.Views, logger),
		serverAPI: NewServerAPI(),
	}

	routes := engine.Group(server.basePath)
	server.pageAPI.RegisterRoutes(routes)
	server.serverAPI.RegisterRoutes(routes)

	if server.basePath != "" {
		logger.Info("Serving under base path", "base_path", server.basePath)
	}
	return server, nil
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// HTTPServer wraps the engine in an http.Server using the configured address and timeouts.
func (s *Server) HTTPServer() *http.Server {
	config := s.container.Config.Server
	return &http.Server{
		Addr:         config.ServerAddr,
		Handler:      s.engine,
		ReadTimeout:  time.Duration(config.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(config.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(config.IdleTimeoutSec) * time.Second,
	}
}

// BasePath derives the URL prefix the app is served under from the path of
// the entry script reported by the web server: the script's directory, without
// a trailing slash. It returns "" when the app sits at the web root.
//
//	/sub/dir/index.php -> /sub/dir
//	/index.php         -> ""
func BasePath(scriptName string) string {
	if scriptName == "" {
		return ""
	}
	dir := path.Dir(strings.ReplaceAll(scriptName, `\`, "/"))
	dir = strings.TrimRight(dir, "/")
	if dir == "" || dir == "." {
		return ""
	}
	return dir
}

// resolveBasePath picks the base path: the explicit base_path, then the one
// derived from script_name, then in cgi mode the SCRIPT_NAME from the environment.
func resolveBasePath(config *ServerConfig, getenv func(string) string) string {
	switch {
	case config.BasePath != "":
		p := "/" + strings.Trim(config.BasePath, "/")
		if p == "/" {
			return ""
		}
		return p
	case config.ScriptName != "":
		return BasePath(config.ScriptName)
	case config.Mode == modeCGI:
		return BasePath(getenv("SCRIPT_NAME"))
	}
	return ""
}
