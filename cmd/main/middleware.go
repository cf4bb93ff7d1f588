package main

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "Handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP())
	}
}

// errorPage is shown for HTML clients. Details are only filled in when
// display_error_details is on.
var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title>
<style>body{font-family:sans-serif;margin:2em}pre{background:#f4f4f4;padding:1em;overflow:auto}</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .Details}}<h2>Details</h2>{{range .Details}}<pre>{{.}}</pre>{{end}}{{end}}
</body>
</html>
`))

type errorView struct {
	Status  int      `json:"status"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// errorHandler turns panics, errors pushed with c.Error, and unmatched routes
// or methods into an error response, negotiating HTML or JSON.
func errorHandler(config *ServerConfig, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var stack []byte
		defer func() {
			if rec := recover(); rec != nil {
				stack = debug.Stack()
				_ = c.Error(fmt.Errorf("panic: %v", rec))
				c.Status(http.StatusInternalServerError)
				c.Abort()
				renderError(c, config, logger, stack)
			}
		}()

		c.Next()

		if len(c.Errors) > 0 || c.Writer.Status() >= http.StatusBadRequest {
			renderError(c, config, logger, stack)
		}
	}
}

func renderError(c *gin.Context, config *ServerConfig, logger *slog.Logger, stack []byte) {
	status := c.Writer.Status()
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}

	view := errorView{
		Status:  status,
		Title:   fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Message: "The application could not run because of an error.",
	}
	if status < http.StatusInternalServerError {
		view.Message = http.StatusText(status)
	}

	details := make([]string, 0, len(c.Errors)+1)
	for _, e := range c.Errors {
		details = append(details, e.Error())
	}
	if len(stack) > 0 {
		details = append(details, string(stack))
	}

	if config.LogErrors && len(c.Errors) > 0 {
		attrs := []any{"status", status, "path", c.Request.URL.Path, "error", c.Errors.Last().Err}
		if config.LogErrorDetails {
			attrs = append(attrs, "details", strings.Join(details, "\n"))
		}
		logger.Error("Request failed", attrs...)
	}

	// Headers are gone once the handler wrote; only logging is possible then.
	if c.Writer.Written() {
		return
	}

	if config.DisplayErrorDetails {
		view.Details = details
		if len(c.Errors) > 0 {
			view.Message = c.Errors.Last().Error()
		}
	}

	switch c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) {
	case gin.MIMEJSON:
		c.JSON(status, gin.H{"error": view})
	default:
		c.Status(status)
		c.Header("Content-Type", "text/html; charset=utf-8")
		if err := errorPage.Execute(c.Writer, view); err != nil {
			logger.Error("Failed to render error page", "error", err)
		}
	}
}
