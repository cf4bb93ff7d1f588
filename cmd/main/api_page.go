package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const homeTemplate = "index.tmpl.html"

// ViewRenderer renders a named template with a render context.
type ViewRenderer interface {
	Render(ctx context.Context, name string, data any) (string, error)
}

// ViewProvider hands out the shared renderer. It is called per request so the
// renderer can be built lazily.
type ViewProvider func() (ViewRenderer, error)

// PageAPI holds the dependencies for the HTML page handlers.
type PageAPI struct {
	views  ViewProvider
	logger *slog.Logger
}

// NewPageAPI creates a new instance of the PageAPI.
func NewPageAPI(views ViewProvider, logger *slog.Logger) *PageAPI {
	return &PageAPI{
		views:  views,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for the HTML pages.
func (p *PageAPI) RegisterRoutes(r gin.IRoutes) {
	r.GET("/", p.handleHome)
	r.HEAD("/", p.handleHome)
}

// handleHome renders the homepage. Failures go to the error middleware.
func (p *PageAPI) handleHome(c *gin.Context) {
	views, err := p.views()
	if err != nil {
		_ = c.Error(err)
		return
	}

	html, err := views.Render(c.Request.Context(), homeTemplate, map[string]any{
		"title":   "Resume Generator",
		"message": "Welcome to the Resume Generator",
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}
