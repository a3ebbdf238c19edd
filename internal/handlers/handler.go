// Package handlers implements the vxsky HTTP surface: the embed page served
// to crawler bots, the combined thumbnail renderer, and the operational
// endpoints.
package handlers

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vxsky/internal/bsky"
	"vxsky/internal/cache"
	"vxsky/internal/logging"
	"vxsky/internal/stats"
	"vxsky/internal/thumbnail"
)

//go:embed templates/*.html
var templateFS embed.FS

// Dimensions of the generated gated-account card. Matches the 1.91:1 ratio
// embed renderers expect for summary_large_image cards.
const (
	gatedCardWidth  = 1200
	gatedCardHeight = 630
)

// bskyAppURL is where humans are sent instead of the embed page.
const bskyAppURL = "https://bsky.app"

// projectProfileURL is where the bare domain points.
const projectProfileURL = bskyAppURL + "/profile/vxsky.app"

// PostSource resolves handles and fetches hydrated posts. Satisfied by
// *bsky.Client; kept as an interface so handler tests can stub the PDS.
type PostSource interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
	GetPost(ctx context.Context, uri string) (*bsky.PostView, error)
}

// Handler carries the dependencies shared by all routes.
type Handler struct {
	posts      PostSource
	cache      *cache.Cache
	stats      *stats.Store
	httpClient *http.Client
	baseURL    string

	gatedOnce sync.Once
	gatedPNG  []byte
	gatedErr  error
}

// New creates the route handler set. baseURL is the public origin of this
// instance, used to build absolute og:image URLs.
func New(posts PostSource, c *cache.Cache, s *stats.Store, baseURL string) *Handler {
	return &Handler{
		posts: posts,
		cache: c,
		stats: s,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: trimTrailingSlash(baseURL),
	}
}

// RegisterRoutes installs the templates and all vxsky routes on the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	router.GET("/", h.Index)
	router.GET("/profile/:identifier/post/:postID", h.Embed)
	router.GET("/render-combined-image.png", h.Render)
	router.GET("/gated.png", h.GatedImage)
	router.GET("/health", h.Health)
	router.GET("/stats", h.Stats)
}

// Index sends visitors of the bare domain to the project profile.
func (h *Handler) Index(c *gin.Context) {
	c.Redirect(http.StatusFound, projectProfileURL)
}

// GatedImage serves the placeholder card used for posts from accounts that
// require viewers to be signed in. The card is rendered once and reused.
func (h *Handler) GatedImage(c *gin.Context) {
	h.gatedOnce.Do(func() {
		h.gatedPNG, h.gatedErr = thumbnail.GatedCard(gatedCardWidth, gatedCardHeight)
	})
	if h.gatedErr != nil {
		logging.L().Error("failed to render gated card", zap.Error(h.gatedErr))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not render image"})
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", h.gatedPNG)
}

// Health reports liveness plus the state of the stats database.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	state := "healthy"
	database := "up"
	status := http.StatusOK
	if err := h.stats.Ping(ctx); err != nil {
		state = "degraded"
		database = "down"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":   state,
		"database": database,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats serves the aggregate embed counters and the busiest posts.
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	totals, err := h.stats.Totals(ctx)
	if err != nil {
		logging.L().Error("failed to load stats totals", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load stats"})
		return
	}

	top, err := h.stats.Top(ctx, 10)
	if err != nil {
		logging.L().Error("failed to load top posts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"totals": totals,
		"top":    top,
	})
}

// resolveDID resolves a handle (or DID) to a DID, caching the mapping.
func (h *Handler) resolveDID(ctx context.Context, identifier string) (string, error) {
	data, err := h.cache.GetOrSet(ctx, cache.HandleKey(identifier), cache.HandleTTL, func() ([]byte, error) {
		did, err := h.posts.ResolveHandle(ctx, identifier)
		if err != nil {
			return nil, err
		}
		return []byte(did), nil
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// getPost fetches a hydrated post, caching it briefly.
func (h *Handler) getPost(ctx context.Context, uri string) (*bsky.PostView, error) {
	var cached bsky.PostView
	if err := h.cache.GetJSON(ctx, cache.PostKey(uri), &cached); err == nil {
		return &cached, nil
	}

	post, err := h.posts.GetPost(ctx, uri)
	if err != nil {
		return nil, err
	}

	_ = h.cache.SetJSON(ctx, cache.PostKey(uri), post, cache.PostTTL)
	return post, nil
}

// renderImageURL builds the absolute og:image URL for a post's combined
// thumbnail.
func (h *Handler) renderImageURL(uri string) string {
	return h.baseURL + "/render-combined-image.png?uri=" + url.QueryEscape(uri)
}

func atURI(did, postID string) string {
	return fmt.Sprintf("at://%s/app.bsky.feed.post/%s", did, postID)
}

func postPageURL(identifier, postID string) string {
	return fmt.Sprintf("%s/profile/%s/post/%s", bskyAppURL, identifier, postID)
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
