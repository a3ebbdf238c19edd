package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vxsky/internal/bsky"
	"vxsky/internal/logging"
	"vxsky/internal/metrics"
	"vxsky/internal/useragent"
)

// Embed answers post page requests. Embed crawlers get an HTML page of meta
// tags describing the post; everyone else is redirected to bsky.app.
func (h *Handler) Embed(c *gin.Context) {
	identifier := c.Param("identifier")
	postID := c.Param("postID")
	postURL := postPageURL(identifier, postID)

	agent := c.GetHeader("User-Agent")
	if agent == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User-Agent header is required"})
		return
	}

	if !useragent.IsEmbedCrawler(agent) {
		metrics.Get().RecordEmbedDecision("redirect")
		c.Redirect(http.StatusFound, postURL)
		return
	}

	ctx := c.Request.Context()

	did, err := h.resolveDID(ctx, identifier)
	if err != nil {
		logging.L().Warn("handle resolution failed",
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not resolve handle"})
		return
	}

	uri := atURI(did, postID)
	post, err := h.getPost(ctx, uri)
	if err != nil {
		if errors.Is(err, bsky.ErrNoPost) {
			c.Status(http.StatusNoContent)
			return
		}
		logging.L().Error("post lookup failed", zap.String("uri", uri), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load post"})
		return
	}

	if post.Author.RequiresAuthentication() {
		metrics.Get().RecordEmbedDecision("gated")
		h.stats.RecordEmbedView(uri)
		c.HTML(http.StatusOK, "embed_account_gated.html", gin.H{
			"AuthorName":   post.Author.Name(),
			"AuthorHandle": post.Author.Handle,
			"PostURL":      postURL,
			"ImageURL":     h.baseURL + "/gated.png",
		})
		return
	}

	if post.Record.Type != bsky.TypeFeedPost {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "unsupported record type"})
		return
	}

	metrics.Get().RecordEmbedDecision("embed")
	h.stats.RecordEmbedView(uri)
	c.HTML(http.StatusOK, "embed_images.html", gin.H{
		"AuthorName":   post.Author.Name(),
		"AuthorHandle": post.Author.Handle,
		"Text":         post.Record.Text,
		"PostURL":      postURL,
		"ImageURL":     h.renderImageURL(uri),
	})
}
