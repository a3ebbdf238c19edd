package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	// Post thumbnails come off the CDN as JPEG; PNG shows up in tests and
	// the odd avatar.
	_ "image/jpeg"
	_ "image/png"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vxsky/internal/bsky"
	"vxsky/internal/cache"
	"vxsky/internal/logging"
	"vxsky/internal/metrics"
	"vxsky/internal/thumbnail"
)

// Render composes a post's attached images into a single PNG and serves it.
// Results are cached per AT URI.
func (h *Handler) Render(c *gin.Context) {
	uri := c.Query("uri")
	if uri == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uri query parameter is required"})
		return
	}

	ctx := c.Request.Context()

	if data, err := h.cache.Get(ctx, cache.ThumbnailKey(uri)); err == nil {
		c.Header("Cache-Control", "public, max-age=900")
		c.Data(http.StatusOK, "image/png", data)
		return
	}

	start := time.Now()

	post, err := h.getPost(ctx, uri)
	if err != nil {
		if errors.Is(err, bsky.ErrNoPost) {
			c.Status(http.StatusNoContent)
			return
		}
		metrics.Get().RecordRender("post_error", 0, 0)
		logging.L().Error("post lookup failed", zap.String("uri", uri), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load post"})
		return
	}

	if post.Embed == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "post has no images to render"})
		return
	}
	if post.Embed.Type != bsky.TypeEmbedImagesView {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "unsupported embed type"})
		return
	}
	if len(post.Embed.Images) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "post has no images to render"})
		return
	}

	images, err := h.downloadImages(ctx, post.Embed.Images)
	if err != nil {
		metrics.Get().RecordRender("download_error", len(post.Embed.Images), 0)
		logging.L().Error("image download failed", zap.String("uri", uri), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not download images"})
		return
	}

	data, err := thumbnail.Compose(images)
	if err != nil {
		metrics.Get().RecordRender("compose_error", len(images), 0)
		logging.L().Error("thumbnail composition failed", zap.String("uri", uri), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not compose image"})
		return
	}

	metrics.Get().RecordRender("success", len(images), time.Since(start))
	h.stats.RecordRender(uri)
	_ = h.cache.Set(ctx, cache.ThumbnailKey(uri), data, cache.ThumbnailTTL)

	c.Header("Cache-Control", "public, max-age=900")
	c.Data(http.StatusOK, "image/png", data)
}

// downloadImages fetches the thumbnail of every attached image concurrently,
// preserving order. Any single failure fails the whole render.
func (h *Handler) downloadImages(ctx context.Context, views []bsky.ViewImage) ([]image.Image, error) {
	if len(views) > thumbnail.MaxImages {
		views = views[:thumbnail.MaxImages]
	}

	images := make([]image.Image, len(views))
	errs := make([]error, len(views))

	var wg sync.WaitGroup
	for i, view := range views {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			images[i], errs[i] = h.downloadImage(ctx, url)
		}(i, view.Thumb)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return images, nil
}

func (h *Handler) downloadImage(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", url, err)
	}
	return img, nil
}
