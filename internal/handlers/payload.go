package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chatvault/chatvault/internal/devicecache"
)

// PayloadHandler serves media payload bytes out of the device cache.
type PayloadHandler struct {
	cache  *devicecache.Service
	logger *slog.Logger
}

func NewPayloadHandler(log *slog.Logger, cache *devicecache.Service) *PayloadHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PayloadHandler{
		cache:  cache,
		logger: log.With(slog.String("handler", "payload")),
	}
}

func (h *PayloadHandler) Register(e *echo.Echo) {
	e.GET("/chat/payload", h.Serve)
}

// Serve returns the payload for url, fetching and caching it on a miss.
// Payloads above the cache's per-item ceiling are never buffered; the
// client is redirected to the source instead.
func (h *PayloadHandler) Serve(c echo.Context) error {
	url := strings.TrimSpace(c.QueryParam("url"))
	if url == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	ownerChannelKey := strings.TrimSpace(c.QueryParam("channel_key"))

	data, err := h.cache.Get(c.Request().Context(), url, ownerChannelKey)
	if err != nil {
		var oversize *devicecache.OversizeError
		if errors.As(err, &oversize) {
			return c.Redirect(http.StatusFound, oversize.URL)
		}
		if errors.Is(err, devicecache.ErrNotCached) {
			return echo.NewHTTPError(http.StatusNotFound, "payload not cached")
		}
		h.logger.Warn("payload fetch failed", slog.String("url", url), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "payload fetch failed")
	}
	return c.Blob(http.StatusOK, http.DetectContentType(data), data)
}
