package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chatvault/chatvault/internal/mediacache"
)

// MediaHandler resolves remote media urls into local cache refs.
type MediaHandler struct {
	cache  *mediacache.Service
	logger *slog.Logger
}

func NewMediaHandler(log *slog.Logger, cache *mediacache.Service) *MediaHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MediaHandler{
		cache:  cache,
		logger: log.With(slog.String("handler", "media")),
	}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	e.POST("/chat/media/resolve", h.Resolve)
}

type resolveRequest struct {
	URL   string `json:"url"`
	Class string `json:"class,omitempty"`
}

// Resolve fetches the url into the disk cache if needed and returns the
// local ref. class selects the cache partition; anything but "media" is
// treated as an image.
func (h *MediaHandler) Resolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	class := mediacache.ClassImage
	if strings.EqualFold(strings.TrimSpace(req.Class), "media") {
		class = mediacache.ClassMedia
	}
	ref, err := h.cache.Resolve(c.Request().Context(), req.URL, class)
	if err != nil {
		if errors.Is(err, mediacache.ErrEmptyURL) {
			return echo.NewHTTPError(http.StatusBadRequest, "url is required")
		}
		h.logger.Warn("media resolve failed", slog.String("url", req.URL), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "resolve failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"localRef": ref})
}
