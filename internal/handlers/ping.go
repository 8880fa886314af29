package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chatvault/chatvault/internal/archive"
)

// PingHandler answers liveness probes with the last archive flush time.
type PingHandler struct {
	store  *archive.Store
	logger *slog.Logger
}

func NewPingHandler(log *slog.Logger, store *archive.Store) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{
		store:  store,
		logger: log.With(slog.String("handler", "ping")),
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"lastSaveTime": h.store.Read().LastSaveTime,
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
