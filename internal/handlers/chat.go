package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chatvault/chatvault/internal/archive"
	"github.com/chatvault/chatvault/internal/history"
	"github.com/chatvault/chatvault/internal/ingest"
	"github.com/chatvault/chatvault/internal/platform"
)

// ChatHandler serves the console's archive endpoints.
type ChatHandler struct {
	store       *archive.Store
	history     *history.Service
	pipeline    *ingest.Pipeline
	keepOnClear int
	logger      *slog.Logger
}

func NewChatHandler(log *slog.Logger, store *archive.Store, historyService *history.Service, pipeline *ingest.Pipeline, keepOnClear int) *ChatHandler {
	if log == nil {
		log = slog.Default()
	}
	if keepOnClear < 0 {
		keepOnClear = 0
	}
	return &ChatHandler{
		store:       store,
		history:     historyService,
		pipeline:    pipeline,
		keepOnClear: keepOnClear,
		logger:      log.With(slog.String("handler", "chat")),
	}
}

func (h *ChatHandler) Register(e *echo.Echo) {
	g := e.Group("/chat")
	g.GET("/metadata", h.Metadata)
	g.GET("/history", h.History)
	g.GET("/counts", h.Counts)
	g.POST("/clear", h.ClearChannel)
	g.POST("/pinned", h.SetPinned)
	g.POST("/users/refresh", h.RefreshUser)
	g.DELETE("/bots/:self_id", h.DeleteBot)
	g.DELETE("/channels", h.DeleteChannel)
}

// Metadata returns the archive without message lists. Clients page for
// messages per channel instead of receiving the full document.
func (h *ChatHandler) Metadata(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Metadata())
}

// History returns one page of a channel's messages, oldest first, plus the
// channel total. Omitting limit returns the whole channel.
func (h *ChatHandler) History(c echo.Context) error {
	selfID := strings.TrimSpace(c.QueryParam("self_id"))
	channelID := strings.TrimSpace(c.QueryParam("channel_id"))
	if selfID == "" || channelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "self_id and channel_id are required")
	}
	limit := 0
	if s := strings.TrimSpace(c.QueryParam("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	offset := 0
	if s := strings.TrimSpace(c.QueryParam("offset")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		offset = n
	}
	return c.JSON(http.StatusOK, h.history.Page(selfID, channelID, limit, offset))
}

// Counts returns the stored message count per channel key.
func (h *ChatHandler) Counts(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"counts": h.history.Counts()})
}

type clearRequest struct {
	SelfID    string `json:"selfId"`
	ChannelID string `json:"channelId"`
	KeepCount *int   `json:"keepCount,omitempty"`
}

// ClearChannel drops a channel's history except the most recent keepCount
// messages. keepCount defaults to the configured keep-on-clear value; an
// explicit zero clears everything.
func (h *ChatHandler) ClearChannel(c echo.Context) error {
	var req clearRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.SelfID) == "" || strings.TrimSpace(req.ChannelID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "selfId and channelId are required")
	}
	keep := h.keepOnClear
	if req.KeepCount != nil {
		if *req.KeepCount < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "keepCount must not be negative")
		}
		keep = *req.KeepCount
	}
	cleared, kept := h.store.ClearChannel(req.SelfID, req.ChannelID, keep)
	return c.JSON(http.StatusOK, map[string]int{
		"clearedCount": cleared,
		"keptCount":    kept,
	})
}

type pinnedRequest struct {
	PinnedBots     *[]string `json:"pinnedBots,omitempty"`
	PinnedChannels *[]string `json:"pinnedChannels,omitempty"`
}

// SetPinned replaces the pinned lists. Omitted fields keep their value.
func (h *ChatHandler) SetPinned(c echo.Context) error {
	var req pinnedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var bots, channels []string
	if req.PinnedBots != nil {
		bots = *req.PinnedBots
		if bots == nil {
			bots = []string{}
		}
	}
	if req.PinnedChannels != nil {
		channels = *req.PinnedChannels
		if channels == nil {
			channels = []string{}
		}
	}
	h.store.SetPinned(bots, channels)
	return c.JSON(http.StatusOK, h.store.Metadata())
}

type refreshUserRequest struct {
	SelfID string `json:"selfId"`
	UserID string `json:"userId"`
}

// RefreshUser re-resolves a user's profile through the bot's connection and
// rewrites the stored name and avatar.
func (h *ChatHandler) RefreshUser(c echo.Context) error {
	var req refreshUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.SelfID) == "" || strings.TrimSpace(req.UserID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "selfId and userId are required")
	}
	user, changed, err := h.pipeline.RefreshUser(c.Request().Context(), req.SelfID, req.UserID)
	if err != nil {
		if errors.Is(err, platform.ErrNoConnector) {
			return echo.NewHTTPError(http.StatusNotFound, "no connection for bot")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user":    user,
		"changed": changed,
	})
}

// DeleteBot removes a bot's profile, channels and messages.
func (h *ChatHandler) DeleteBot(c echo.Context) error {
	selfID := strings.TrimSpace(c.Param("self_id"))
	if selfID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "self_id is required")
	}
	channels, messages := h.store.DeleteBot(selfID)
	return c.JSON(http.StatusOK, map[string]int{
		"deletedChannels": channels,
		"deletedMessages": messages,
	})
}

// DeleteChannel removes one channel's record and messages.
func (h *ChatHandler) DeleteChannel(c echo.Context) error {
	selfID := strings.TrimSpace(c.QueryParam("self_id"))
	channelID := strings.TrimSpace(c.QueryParam("channel_id"))
	if selfID == "" || channelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "self_id and channel_id are required")
	}
	messages := h.store.DeleteChannel(selfID, channelID)
	return c.JSON(http.StatusOK, map[string]int{"deletedMessages": messages})
}
