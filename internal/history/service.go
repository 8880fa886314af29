package history

import (
	"log/slog"
	"sort"

	"github.com/chatvault/chatvault/internal/archive"
)

// Page is one slice of a channel's history plus the channel's total count.
type Page struct {
	Messages []archive.Message `json:"messages"`
	Total    int               `json:"total"`
}

// Service reads paged history out of the archive store.
type Service struct {
	store  *archive.Store
	logger *slog.Logger
}

func NewService(log *slog.Logger, store *archive.Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "history")),
	}
}

// Page returns limit messages at offset, counting back from the newest.
// Offset 0 with limit 50 is the latest 50 messages; offset 50 the 50
// before those. The slice itself is returned oldest-first so clients can
// render it top to bottom. limit <= 0 returns the whole channel.
func (s *Service) Page(selfID, channelID string, limit, offset int) Page {
	messages := s.store.MessagesFor(selfID, channelID)
	total := len(messages)
	if limit <= 0 {
		archive.SortAscending(messages)
		return Page{Messages: messages, Total: total}
	}
	if offset < 0 {
		offset = 0
	}
	// Sort newest-first, take the window, then flip back to ascending.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp > messages[j].Timestamp
	})
	if offset >= total {
		return Page{Messages: []archive.Message{}, Total: total}
	}
	end := offset + limit
	if end > total {
		end = total
	}
	window := append([]archive.Message{}, messages[offset:end]...)
	archive.SortAscending(window)
	return Page{Messages: window, Total: total}
}

// Counts returns the number of stored messages per channel key.
func (s *Service) Counts() map[string]int {
	return s.store.Counts()
}
