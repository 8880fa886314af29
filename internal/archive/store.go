package archive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Options tunes the store's retention bound and flush debounce.
type Options struct {
	// MaxMessagesPerChannel caps each channel's message list.
	MaxMessagesPerChannel int
	// DebounceInterval is the delay between the last append and the flush.
	// Every append re-arms the timer, so a sustained burst defers the
	// flush until the burst pauses.
	DebounceInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxMessagesPerChannel <= 0 {
		o.MaxMessagesPerChannel = 500
	}
	if o.DebounceInterval <= 0 {
		o.DebounceInterval = time.Second
	}
	return o
}

// Store owns the authoritative archive: an in-process cache over one JSON
// document on disk. All mutation funnels through its methods; readers
// receive clones. File writes are debounced and best-effort — a flush
// failure is logged and the cache stays the source of truth until the next
// successful flush.
type Store struct {
	path   string
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	cache    *Archive
	pending  []Message
	timer    *time.Timer
	disposed bool

	// flushMu serializes file writes so overlapping async flushes cannot
	// interleave on the temp file.
	flushMu sync.Mutex
}

// NewStore creates a store backed by the JSON document at path. The file is
// not touched until the first read or flush.
func NewStore(log *slog.Logger, path string, opts Options) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		path:   path,
		opts:   opts.withDefaults(),
		logger: log.With(slog.String("service", "archive")),
	}
}

// Read returns a snapshot of the current archive. The first call parses the
// backing file; a missing or corrupt file yields an empty archive.
func (s *Store) Read() *Archive {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return s.cache.Clone()
}

// Write replaces the in-process cache immediately and schedules the file
// write asynchronously. Concurrent writes converge to last-write-wins.
func (s *Store) Write(a *Archive) {
	s.mu.Lock()
	next := a.Clone()
	next.normalize()
	next.LastSaveTime = time.Now().UnixMilli()
	s.cache = next
	s.mu.Unlock()
	go s.persist()
}

// Append queues msg for the next debounced flush and inserts it into the
// cache immediately, so a Read issued after Append observes it. Duplicate
// and over-cap records are resolved on insert.
func (s *Store) Append(msg Message) {
	s.mu.Lock()
	s.loadLocked()
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	s.pending = append(s.pending, msg)
	key := msg.ChannelKey()
	s.cache.Messages[key], _ = Insert(s.cache.Messages[key], msg, s.opts.MaxMessagesPerChannel)
	if s.disposed {
		s.mergePendingLocked()
		s.mu.Unlock()
		s.persist()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.opts.DebounceInterval, s.flushDebounced)
	s.mu.Unlock()
}

// Dispose cancels the debounce timer and flushes the pending queue
// synchronously. Required at shutdown so no appended message is lost.
func (s *Store) Dispose() {
	s.mu.Lock()
	s.disposed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mergePendingLocked()
	s.mu.Unlock()
	s.persist()
}

func (s *Store) flushDebounced() {
	s.mu.Lock()
	s.timer = nil
	s.mergePendingLocked()
	s.mu.Unlock()
	s.persist()
}

// mergePendingLocked folds the queued messages into the cache in call
// order, deduplicated and retention-pruned. Appends already inserted each
// message into the cache, so the merge is a no-op for records that
// survived; it exists so the queue, not the cache, defines flush semantics.
func (s *Store) mergePendingLocked() {
	s.loadLocked()
	for _, msg := range s.pending {
		key := msg.ChannelKey()
		s.cache.Messages[key], _ = Insert(s.cache.Messages[key], msg, s.opts.MaxMessagesPerChannel)
	}
	s.pending = s.pending[:0]
	s.cache.LastSaveTime = time.Now().UnixMilli()
}

func (s *Store) loadLocked() {
	if s.cache != nil {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read archive failed, starting empty", slog.Any("error", err))
		}
		s.cache = NewArchive()
		return
	}
	parsed := &Archive{}
	if err := json.Unmarshal(data, parsed); err != nil {
		s.logger.Warn("archive file corrupt, starting empty", slog.Any("error", err))
		s.cache = NewArchive()
		return
	}
	parsed.normalize()
	s.cache = parsed
}

// persist writes the current state to disk atomically. The snapshot is
// taken at write time, under the flush lock, so overlapping persists never
// replace a newer document with an older one. Errors are logged and
// swallowed: the cache remains authoritative until the next flush.
func (s *Store) persist() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.mu.Lock()
	s.loadLocked()
	snapshot := s.cache.Clone()
	s.mu.Unlock()
	if err := s.writeFile(snapshot); err != nil {
		s.logger.Error("archive flush failed", slog.Any("error", err))
	}
}

func (s *Store) writeFile(a *Archive) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace archive: %w", err)
	}
	return nil
}

// commitLocked stamps the save time. Callers persist asynchronously after
// releasing the lock.
func (s *Store) commitLocked() {
	s.cache.LastSaveTime = time.Now().UnixMilli()
}

// --- domain mutations and targeted reads ---

// UpsertBot records or refreshes a bot profile.
func (s *Store) UpsertBot(bot Bot) {
	s.mu.Lock()
	s.loadLocked()
	s.cache.Bots[bot.SelfID] = bot
	s.commitLocked()
	s.mu.Unlock()
	go s.persist()
}

// UpsertChannel records or refreshes a channel. Names are last-write-wins.
func (s *Store) UpsertChannel(selfID string, ch Channel) {
	s.mu.Lock()
	s.loadLocked()
	if s.cache.Channels[selfID] == nil {
		s.cache.Channels[selfID] = map[string]Channel{}
	}
	s.cache.Channels[selfID][ch.ID] = ch
	s.commitLocked()
	s.mu.Unlock()
	go s.persist()
}

// ChannelInfo returns the stored channel record, if any.
func (s *Store) ChannelInfo(selfID, channelID string) (Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	ch, ok := s.cache.Channels[selfID][channelID]
	return ch, ok
}

// MessagesFor returns a copy of one channel's message list.
func (s *Store) MessagesFor(selfID, channelID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return append([]Message{}, s.cache.Messages[ChannelKey(selfID, channelID)]...)
}

// QuotedMessage looks up a message by id within one channel.
func (s *Store) QuotedMessage(selfID, channelID, id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	for _, msg := range s.cache.Messages[ChannelKey(selfID, channelID)] {
		if msg.ID == id {
			return msg, true
		}
	}
	return Message{}, false
}

// Counts returns the message count per channel key.
func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	counts := make(map[string]int, len(s.cache.Messages))
	for key, messages := range s.cache.Messages {
		counts[key] = len(messages)
	}
	return counts
}

// Metadata returns the archive without its message lists.
func (s *Store) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	clone := s.cache.Clone()
	return Metadata{
		Bots:           clone.Bots,
		Channels:       clone.Channels,
		PinnedBots:     clone.PinnedBots,
		PinnedChannels: clone.PinnedChannels,
	}
}

// ClearChannel drops all but the keep most recent messages of a channel.
// keep <= 0 clears the channel entirely.
func (s *Store) ClearChannel(selfID, channelID string, keep int) (cleared, kept int) {
	s.mu.Lock()
	s.loadLocked()
	key := ChannelKey(selfID, channelID)
	messages := s.cache.Messages[key]
	original := len(messages)
	if original == 0 {
		s.mu.Unlock()
		return 0, 0
	}
	SortAscending(messages)
	var remaining []Message
	if keep > 0 && keep < original {
		remaining = append([]Message{}, messages[original-keep:]...)
	} else if keep >= original {
		s.mu.Unlock()
		return 0, original
	} else {
		remaining = []Message{}
	}
	s.cache.Messages[key] = remaining
	s.commitLocked()
	s.mu.Unlock()
	go s.persist()
	return original - len(remaining), len(remaining)
}

// DeleteBot removes a bot's profile, channels and message lists.
func (s *Store) DeleteBot(selfID string) (channels, messages int) {
	s.mu.Lock()
	s.loadLocked()
	channels = len(s.cache.Channels[selfID])
	delete(s.cache.Channels, selfID)
	delete(s.cache.Bots, selfID)
	prefix := selfID + ":"
	for key, list := range s.cache.Messages {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			messages += len(list)
			delete(s.cache.Messages, key)
		}
	}
	s.commitLocked()
	s.mu.Unlock()
	go s.persist()
	return channels, messages
}

// DeleteChannel removes one channel's record and messages.
func (s *Store) DeleteChannel(selfID, channelID string) (messages int) {
	s.mu.Lock()
	s.loadLocked()
	key := ChannelKey(selfID, channelID)
	messages = len(s.cache.Messages[key])
	delete(s.cache.Messages, key)
	if inner, ok := s.cache.Channels[selfID]; ok {
		delete(inner, channelID)
	}
	s.commitLocked()
	s.mu.Unlock()
	go s.persist()
	return messages
}

// SetPinned replaces the pinned lists. A nil slice leaves that list as is.
func (s *Store) SetPinned(bots, channels []string) {
	s.mu.Lock()
	s.loadLocked()
	if bots != nil {
		s.cache.PinnedBots = append([]string{}, bots...)
	}
	if channels != nil {
		s.cache.PinnedChannels = append([]string{}, channels...)
	}
	s.commitLocked()
	s.mu.Unlock()
	go s.persist()
}

// ConfirmPending rewrites the most recent pending bot message of a channel
// to carry the platform-assigned id. This is an identity migration of the
// existing record, not a new record. It returns the placeholder id that was
// replaced.
func (s *Store) ConfirmPending(selfID, channelID, platformID string) (placeholderID string, ok bool) {
	s.mu.Lock()
	s.loadLocked()
	key := ChannelKey(selfID, channelID)
	messages := s.cache.Messages[key]
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleBot && messages[i].Pending {
			placeholderID = messages[i].ID
			messages[i].ID = platformID
			messages[i].Pending = false
			s.commitLocked()
			s.mu.Unlock()
			go s.persist()
			return placeholderID, true
		}
	}
	s.mu.Unlock()
	return "", false
}

// RefreshUser rewrites a user's display name and avatar across a bot's
// stored messages and renames the user's direct channels. It reports
// whether anything changed.
func (s *Store) RefreshUser(selfID, userID, name, avatar string) bool {
	s.mu.Lock()
	s.loadLocked()
	changed := false
	prefix := selfID + ":"
	for key, messages := range s.cache.Messages {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		for i := range messages {
			if messages[i].AuthorID != userID {
				continue
			}
			if name != "" && messages[i].AuthorName != name {
				messages[i].AuthorName = name
				changed = true
			}
			if avatar != "" && messages[i].Avatar != avatar {
				messages[i].Avatar = avatar
				changed = true
			}
		}
	}
	if name != "" {
		for channelID, ch := range s.cache.Channels[selfID] {
			if !ch.IsDirect || !directChannelFor(channelID, userID) {
				continue
			}
			newName := DirectChannelName(name)
			if ch.Name != newName {
				ch.Name = newName
				s.cache.Channels[selfID][channelID] = ch
				changed = true
			}
		}
	}
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.commitLocked()
	s.mu.Unlock()
	go s.persist()
	return true
}

// PruneAll applies the retention bound to every channel. Used at startup
// and by the periodic sweep. Returns the number of dropped messages.
func (s *Store) PruneAll() int {
	s.mu.Lock()
	s.loadLocked()
	total := 0
	for key, messages := range s.cache.Messages {
		kept, dropped := Prune(messages, s.opts.MaxMessagesPerChannel)
		if dropped > 0 {
			s.cache.Messages[key] = kept
			total += dropped
		}
	}
	if total == 0 {
		s.mu.Unlock()
		return 0
	}
	s.commitLocked()
	s.mu.Unlock()
	go s.persist()
	return total
}

// DirectChannelName formats the display name of a direct-message channel.
func DirectChannelName(userName string) string {
	if userName == "" {
		return "DM (unknown user)"
	}
	return "DM (" + userName + ")"
}

// directChannelFor reports whether a direct channel id belongs to userID.
// Platforms name direct channels either by the bare user id or with a
// platform prefix, "private:user9".
func directChannelFor(channelID, userID string) bool {
	if channelID == userID {
		return true
	}
	suffix := ":" + userID
	return len(channelID) > len(suffix) && channelID[len(channelID)-len(suffix):] == suffix
}
