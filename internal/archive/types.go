package archive

import "strings"

// Role classifies who authored a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Bot describes one bot account, keyed by its self id.
type Bot struct {
	SelfID   string `json:"selfId"`
	Platform string `json:"platform"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Status   string `json:"status"`
}

// Channel describes one conversation channel under a bot.
// Name is re-resolved lazily from the platform and overwritten in place.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      int    `json:"type"`
	GuildName string `json:"guildName,omitempty"`
	IsDirect  bool   `json:"isDirect"`
}

// Element is one node of a message's rich-content tree.
type Element struct {
	Type     string            `json:"type"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []Element         `json:"children,omitempty"`
}

// Quote carries the referenced message of a reply.
type Quote struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Elements   []Element `json:"elements,omitempty"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Avatar     string    `json:"avatar,omitempty"`
	Timestamp  int64     `json:"timestamp"`
}

// Message is one archived chat message. Identity is (channel key, ID).
// Bot messages awaiting platform confirmation carry a placeholder ID and
// Pending=true until the send is acknowledged.
type Message struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Avatar     string    `json:"avatar,omitempty"`
	Timestamp  int64     `json:"timestamp"`
	ChannelID  string    `json:"channelId"`
	SelfID     string    `json:"selfId"`
	Elements   []Element `json:"elements,omitempty"`
	Role       Role      `json:"role"`
	GuildName  string    `json:"guildName,omitempty"`
	Platform   string    `json:"platform"`
	Quote      *Quote    `json:"quote,omitempty"`
	IsDirect   bool      `json:"isDirect"`
	Pending    bool      `json:"pending,omitempty"`
}

// ChannelKey returns the composite key partitioning per-channel state.
func ChannelKey(selfID, channelID string) string {
	return selfID + ":" + channelID
}

// SplitChannelKey splits a channel key back into its parts.
func SplitChannelKey(key string) (selfID, channelID string) {
	idx := strings.IndexByte(key, ':')
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

// ChannelKey returns the message's channel key.
func (m Message) ChannelKey() string {
	return ChannelKey(m.SelfID, m.ChannelID)
}

// Archive is the full persisted state: one JSON document on disk.
type Archive struct {
	Bots           map[string]Bot                `json:"bots"`
	Channels       map[string]map[string]Channel `json:"channels"`
	Messages       map[string][]Message          `json:"messages"`
	PinnedBots     []string                      `json:"pinnedBots"`
	PinnedChannels []string                      `json:"pinnedChannels"`
	LastSaveTime   int64                         `json:"lastSaveTime"`
}

// NewArchive returns an empty archive with all containers initialized.
func NewArchive() *Archive {
	return &Archive{
		Bots:           map[string]Bot{},
		Channels:       map[string]map[string]Channel{},
		Messages:       map[string][]Message{},
		PinnedBots:     []string{},
		PinnedChannels: []string{},
	}
}

// normalize fills nil containers after a JSON decode of a partial document.
func (a *Archive) normalize() {
	if a.Bots == nil {
		a.Bots = map[string]Bot{}
	}
	if a.Channels == nil {
		a.Channels = map[string]map[string]Channel{}
	}
	if a.Messages == nil {
		a.Messages = map[string][]Message{}
	}
	if a.PinnedBots == nil {
		a.PinnedBots = []string{}
	}
	if a.PinnedChannels == nil {
		a.PinnedChannels = []string{}
	}
}

// Clone returns a deep copy. Readers get clones so that all mutation of the
// authoritative state funnels through the store's own methods.
func (a *Archive) Clone() *Archive {
	clone := &Archive{
		Bots:           make(map[string]Bot, len(a.Bots)),
		Channels:       make(map[string]map[string]Channel, len(a.Channels)),
		Messages:       make(map[string][]Message, len(a.Messages)),
		PinnedBots:     append([]string{}, a.PinnedBots...),
		PinnedChannels: append([]string{}, a.PinnedChannels...),
		LastSaveTime:   a.LastSaveTime,
	}
	for selfID, bot := range a.Bots {
		clone.Bots[selfID] = bot
	}
	for selfID, channels := range a.Channels {
		inner := make(map[string]Channel, len(channels))
		for id, ch := range channels {
			inner[id] = ch
		}
		clone.Channels[selfID] = inner
	}
	for key, messages := range a.Messages {
		clone.Messages[key] = append([]Message{}, messages...)
	}
	return clone
}

// Metadata is the archive without its message lists. Clients page for
// messages separately instead of receiving them up front.
type Metadata struct {
	Bots           map[string]Bot                `json:"bots"`
	Channels       map[string]map[string]Channel `json:"channels"`
	PinnedBots     []string                      `json:"pinnedBots"`
	PinnedChannels []string                      `json:"pinnedChannels"`
}
