package ingest

import "github.com/chatvault/chatvault/internal/archive"

// PlaceholderOmittedMedia replaces non-image rich payloads in outgoing bot
// messages. Those payloads are produced locally and can be huge, so they
// are not worth archiving.
const PlaceholderOmittedMedia = "[rich media omitted]"

// BlockedPlatform excludes a platform from ingestion, by exact name or by
// substring.
type BlockedPlatform struct {
	Name  string `toml:"name" json:"name"`
	Exact bool   `toml:"exact" json:"exact"`
}

// InboundEvent is one raw chat event handed over by the embedding process.
// Bot events with an empty MessageID are local sends that have not been
// acknowledged by the platform yet; the pipeline assigns a placeholder id
// and marks the record pending until ConfirmSend.
type InboundEvent struct {
	SelfID    string `json:"selfId"`
	Platform  string `json:"platform"`
	BotName   string `json:"botName,omitempty"`
	BotAvatar string `json:"botAvatar,omitempty"`

	ChannelID   string `json:"channelId"`
	ChannelName string `json:"channelName,omitempty"`
	GuildID     string `json:"guildId,omitempty"`
	GuildName   string `json:"guildName,omitempty"`
	IsDirect    bool   `json:"isDirect"`

	MessageID  string            `json:"messageId,omitempty"`
	Content    string            `json:"content"`
	Elements   []archive.Element `json:"elements,omitempty"`
	AuthorID   string            `json:"authorId"`
	AuthorName string            `json:"authorName"`
	Avatar     string            `json:"avatar,omitempty"`
	Timestamp  int64             `json:"timestamp"`
	Role       archive.Role      `json:"role"`
	Quote      *archive.Quote    `json:"quote,omitempty"`
}
