package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatvault/chatvault/internal/archive"
	"github.com/chatvault/chatvault/internal/event"
	"github.com/chatvault/chatvault/internal/mediacache"
	"github.com/chatvault/chatvault/internal/platform"
)

// nameLookupTimeout bounds a best-effort platform name resolution.
const nameLookupTimeout = 5 * time.Second

// Options tunes pipeline filtering.
type Options struct {
	BlockedPlatforms []BlockedPlatform
}

// Pipeline turns raw chat events into archived messages: it filters
// blocked platforms, keeps bot and channel records fresh, externalizes
// inline media payloads to the disk cache, and appends to the store.
type Pipeline struct {
	store    *archive.Store
	media    *mediacache.Service
	registry *platform.Registry
	hub      *event.Hub
	opts     Options
	logger   *slog.Logger
}

func NewPipeline(log *slog.Logger, store *archive.Store, media *mediacache.Service, registry *platform.Registry, hub *event.Hub, opts Options) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:    store,
		media:    media,
		registry: registry,
		hub:      hub,
		opts:     opts,
		logger:   log.With(slog.String("service", "ingest")),
	}
}

// Ingest records ev without blocking the caller. The embedding process
// hands events over from its hot path, so all archive work happens on a
// separate goroutine.
func (p *Pipeline) Ingest(ev InboundEvent) {
	if p.blocked(ev.Platform) {
		return
	}
	go p.process(ev)
}

// ConfirmSend migrates the most recent pending bot message of a channel to
// the platform-assigned id. Returns false when no pending record exists.
func (p *Pipeline) ConfirmSend(selfID, channelID, platformID string) bool {
	placeholder, ok := p.store.ConfirmPending(selfID, channelID, platformID)
	if !ok {
		p.logger.Warn("send confirmation without pending record",
			slog.String("selfId", selfID), slog.String("channelId", channelID))
		return false
	}
	p.publish(event.Event{Type: event.TypeMessageConfirmed, Payload: map[string]string{
		"selfId":        selfID,
		"channelId":     channelID,
		"id":            platformID,
		"placeholderId": placeholder,
	}})
	return true
}

func (p *Pipeline) process(ev InboundEvent) {
	p.upsertBot(ev)
	p.upsertChannel(ev)

	msg := archive.Message{
		ID:         ev.MessageID,
		Content:    ev.Content,
		AuthorID:   ev.AuthorID,
		AuthorName: ev.AuthorName,
		Avatar:     ev.Avatar,
		Timestamp:  ev.Timestamp,
		ChannelID:  ev.ChannelID,
		SelfID:     ev.SelfID,
		Role:       ev.Role,
		GuildName:  ev.GuildName,
		Platform:   ev.Platform,
		IsDirect:   ev.IsDirect,
	}
	if msg.Role == archive.RoleBot && msg.ID == "" {
		msg.ID = uuid.NewString()
		msg.Pending = true
	}
	msg.Elements = p.externalize(ev.Elements, ev.Role)
	if ev.Quote != nil {
		quote := *ev.Quote
		quote.Elements = p.externalize(quote.Elements, archive.RoleUser)
		msg.Quote = &quote
	}

	p.store.Append(msg)
	p.publish(event.Event{Type: event.TypeMessageCreated, Payload: msg})
}

func (p *Pipeline) upsertBot(ev InboundEvent) {
	bot := archive.Bot{
		SelfID:   ev.SelfID,
		Platform: ev.Platform,
		Name:     ev.BotName,
		Avatar:   ev.BotAvatar,
		Status:   "online",
	}
	if bot.Name == "" {
		bot.Name = ev.SelfID
	}
	p.store.UpsertBot(bot)
}

// upsertChannel refreshes the channel record. Names resolve best-effort:
// the event's own name wins, then the stored one, then a platform lookup,
// then a fallback derived from the channel itself.
func (p *Pipeline) upsertChannel(ev InboundEvent) {
	stored, _ := p.store.ChannelInfo(ev.SelfID, ev.ChannelID)
	ch := archive.Channel{
		ID:        ev.ChannelID,
		Name:      ev.ChannelName,
		GuildName: ev.GuildName,
		IsDirect:  ev.IsDirect,
	}
	if ch.Name == "" {
		ch.Name = stored.Name
	}
	if ch.GuildName == "" {
		ch.GuildName = stored.GuildName
	}

	conn, hasConn := p.registry.Get(ev.SelfID)
	if ch.Name == "" && hasConn {
		if namer, ok := conn.(platform.ChannelNamer); ok {
			ctx, cancel := context.WithTimeout(context.Background(), nameLookupTimeout)
			name, err := namer.ChannelName(ctx, ev.ChannelID)
			cancel()
			if err != nil {
				p.logger.Debug("channel name lookup failed",
					slog.String("channelId", ev.ChannelID), slog.Any("error", err))
			} else {
				ch.Name = name
			}
		}
	}
	if ch.GuildName == "" && ev.GuildID != "" && hasConn {
		if namer, ok := conn.(platform.GuildNamer); ok {
			ctx, cancel := context.WithTimeout(context.Background(), nameLookupTimeout)
			name, err := namer.GuildName(ctx, ev.GuildID)
			cancel()
			if err != nil {
				p.logger.Debug("guild name lookup failed",
					slog.String("guildId", ev.GuildID), slog.Any("error", err))
			} else {
				ch.GuildName = name
			}
		}
	}
	if ch.Name == "" {
		if ev.IsDirect {
			ch.Name = archive.DirectChannelName(ev.AuthorName)
		} else {
			ch.Name = ev.ChannelID
		}
	}
	p.store.UpsertChannel(ev.SelfID, ch)
}

// externalize rewrites inline base64 payloads to disk cache refs. Outgoing
// bot messages keep only images; other rich payloads collapse to a text
// placeholder.
func (p *Pipeline) externalize(elements []archive.Element, role archive.Role) []archive.Element {
	if len(elements) == 0 {
		return nil
	}
	out := make([]archive.Element, 0, len(elements))
	for _, el := range elements {
		switch el.Type {
		case "img", "image":
			out = append(out, p.externalizePayload(el, mediacache.ClassImage))
		case "video", "audio", "file":
			if role == archive.RoleBot {
				out = append(out, archive.Element{
					Type:  "text",
					Attrs: map[string]string{"content": PlaceholderOmittedMedia},
				})
				continue
			}
			out = append(out, p.externalizePayload(el, mediacache.ClassMedia))
		default:
			el.Children = p.externalize(el.Children, role)
			out = append(out, el)
		}
	}
	return out
}

func (p *Pipeline) externalizePayload(el archive.Element, class mediacache.Class) archive.Element {
	src := el.Attrs["src"]
	if src == "" || !mediacache.IsDataURL(src) {
		return el
	}
	ref, err := p.media.SaveDataURL(src, class)
	if err != nil {
		p.logger.Warn("payload externalization failed", slog.Any("error", err))
		return el
	}
	attrs := make(map[string]string, len(el.Attrs))
	for k, v := range el.Attrs {
		attrs[k] = v
	}
	attrs["src"] = ref
	el.Attrs = attrs
	return el
}

func (p *Pipeline) blocked(platformName string) bool {
	for _, b := range p.opts.BlockedPlatforms {
		if b.Name == "" {
			continue
		}
		if b.Exact && platformName == b.Name {
			return true
		}
		if !b.Exact && strings.Contains(platformName, b.Name) {
			return true
		}
	}
	return false
}

func (p *Pipeline) publish(ev event.Event) {
	if p.hub != nil {
		p.hub.Publish(ev)
	}
}

// RefreshUser re-resolves a user's profile through the bot's connection and
// rewrites the stored name and avatar. Returns the resolved profile and
// whether anything changed.
func (p *Pipeline) RefreshUser(ctx context.Context, selfID, userID string) (platform.User, bool, error) {
	conn, ok := p.registry.Get(selfID)
	if !ok {
		return platform.User{}, false, platform.ErrNoConnector
	}
	lookup, ok := conn.(platform.UserLookup)
	if !ok {
		return platform.User{}, false, platform.ErrNoConnector
	}
	user, err := lookup.User(ctx, userID)
	if err != nil {
		return platform.User{}, false, err
	}
	changed := p.store.RefreshUser(selfID, userID, user.Name, user.Avatar)
	if changed {
		p.publish(event.Event{Type: event.TypeArchiveUpdated, Payload: map[string]string{
			"selfId": selfID,
			"userId": userID,
		}})
	}
	return user, changed, nil
}
