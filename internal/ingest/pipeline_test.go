package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chatvault/chatvault/internal/archive"
	"github.com/chatvault/chatvault/internal/event"
	"github.com/chatvault/chatvault/internal/mediacache"
	"github.com/chatvault/chatvault/internal/platform"
)

type fakeConnector struct {
	platformName string
	channelNames map[string]string
	users        map[string]platform.User
}

func (f *fakeConnector) Platform() string { return f.platformName }

func (f *fakeConnector) ChannelName(ctx context.Context, channelID string) (string, error) {
	name, ok := f.channelNames[channelID]
	if !ok {
		return "", errors.New("unknown channel")
	}
	return name, nil
}

func (f *fakeConnector) User(ctx context.Context, userID string) (platform.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return platform.User{}, errors.New("unknown user")
	}
	return user, nil
}

func newTestPipeline(t *testing.T, opts Options) (*Pipeline, *archive.Store, *platform.Registry, *event.Hub) {
	t.Helper()
	store := archive.NewStore(nil, filepath.Join(t.TempDir(), "chat.json"),
		archive.Options{DebounceInterval: time.Hour})
	t.Cleanup(store.Dispose)
	media := mediacache.NewService(nil, t.TempDir(), nil, mediacache.Options{})
	registry := platform.NewRegistry()
	hub := event.NewHub(nil)
	return NewPipeline(nil, store, media, registry, hub, opts), store, registry, hub
}

func userEvent() InboundEvent {
	return InboundEvent{
		SelfID:     "bot1",
		Platform:   "testing",
		BotName:    "Archivist",
		ChannelID:  "chan1",
		MessageID:  "m1",
		Content:    "hello",
		AuthorID:   "user9",
		AuthorName: "Niko",
		Timestamp:  1000,
		Role:       archive.RoleUser,
	}
}

func TestProcessArchivesMessageAndRecords(t *testing.T) {
	p, store, _, hub := newTestPipeline(t, Options{})
	events, cancel := hub.Subscribe()
	defer cancel()

	p.process(userEvent())

	list := store.MessagesFor("bot1", "chan1")
	if len(list) != 1 || list[0].ID != "m1" {
		t.Fatalf("expected archived message, got %+v", list)
	}
	meta := store.Metadata()
	if meta.Bots["bot1"].Name != "Archivist" || meta.Bots["bot1"].Status != "online" {
		t.Fatalf("expected bot record, got %+v", meta.Bots)
	}
	if _, ok := meta.Channels["bot1"]["chan1"]; !ok {
		t.Fatalf("expected channel record")
	}
	ev := <-events
	if ev.Type != event.TypeMessageCreated {
		t.Fatalf("expected message-created event, got %q", ev.Type)
	}
}

func TestBotSendGetsPlaceholderThenConfirmed(t *testing.T) {
	p, store, _, hub := newTestPipeline(t, Options{})
	ev := userEvent()
	ev.Role = archive.RoleBot
	ev.MessageID = ""
	ev.AuthorID = "bot1"
	p.process(ev)

	list := store.MessagesFor("bot1", "chan1")
	if len(list) != 1 || !list[0].Pending || list[0].ID == "" {
		t.Fatalf("expected pending placeholder record, got %+v", list)
	}
	placeholder := list[0].ID

	events, cancel := hub.Subscribe()
	defer cancel()
	if !p.ConfirmSend("bot1", "chan1", "platform-7") {
		t.Fatalf("expected confirmation to succeed")
	}
	list = store.MessagesFor("bot1", "chan1")
	if len(list) != 1 {
		t.Fatalf("confirmation must not add a record, got %d", len(list))
	}
	if list[0].ID != "platform-7" || list[0].Pending {
		t.Fatalf("expected migrated identity, got %+v", list[0])
	}
	confirmed := <-events
	if confirmed.Type != event.TypeMessageConfirmed {
		t.Fatalf("expected message-confirmed event, got %q", confirmed.Type)
	}
	payload := confirmed.Payload.(map[string]string)
	if payload["placeholderId"] != placeholder || payload["id"] != "platform-7" {
		t.Fatalf("unexpected payload %v", payload)
	}

	if p.ConfirmSend("bot1", "chan1", "platform-8") {
		t.Fatalf("second confirmation must fail")
	}
}

func TestBlockedPlatformsAreDropped(t *testing.T) {
	p, store, _, _ := newTestPipeline(t, Options{BlockedPlatforms: []BlockedPlatform{
		{Name: "sandbox", Exact: true},
		{Name: "test"},
	}})
	ev := userEvent()
	ev.Platform = "sandbox"
	p.Ingest(ev)
	ev.Platform = "testing" // substring match on "test"
	p.Ingest(ev)
	if len(store.MessagesFor("bot1", "chan1")) != 0 {
		t.Fatalf("blocked platforms must not be archived")
	}

	ev.Platform = "sandbox2" // exact rule does not match
	p.process(ev)
	if len(store.MessagesFor("bot1", "chan1")) != 1 {
		t.Fatalf("non-blocked platform must be archived")
	}
}

func TestInlineImagePayloadExternalized(t *testing.T) {
	p, store, _, _ := newTestPipeline(t, Options{})
	payload := base64.StdEncoding.EncodeToString([]byte("image bytes"))
	ev := userEvent()
	ev.Elements = []archive.Element{{
		Type:  "img",
		Attrs: map[string]string{"src": "data:image/png;base64," + payload},
	}}
	p.process(ev)

	list := store.MessagesFor("bot1", "chan1")
	src := list[0].Elements[0].Attrs["src"]
	if strings.HasPrefix(src, "data:") {
		t.Fatalf("inline payload must be externalized, got %q", src)
	}
	data, err := os.ReadFile(src)
	if err != nil || string(data) != "image bytes" {
		t.Fatalf("externalized file mismatch: %q %v", data, err)
	}
}

func TestBotNonImagePayloadCollapsesToPlaceholder(t *testing.T) {
	p, store, _, _ := newTestPipeline(t, Options{})
	ev := userEvent()
	ev.Role = archive.RoleBot
	ev.MessageID = "b1"
	ev.Elements = []archive.Element{
		{Type: "video", Attrs: map[string]string{"src": "http://cdn.example/clip.mp4"}},
		{Type: "img", Attrs: map[string]string{"src": "http://cdn.example/pic.png"}},
	}
	p.process(ev)

	elements := store.MessagesFor("bot1", "chan1")[0].Elements
	if elements[0].Type != "text" || elements[0].Attrs["content"] != PlaceholderOmittedMedia {
		t.Fatalf("expected placeholder for bot video, got %+v", elements[0])
	}
	if elements[1].Type != "img" || elements[1].Attrs["src"] != "http://cdn.example/pic.png" {
		t.Fatalf("bot image must be kept, got %+v", elements[1])
	}
}

func TestQuoteElementsExternalized(t *testing.T) {
	p, store, _, _ := newTestPipeline(t, Options{})
	payload := base64.StdEncoding.EncodeToString([]byte("quoted"))
	ev := userEvent()
	ev.Quote = &archive.Quote{
		ID: "q1",
		Elements: []archive.Element{{
			Type:  "img",
			Attrs: map[string]string{"src": "data:image/png;base64," + payload},
		}},
	}
	p.process(ev)

	quote := store.MessagesFor("bot1", "chan1")[0].Quote
	if quote == nil || strings.HasPrefix(quote.Elements[0].Attrs["src"], "data:") {
		t.Fatalf("quote payload must be externalized, got %+v", quote)
	}
}

func TestChannelNameResolvedThroughConnector(t *testing.T) {
	p, store, registry, _ := newTestPipeline(t, Options{})
	registry.Register("bot1", &fakeConnector{
		platformName: "testing",
		channelNames: map[string]string{"chan1": "general"},
	})
	p.process(userEvent())
	ch, _ := store.ChannelInfo("bot1", "chan1")
	if ch.Name != "general" {
		t.Fatalf("expected connector-resolved name, got %q", ch.Name)
	}
}

func TestChannelNameFallbacks(t *testing.T) {
	p, store, _, _ := newTestPipeline(t, Options{})

	direct := userEvent()
	direct.ChannelID = "private:user9"
	direct.IsDirect = true
	p.process(direct)
	ch, _ := store.ChannelInfo("bot1", "private:user9")
	if ch.Name != archive.DirectChannelName("Niko") {
		t.Fatalf("expected direct channel name, got %q", ch.Name)
	}

	group := userEvent()
	group.ChannelID = "room-42"
	p.process(group)
	ch, _ = store.ChannelInfo("bot1", "room-42")
	if ch.Name != "room-42" {
		t.Fatalf("expected channel id fallback, got %q", ch.Name)
	}
}

func TestStoredChannelNameSurvivesUnnamedEvents(t *testing.T) {
	p, store, _, _ := newTestPipeline(t, Options{})
	named := userEvent()
	named.ChannelName = "general"
	p.process(named)
	p.process(userEvent())
	ch, _ := store.ChannelInfo("bot1", "chan1")
	if ch.Name != "general" {
		t.Fatalf("stored name must survive, got %q", ch.Name)
	}
}

func TestRefreshUserThroughConnector(t *testing.T) {
	p, store, registry, _ := newTestPipeline(t, Options{})
	registry.Register("bot1", &fakeConnector{
		platformName: "testing",
		users: map[string]platform.User{
			"user9": {ID: "user9", Name: "Fresh", Avatar: "http://a/av.png"},
		},
	})
	p.process(userEvent())

	user, changed, err := p.RefreshUser(context.Background(), "bot1", "user9")
	if err != nil || !changed {
		t.Fatalf("expected refresh to change records: %v %v", changed, err)
	}
	if user.Name != "Fresh" {
		t.Fatalf("unexpected profile %+v", user)
	}
	if got := store.MessagesFor("bot1", "chan1")[0].AuthorName; got != "Fresh" {
		t.Fatalf("expected rewritten author name, got %q", got)
	}

	if _, _, err := p.RefreshUser(context.Background(), "bot2", "user9"); !errors.Is(err, platform.ErrNoConnector) {
		t.Fatalf("expected ErrNoConnector, got %v", err)
	}
}
