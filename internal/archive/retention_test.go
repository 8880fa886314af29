package archive

import "testing"

func msg(id string, role Role, content string, ts int64) Message {
	return Message{
		ID:        id,
		Content:   content,
		Role:      role,
		Timestamp: ts,
		SelfID:    "bot1",
		ChannelID: "chan1",
		Platform:  "testing",
	}
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	list := []Message{msg("a", RoleUser, "hello", 100)}
	list, added := Insert(list, msg("a", RoleUser, "hello again", 5000), 500)
	if added {
		t.Fatalf("expected duplicate id to be rejected")
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 message, got %d", len(list))
	}
}

func TestInsertMergesBotContentWithinWindow(t *testing.T) {
	list := []Message{msg("real-1", RoleBot, "pong", 1000)}
	dup := msg("local-1", RoleBot, "pong", 1000+BotDedupWindowMillis)
	list, added := Insert(list, dup, 500)
	if added {
		t.Fatalf("expected bot content match within window to merge")
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 message, got %d", len(list))
	}
}

func TestInsertKeepsBotContentOutsideWindow(t *testing.T) {
	list := []Message{msg("real-1", RoleBot, "pong", 1000)}
	later := msg("real-2", RoleBot, "pong", 1000+BotDedupWindowMillis+1)
	list, added := Insert(list, later, 500)
	if !added {
		t.Fatalf("expected bot message outside window to be kept")
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(list))
	}
}

func TestInsertNeverMergesUserMessages(t *testing.T) {
	list := []Message{msg("u1", RoleUser, "hi", 1000)}
	list, added := Insert(list, msg("u2", RoleUser, "hi", 1000), 500)
	if !added || len(list) != 2 {
		t.Fatalf("identical user content must not merge, got %d messages", len(list))
	}
}

func TestPruneDropsOldestByTimestamp(t *testing.T) {
	list := []Message{
		msg("c", RoleUser, "3", 300),
		msg("a", RoleUser, "1", 100),
		msg("b", RoleUser, "2", 200),
	}
	kept, dropped := Prune(list, 2)
	if dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", dropped)
	}
	if kept[0].ID != "b" || kept[1].ID != "c" {
		t.Fatalf("expected [b c] ascending, got [%s %s]", kept[0].ID, kept[1].ID)
	}
}

func TestPruneStableOnEqualTimestamps(t *testing.T) {
	list := []Message{
		msg("first", RoleUser, "1", 100),
		msg("second", RoleUser, "2", 100),
		msg("third", RoleUser, "3", 100),
	}
	kept, dropped := Prune(list, 2)
	if dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", dropped)
	}
	if kept[0].ID != "second" || kept[1].ID != "third" {
		t.Fatalf("stable sort must drop the earliest-inserted, got [%s %s]", kept[0].ID, kept[1].ID)
	}
}

func TestPruneNoopUnderCap(t *testing.T) {
	list := []Message{msg("a", RoleUser, "1", 200), msg("b", RoleUser, "2", 100)}
	kept, dropped := Prune(list, 10)
	if dropped != 0 || len(kept) != 2 {
		t.Fatalf("expected no drops, got dropped=%d len=%d", dropped, len(kept))
	}
	if kept[0].ID != "b" {
		t.Fatalf("prune must leave the list ascending")
	}
}

func TestSortAscending(t *testing.T) {
	list := []Message{
		msg("b", RoleUser, "2", 200),
		msg("a", RoleUser, "1", 100),
	}
	SortAscending(list)
	if list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("expected ascending order, got [%s %s]", list[0].ID, list[1].ID)
	}
}
