package archive

import "sort"

// BotDedupWindowMillis is the window within which two bot messages with
// identical content are treated as duplicate deliveries of the same event.
const BotDedupWindowMillis = 2000

// SortAscending orders messages by timestamp ascending. The sort is stable
// so records sharing a timestamp keep their insertion order.
func SortAscending(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})
}

// Prune keeps at most max messages, preferring the most recent by timestamp.
// The returned slice is sorted ascending. dropped is the number removed.
func Prune(messages []Message, max int) (kept []Message, dropped int) {
	SortAscending(messages)
	if max <= 0 || len(messages) <= max {
		return messages, 0
	}
	dropped = len(messages) - max
	return messages[dropped:], dropped
}

// IsDuplicate reports whether candidate duplicates a record already in
// messages: same ID, or a bot message with identical content delivered
// within the dedup window. The content match absorbs the same locally
// generated send event arriving through two notification paths; it can
// over-merge bot messages with coincidentally identical text.
func IsDuplicate(messages []Message, candidate Message) bool {
	for i := range messages {
		if messages[i].ID == candidate.ID {
			return true
		}
		if candidate.Role == RoleBot && messages[i].Role == RoleBot &&
			messages[i].Content == candidate.Content &&
			absMillis(messages[i].Timestamp, candidate.Timestamp) <= BotDedupWindowMillis {
			return true
		}
	}
	return false
}

// Insert adds msg to messages unless it is a duplicate, then applies the
// retention bound. It reports whether the message was added.
func Insert(messages []Message, msg Message, max int) ([]Message, bool) {
	if IsDuplicate(messages, msg) {
		return messages, false
	}
	messages = append(messages, msg)
	messages, _ = Prune(messages, max)
	return messages, true
}

func absMillis(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
