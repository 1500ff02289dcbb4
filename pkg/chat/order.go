package chat

import (
	"sort"
	"time"

	"pawlink/pkg/models"
)

// Order sorts conversation summaries for display: conversations with
// unread messages first, then by most recent activity within each group.
// The sort is stable and pure; the input slice is not modified.
func Order(convs []models.ConversationSummary, unread map[string]UnreadEntry) []models.ConversationSummary {
	out := append([]models.ConversationSummary(nil), convs...)
	sort.SliceStable(out, func(i, j int) bool {
		ui, uj := unread[out[i].ID], unread[out[j].ID]
		if (ui.Count > 0) != (uj.Count > 0) {
			return ui.Count > 0
		}
		return effectiveTS(out[i], ui).After(effectiveTS(out[j], uj))
	})
	return out
}

// effectiveTS prefers the aggregate's timestamp, falls back to the
// summary's own, and bottoms out at the zero time so conversations with
// no activity sink.
func effectiveTS(c models.ConversationSummary, e UnreadEntry) time.Time {
	if !e.LastMessageTS.IsZero() {
		return e.LastMessageTS
	}
	return c.LastMessageTS
}
