package chat

import (
	"context"
	"sync"
	"time"

	"pawlink/pkg/logger"
	"pawlink/pkg/models"
)

// UnreadEntry is a conversation's unread standing. A counterpart absent
// from the aggregate map has zero unread.
type UnreadEntry struct {
	Count         int
	LastMessageTS time.Time
}

// ListSource is the REST surface the aggregator needs. *Client satisfies
// it.
type ListSource interface {
	Conversations(ctx context.Context) ([]models.ConversationSummary, error)
	History(ctx context.Context, counterpartID string) ([]models.Message, error)
}

// Aggregator maintains per-conversation unread counts for the badge and
// list views. Refresh rebuilds from the service's aggregate summaries;
// Bump and Zero keep the map honest between refreshes as pushes arrive
// and conversations get opened.
type Aggregator struct {
	self   string
	src    ListSource
	fanOut bool

	mu      sync.RWMutex
	entries map[string]UnreadEntry
	convs   []models.ConversationSummary
}

// NewAggregator builds an aggregator for the given user.
func NewAggregator(self string, src ListSource) *Aggregator {
	return &Aggregator{
		self:    self,
		src:     src,
		entries: make(map[string]UnreadEntry),
	}
}

// SetFanOut switches Refresh to derive counts by fetching every
// conversation's history instead of trusting the summary counts. Kept
// for services whose listing carries no unread field; one failed
// conversation fetch skips that conversation rather than aborting the
// rebuild.
func (a *Aggregator) SetFanOut(on bool) {
	a.mu.Lock()
	a.fanOut = on
	a.mu.Unlock()
}

// Refresh rebuilds the aggregate from the service. On a failed listing
// the previous aggregate is kept and the error returned.
func (a *Aggregator) Refresh(ctx context.Context) error {
	sums, err := a.src.Conversations(ctx)
	if err != nil {
		logger.Warn("unread_refresh_failed", "user", a.self, "error", err.Error())
		return err
	}
	a.mu.RLock()
	fanOut := a.fanOut
	a.mu.RUnlock()

	entries := make(map[string]UnreadEntry)
	if fanOut {
		for _, s := range sums {
			h, err := a.src.History(ctx, s.ID)
			if err != nil {
				logger.Warn("unread_conversation_skipped", "counterpart", s.ID, "error", err.Error())
				continue
			}
			n := 0
			last := s.LastMessageTS
			for _, m := range h {
				if m.Recipient == a.self && !m.Read {
					n++
				}
				if m.TS.After(last) {
					last = m.TS
				}
			}
			if n > 0 {
				entries[s.ID] = UnreadEntry{Count: n, LastMessageTS: last}
			}
		}
	} else {
		for _, s := range sums {
			if s.Unread > 0 {
				entries[s.ID] = UnreadEntry{Count: s.Unread, LastMessageTS: s.LastMessageTS}
			}
		}
	}

	a.mu.Lock()
	a.entries = entries
	a.convs = sums
	a.mu.Unlock()
	return nil
}

// Bump increments a conversation's unread count for a pushed message
// that arrived while another conversation was on screen.
func (a *Aggregator) Bump(counterpartID string, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := a.entries[counterpartID]
	e.Count++
	if ts.After(e.LastMessageTS) {
		e.LastMessageTS = ts
	}
	a.entries[counterpartID] = e
}

// BumpMessage is Bump keyed off the message itself; convenient as a
// reconciler foreign hook.
func (a *Aggregator) BumpMessage(m models.Message) {
	a.Bump(m.Counterpart(a.self), m.TS)
}

// Zero clears a conversation's unread count, typically right after it
// was opened and marked read.
func (a *Aggregator) Zero(counterpartID string) {
	a.mu.Lock()
	delete(a.entries, counterpartID)
	a.mu.Unlock()
}

// Total returns the unread count summed across conversations.
func (a *Aggregator) Total() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, e := range a.entries {
		n += e.Count
	}
	return n
}

// Snapshot returns a copy of the per-conversation aggregate.
func (a *Aggregator) Snapshot() map[string]UnreadEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]UnreadEntry, len(a.entries))
	for k, v := range a.entries {
		out[k] = v
	}
	return out
}

// Ordered returns the last fetched conversation listing sorted for
// display.
func (a *Aggregator) Ordered() []models.ConversationSummary {
	a.mu.RLock()
	convs := append([]models.ConversationSummary(nil), a.convs...)
	entries := make(map[string]UnreadEntry, len(a.entries))
	for k, v := range a.entries {
		entries[k] = v
	}
	a.mu.RUnlock()
	return Order(convs, entries)
}
