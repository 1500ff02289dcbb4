package models

import (
	"strings"
	"time"
)

// Message is a single two-party chat message. ID is empty for messages
// created locally that have not been persisted yet (optimistic sends).
type Message struct {
	ID        string `json:"id,omitempty"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	// Body may be empty when the message only carries a context payload.
	Body    string      `json:"body,omitempty"`
	TS      time.Time   `json:"ts"`
	Read    bool        `json:"read,omitempty"`
	Context *PetContext `json:"context,omitempty"`
}

// Counterpart returns the other participant's id relative to self.
func (m Message) Counterpart(self string) string {
	if m.Sender == self {
		return m.Recipient
	}
	return m.Sender
}

// PetContext anchors a conversation to the pet listing it was started
// from. At most one logical anchor per distinct context value may exist
// in a conversation.
type PetContext struct {
	Name     string `json:"name"`
	Breed    string `json:"breed,omitempty"`
	Age      string `json:"age,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// Equal compares the entity name and all derived display attributes.
// Anchor dedup uses this, not pointer identity.
func (c *PetContext) Equal(o *PetContext) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Name == o.Name && c.Breed == o.Breed && c.Age == o.Age && c.PhotoURL == o.PhotoURL
}

// PairKey returns the canonical key for the unordered participant pair.
// Both orderings of the same pair map to the same key.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "~" + b
}
