package models

import "time"

// Role classifies the two participant classes of the platform.
type Role string

const (
	RoleAdopter Role = "adopter"
	RoleOrg     Role = "org"
)

// ValidRole reports whether s names a known role.
func ValidRole(s string) bool {
	return Role(s) == RoleAdopter || Role(s) == RoleOrg
}

// Identity is the authenticated caller as resolved by the session probe.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Profile is a participant directory record used to render conversation
// lists. Upkeep is a backend concern; the messaging core only reads it.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ConversationSummary describes one conversation from the perspective of
// the current user. ID is the counterpart's id.
type ConversationSummary struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"display_name,omitempty"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	LastMessageTS time.Time `json:"last_message_ts"`
	Unread        int       `json:"unread"`
}
