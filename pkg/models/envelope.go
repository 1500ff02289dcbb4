package models

import "encoding/json"

// Envelope is the wire format for all frames on the live channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Envelope types. The client sends message.send; the broker forwards the
// persisted copy to the recipient's subscriptions as message.new.
const (
	EnvMessageSend = "message.send"
	EnvMessageNew  = "message.new"
	EnvError       = "error"
)

// WrapMessage builds an envelope of the given type around m.
func WrapMessage(typ string, m Message) (Envelope, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Payload: b}, nil
}
