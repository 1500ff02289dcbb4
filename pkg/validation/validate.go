package validation

import (
	"fmt"
	"sync"

	"pawlink/pkg/models"
)

var (
	mu         sync.RWMutex
	maxBodyLen int
)

// SetMaxBodyLen configures the maximum accepted message body length in
// bytes. Zero disables the cap.
func SetMaxBodyLen(n int) {
	mu.Lock()
	defer mu.Unlock()
	maxBodyLen = n
}

// ValidateMessage checks structural requirements on an inbound message
// before it is persisted or forwarded.
func ValidateMessage(m models.Message) error {
	if m.Sender == "" {
		return fmt.Errorf("missing required field: sender")
	}
	if m.Recipient == "" {
		return fmt.Errorf("missing required field: recipient")
	}
	if m.Sender == m.Recipient {
		return fmt.Errorf("sender and recipient must differ")
	}
	// a message must carry text or a context anchor
	if m.Body == "" && m.Context == nil {
		return fmt.Errorf("message carries neither body nor context")
	}
	mu.RLock()
	cap := maxBodyLen
	mu.RUnlock()
	if cap > 0 && len(m.Body) > cap {
		return fmt.Errorf("body exceeds maximum length %d", cap)
	}
	if m.Context != nil && m.Context.Name == "" {
		return fmt.Errorf("context payload missing entity name")
	}
	return nil
}
