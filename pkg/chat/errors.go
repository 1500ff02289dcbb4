package chat

import "errors"

// The messaging core's failure taxonomy. Nothing here is process-fatal:
// unauthenticated sessions redirect, transport failures surface to the
// user, fetch failures degrade to empty data, malformed context payloads
// are discarded.
var (
	// ErrUnauthenticated means the session probe returned 401; the host
	// application must redirect to authentication.
	ErrUnauthenticated = errors.New("session missing or expired")

	// ErrNotConnected is returned when a publish is attempted without a
	// live connection. Callers surface this instead of assuming delivery.
	ErrNotConnected = errors.New("live connection not established")

	// ErrFetchFailed wraps any failed REST collaborator call. Callers
	// recover by treating the result as empty/zero and logging.
	ErrFetchFailed = errors.New("collaborator fetch failed")

	// ErrMalformedContext marks a context payload that failed to parse.
	// The pending context is discarded rather than propagated.
	ErrMalformedContext = errors.New("malformed context payload")

	// ErrNoActiveConversation is returned by Send before any Open.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrConnClosed is returned when using a connection after Disconnect.
	ErrConnClosed = errors.New("connection closed")
)
