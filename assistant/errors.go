package assistant

import (
	"errors"
	"fmt"
)

// ErrUnknownProvider is wrapped by the ConfigurationError returned when a
// provider name is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// ConfigurationError reports invalid settings detected at construction time.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("configuration error: %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError wraps a network failure or timeout talking to a generation
// backend. The agent turns it into a fallback reply.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BridgeError reports a failed tool invocation on the backend bridge.
type BridgeError struct {
	Tool string
	ID   string
	Err  error
}

func (e *BridgeError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("bridge %s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("bridge %s (call %s): %v", e.Tool, e.ID, e.Err)
}

func (e *BridgeError) Unwrap() error { return e.Err }

// TriageFailure reports an accept-review call that the backend did not confirm.
type TriageFailure struct {
	TicketID string
	GuildID  string
	Err      error
}

func (e *TriageFailure) Error() string {
	return fmt.Sprintf("accept review for ticket %s in guild %s: %v", e.TicketID, e.GuildID, e.Err)
}

func (e *TriageFailure) Unwrap() error { return e.Err }

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
