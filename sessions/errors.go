package sessions

import "fmt"

// ErrorKind is a machine-readable category for authentication failures.
type ErrorKind string

const (
	ErrorTimeout             ErrorKind = "timeout"
	ErrorUserCancelled       ErrorKind = "user_cancelled"
	ErrorInvalidClientConfig ErrorKind = "invalid_client_config"
	ErrorNetwork             ErrorKind = "network_error"
	ErrorInteractionRequired ErrorKind = "interaction_required"
	ErrorMalformedResponse   ErrorKind = "malformed_response"
	ErrorUnknown             ErrorKind = "unknown"
)

// Error is the last failure recorded against the session. Message is safe to show to users.
type Error struct {
	Kind    ErrorKind
	Message string
	Account *Account // Account the failure relates to, if known
	Err     error    // Underlying cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
