package engine

import "fmt"

// Result is the uniform outcome of every engine entry point. Expected
// failures (authorization, validation, not-found) are carried here with a
// user-facing message; they are never Go errors. LogMessage holds internal
// detail that must not reach end users.
type Result struct {
	Success         bool   `json:"success"`
	FriendlyMessage string `json:"message,omitempty"`
	LogMessage      string `json:"-"`
	Payload         any    `json:"data,omitempty"`

	// Params carries extra output parameters contributed by business-logic
	// hooks, next to the payload rather than mixed into it.
	Params map[string]any `json:"params,omitempty"`
}

// OK returns a successful result carrying a payload.
func OK(payload any) Result {
	return Result{Success: true, Payload: payload}
}

// Denied returns an authorization failure with a friendly reason.
func Denied(format string, args ...any) Result {
	return Result{Success: false, FriendlyMessage: fmt.Sprintf(format, args...)}
}

// Invalid returns a validation failure with a friendly reason.
func Invalid(format string, args ...any) Result {
	return Result{Success: false, FriendlyMessage: fmt.Sprintf(format, args...)}
}

// Internal returns a failure whose detail stays in the log message; the
// caller sees only a generic notice.
func Internal(err error) Result {
	return Result{
		Success:         false,
		FriendlyMessage: "An unexpected error occurred.",
		LogMessage:      err.Error(),
	}
}

// AsError converts a failed Result into an error. Used by code invoked from
// inside business-logic hooks, which expects success and cannot locally
// decide how to recover.
func (r Result) AsError() error {
	if r.Success {
		return nil
	}
	if r.LogMessage != "" {
		return fmt.Errorf("%s", r.LogMessage)
	}
	return fmt.Errorf("%s", r.FriendlyMessage)
}
