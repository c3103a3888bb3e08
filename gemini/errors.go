package gemini

// Error hierarchy -----------------------------------------------------------
//
// Callers are expected to match these with errors.As. ConfigError and
// ModelUnavailableError mean the input must be fixed before retrying;
// AuthError means the session credentials are no longer usable; TransportError
// wraps network-level failures and is never retried by this layer; ParseError
// means the wire format drifted and carries the offending fragment.

// ConfigError reports invalid caller input such as an unknown model name.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string {
	if e.Msg == "" {
		return "config error"
	}
	return e.Msg
}

// ModelUnavailableError reports a model gated behind the advanced tier when
// the caller has not opted in.
type ModelUnavailableError struct{ Msg string }

func (e *ModelUnavailableError) Error() string {
	if e.Msg == "" {
		return "model unavailable"
	}
	return e.Msg
}

// AuthError reports rejected credentials: a failed cookie rotation, or a
// generate call that is still auth-rejected after the single rotate-and-retry.
type AuthError struct{ Msg string }

func (e *AuthError) Error() string {
	if e.Msg == "" {
		return "authentication error"
	}
	return e.Msg
}

// TransportError wraps a network failure (timeout, connection error, non-auth
// HTTP status). Retry policy belongs to the caller.
type TransportError struct {
	Msg string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	if e.Msg == "" {
		return "transport error"
	}
	return e.Msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports that the response did not match the expected nested-array
// shape. Fragment holds the raw data that failed to decode, for diagnosis.
type ParseError struct {
	Msg      string
	Fragment string
}

func (e *ParseError) Error() string {
	if e.Msg == "" {
		return "parse error"
	}
	return e.Msg
}

// GeminiError is the base for errors the upstream service signals inside an
// otherwise well-formed response.
type GeminiError struct{ Msg string }

func (e *GeminiError) Error() string {
	if e.Msg == "" {
		return "gemini error"
	}
	return e.Msg
}

type UsageLimitExceeded struct{ GeminiError }

type ModelInvalid struct{ GeminiError }

type TemporarilyBlocked struct{ GeminiError }

// ValueError reports invalid arguments such as an empty prompt.
type ValueError struct{ Msg string }

func (e *ValueError) Error() string {
	if e.Msg == "" {
		return "value error"
	}
	return e.Msg
}
