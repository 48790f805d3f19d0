package services

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a capability class handled by the factory.
type Kind string

const (
	KindSTT Kind = "stt"
	KindLLM Kind = "llm"
	KindTTS Kind = "tts"
)

// UnavailableError is returned when every provider for a kind has been
// exhausted: the primary with retries, the full fallback chain, and the
// last resort.
type UnavailableError struct {
	Kind      Kind
	Attempted []string
	Err       error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s service unavailable after trying %s: %v",
		e.Kind, strings.Join(e.Attempted, ", "), e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is a total-exhaustion failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsRateLimited classifies provider errors that should back off longer.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate") || strings.Contains(msg, "429")
}
