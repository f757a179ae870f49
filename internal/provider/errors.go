package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// CredentialMissingError marks a provider skipped before any network call
// because its credential is not configured. The dispatcher treats it as
// "try the next provider".
type CredentialMissingError struct {
	Provider string
	EnvVar   string
}

func (e *CredentialMissingError) Error() string {
	return fmt.Sprintf("provider %s: credential %s is not set", e.Provider, e.EnvVar)
}

// IsCredentialMissing reports whether err is (or wraps) a missing-credential
// failure.
func IsCredentialMissing(err error) bool {
	var ce *CredentialMissingError
	return errors.As(err, &ce)
}

// RequestError is a provider call that reached the wire and failed: non-2xx
// status, transport failure, or a reply body that does not decode.
type RequestError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: upstream %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

// AllProvidersFailedError is the single terminal failure of a dispatch: every
// provider in the attempted order failed. Causes maps provider id to its
// underlying error.
type AllProvidersFailedError struct {
	Causes map[string]error
}

func (e *AllProvidersFailedError) Error() string {
	ids := make([]string, 0, len(e.Causes))
	for id := range e.Causes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("all providers failed")
	if e.OnlyMissingCredentials() {
		b.WriteString(" (no credentials configured)")
	}
	for _, id := range ids {
		fmt.Fprintf(&b, "; %s: %v", id, e.Causes[id])
	}
	return b.String()
}

// Reasons returns the provider id to error message map surfaced to callers.
func (e *AllProvidersFailedError) Reasons() map[string]string {
	reasons := make(map[string]string, len(e.Causes))
	for id, err := range e.Causes {
		reasons[id] = err.Error()
	}
	return reasons
}

// OnlyMissingCredentials reports whether every recorded failure was a missing
// credential. Callers use it to tell "no providers configured" apart from
// "every configured provider errored".
func (e *AllProvidersFailedError) OnlyMissingCredentials() bool {
	if len(e.Causes) == 0 {
		return false
	}
	for _, err := range e.Causes {
		if !IsCredentialMissing(err) {
			return false
		}
	}
	return true
}
