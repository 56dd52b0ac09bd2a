package engine

import (
	"errors"
	"fmt"
)

// AccessError means the repository host demanded credentials that were missing or rejected.
// Never retried.
type AccessError struct {
	Host string
	Repo string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access denied to %s repository %s: %v", e.Host, e.Repo, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// NotFoundError means a repository reference (or a path inside it) could not be resolved.
type NotFoundError struct {
	What string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("not found: %s: %v", e.What, e.Err)
	}
	return fmt.Sprintf("not found: %s", e.What)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// SizeLimitError reports that a configured budget stopped extraction early.
// Partial is always true when records collected before the limit are returned alongside it.
type SizeLimitError struct {
	Limit     string // "total_bytes" | "files"
	Budget    int64
	Collected int64
	Partial   bool
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("repository exceeds %s budget (%d > %d), partial=%t", e.Limit, e.Collected, e.Budget, e.Partial)
}

// ProviderError is an embedding or generation failure that survived the retry budget.
// Embedded counts chunks whose vectors were obtained before the failure.
type ProviderError struct {
	Provider string
	Op       string // "embed" | "generate" | "stream"
	Embedded int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Op == "embed" {
		return fmt.Sprintf("%s provider %s failed after embedding %d chunks: %v", e.Provider, e.Op, e.Embedded, e.Err)
	}
	return fmt.Sprintf("%s provider %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NotIndexedError is returned when a query targets a repository with no vector index.
type NotIndexedError struct {
	RepoKey string
}

func (e *NotIndexedError) Error() string {
	return fmt.Sprintf("repository %s is not indexed; build the index first", e.RepoKey)
}

// SynthesisError carries the wiki structure invariant that could not be satisfied.
type SynthesisError struct {
	Violation string
	Err       error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wiki synthesis failed: %s: %v", e.Violation, e.Err)
	}
	return fmt.Sprintf("wiki synthesis failed: %s", e.Violation)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// EmptyInputError means no indexable content remained after exclusion.
type EmptyInputError struct {
	RepoKey string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("no indexable content for %s after exclusions", e.RepoKey)
}

// SessionBusyError rejects a resolve against a session that already has one in flight.
type SessionBusyError struct {
	SessionID string
}

func (e *SessionBusyError) Error() string {
	return fmt.Sprintf("session %s is busy with another query; retry once it completes", e.SessionID)
}

// TurnOrderError reports a conversation that does not alternate user/assistant.
type TurnOrderError struct {
	Index  int
	Reason string
}

func (e *TurnOrderError) Error() string {
	return fmt.Sprintf("invalid message order at %d: %s", e.Index, e.Reason)
}

// IsUserError reports whether err is a structural/input failure that callers should not retry.
func IsUserError(err error) bool {
	var (
		access   *AccessError
		notFound *NotFoundError
		empty    *EmptyInputError
		order    *TurnOrderError
		notIdx   *NotIndexedError
	)
	return errors.As(err, &access) || errors.As(err, &notFound) || errors.As(err, &empty) ||
		errors.As(err, &order) || errors.As(err, &notIdx)
}
