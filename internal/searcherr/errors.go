// Package searcherr defines the error kinds a bulk search run can fail with.
//
// Every kind is a distinct type so callers can pick a recovery policy with
// errors.As: transient fetch errors are retried by the poller, skipped entities
// are logged and passed over, everything else aborts the run.
package searcherr

import (
	"errors"
	"fmt"
)

// Kind names an error category in diagnostics.
type Kind string

const (
	KindMalformedQuery     Kind = "MalformedQuery"
	KindInvalidCombination Kind = "InvalidCombination"
	KindAuth               Kind = "AuthError"
	KindSubmission         Kind = "SubmissionError"
	KindTransientFetch     Kind = "TransientFetchError"
	KindProtocol           Kind = "ProtocolError"
	KindJobFailed          Kind = "JobFailed"
	KindPathNotFound       Kind = "PathNotFound"
	KindSkippedEntity      Kind = "SkippedEntity"
	KindUnknown            Kind = "Error"
)

// kinded is implemented by every error type in this package.
type kinded interface {
	error
	Kind() Kind
}

// MalformedQueryError means a raw query is not a usable search query.
type MalformedQueryError struct {
	Query  string
	Reason string
}

func (e *MalformedQueryError) Error() string {
	if e.Query == "" {
		return "malformed query: " + e.Reason
	}
	return fmt.Sprintf("malformed query %q: %s", e.Query, e.Reason)
}

func (e *MalformedQueryError) Kind() Kind { return KindMalformedQuery }

// InvalidCombinationError means template parameters were combined in a meaningless way.
type InvalidCombinationError struct {
	Reason string
}

func (e *InvalidCombinationError) Error() string { return "invalid combination: " + e.Reason }

func (e *InvalidCombinationError) Kind() Kind { return KindInvalidCombination }

// AuthError means the service rejected the credentials. Polling again will not help.
type AuthError struct {
	Status int
	URL    string
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("credentials rejected: HTTP %d from %s: %s", e.Status, e.URL, e.Body)
}

func (e *AuthError) Kind() Kind { return KindAuth }

// SubmissionError means the search service did not accept the job.
type SubmissionError struct {
	Status int
	Body   string
	Query  string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("search request for %q not accepted: HTTP %d: %s", e.Query, e.Status, e.Body)
}

func (e *SubmissionError) Kind() Kind { return KindSubmission }

// TransientFetchError is a transport-level or server-side failure worth retrying.
type TransientFetchError struct {
	URL    string
	Status int // 0 when the request never got a response
	Err    error
}

func (e *TransientFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

func (e *TransientFetchError) Kind() Kind { return KindTransientFetch }

// ProtocolError means the service answered with something the client cannot interpret.
type ProtocolError struct {
	URL    string
	Status int
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("unexpected response from %s (HTTP %d): %s", e.URL, e.Status, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Kind() Kind { return KindProtocol }

// ReasonTimeout is the JobFailed reason when the poller gives up waiting.
const ReasonTimeout = "timeout"

// JobFailedError means the job ended without results.
type JobFailedError struct {
	Reason string
}

func (e *JobFailedError) Error() string { return "bulk search job failed: " + e.Reason }

func (e *JobFailedError) Kind() Kind { return KindJobFailed }

// PathNotFoundError means a match location does not exist in the fetched document.
type PathNotFoundError struct {
	Path    string
	Segment string
	Entity  string
}

func (e *PathNotFoundError) Error() string {
	msg := fmt.Sprintf("path %q not found at segment %q", e.Path, e.Segment)
	if e.Entity != "" {
		msg += " in " + e.Entity
	}
	return msg
}

func (e *PathNotFoundError) Kind() Kind { return KindPathNotFound }

// SkippedEntityError describes a match summary that could not be resolved to an entity.
// It is reported, never returned from a run.
type SkippedEntityError struct {
	Index  int
	Reason string
}

func (e *SkippedEntityError) Error() string {
	return fmt.Sprintf("skipped result #%d: %s", e.Index, e.Reason)
}

func (e *SkippedEntityError) Kind() Kind { return KindSkippedEntity }

// KindOf returns the kind of the first error in err's chain that has one.
func KindOf(err error) Kind {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// IsRetryable reports whether err is worth retrying without changing anything.
func IsRetryable(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}
