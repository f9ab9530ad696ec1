package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModuleUnavailable is returned when downloads are disabled
	ErrModuleUnavailable = errors.New("download module unavailable")
	// ErrInvalidContentID is returned when a lookup gets an empty uri or id
	ErrInvalidContentID = errors.New("invalid content id")
	// ErrItemNotFound is returned when no download matches a lookup
	ErrItemNotFound = errors.New("download item not found")
	// ErrNotInitialized is returned by operations that need a completed init
	ErrNotInitialized = errors.New("downloads registry not initialized")
	// ErrShutdown is returned once the registry has been shut down
	ErrShutdown = errors.New("downloads registry shut down")
	// ErrNoUser is returned when a download is requested without a user session
	ErrNoUser = errors.New("no user session")
)

// NativeCallError wraps a failed or timed out call to a download engine
type NativeCallError struct {
	Operation string
	URI       string
	Err       error
}

func (e *NativeCallError) Error() string {
	if e.URI == "" {
		return fmt.Sprintf("native %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("native %s failed for %s: %v", e.Operation, e.URI, e.Err)
}

func (e *NativeCallError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failed read or write of the persisted store
type StorageError struct {
	Operation string
	Key       string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q failed: %v", e.Operation, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// OperationResult is the outcome of one engine call made on behalf of a batch
type OperationResult struct {
	Operation string
	URI       string
	Err       error
}

// OK reports whether the call succeeded
func (r OperationResult) OK() bool {
	return r.Err == nil
}

// BatchResult collects the outcomes of a pause, resume or restart
type BatchResult struct {
	Operation string
	Results   []OperationResult
}

// Add records one outcome
func (b *BatchResult) Add(uri string, err error) {
	b.Results = append(b.Results, OperationResult{Operation: b.Operation, URI: uri, Err: err})
}

// Failures returns the failed outcomes
func (b BatchResult) Failures() []OperationResult {
	var failed []OperationResult
	for _, r := range b.Results {
		if !r.OK() {
			failed = append(failed, r)
		}
	}
	return failed
}

// Err joins every failure, or returns nil
func (b BatchResult) Err() error {
	failed := b.Failures()
	if len(failed) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(failed))
	for _, r := range failed {
		msgs = append(msgs, r.Err.Error())
	}
	return fmt.Errorf("%s: %d of %d failed: %s", b.Operation, len(failed), len(b.Results), strings.Join(msgs, "; "))
}

// Payload converts the batch into its outward event form
func (b BatchResult) Payload() OperationResultPayload {
	p := OperationResultPayload{Operation: b.Operation, OK: true, Failures: []OperationFailure{}}
	for _, r := range b.Failures() {
		p.OK = false
		p.Failures = append(p.Failures, OperationFailure{URI: r.URI, Reason: r.Err.Error()})
	}
	return p
}
