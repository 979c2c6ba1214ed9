// Package errors provides structured error types for village.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an error for recovery and exit-code purposes.
// The set is closed; every error a command surfaces carries exactly one kind.
type Kind string

const (
	// KindTransient marks retryable failures such as subprocess timeouts.
	KindTransient Kind = "transient"
	// KindConfig marks invalid or missing configuration. Permanent.
	KindConfig Kind = "config"
	// KindUserInput marks bad CLI usage.
	KindUserInput Kind = "user-input"
	// KindBlocked means no work is available or no task is admissible.
	KindBlocked Kind = "blocked"
	// KindLockValidation marks a corrupted lock record. Permanent.
	KindLockValidation Kind = "lock-validation"
	// KindInterrupted means the user aborted mid-operation.
	KindInterrupted Kind = "interrupted"
	// KindSubprocess means an underlying tool or facility failed.
	KindSubprocess Kind = "subprocess-failure"
)

// Process exit codes. Closed set; 4 is reserved for partial batch success
// and is computed by the queue command rather than carried on an error.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 2
	ExitBlocked     = 3
	ExitPartial     = 4
	ExitUsage       = 5
)

var kindExits = map[Kind]int{
	KindTransient:      ExitInterrupted,
	KindConfig:         ExitFailure,
	KindUserInput:      ExitUsage,
	KindBlocked:        ExitBlocked,
	KindLockValidation: ExitFailure,
	KindInterrupted:    ExitInterrupted,
	KindSubprocess:     ExitFailure,
}

// ExitCode returns the process exit code for the kind.
func (k Kind) ExitCode() int {
	if code, ok := kindExits[k]; ok {
		return code
	}
	return ExitFailure
}

// VillageError is the structured error type for village.
type VillageError struct {
	Kind    Kind   `json:"kind"`
	What    string `json:"what"`
	Why     string `json:"why,omitempty"`
	Fix     string `json:"fix,omitempty"`
	DocsURL string `json:"docs_url,omitempty"`

	// Retry metadata, populated on transient errors.
	Attempt     int           `json:"attempt,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
	RetryIn     time.Duration `json:"-"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *VillageError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *VillageError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *VillageError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	if e.DocsURL != "" {
		b.WriteString("\n\nDocs: ")
		b.WriteString(e.DocsURL)
	}
	return b.String()
}

// MarshalJSON implements json.Marshaler, flattening the cause to a string.
func (e *VillageError) MarshalJSON() ([]byte, error) {
	type alias VillageError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
		RetryIn  string `json:"retry_in,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	if e.RetryIn > 0 {
		aux.RetryIn = e.RetryIn.String()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a VillageError of the same kind.
func (e *VillageError) Is(target error) bool {
	t, ok := target.(*VillageError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithCause returns a copy of the error with the given cause attached.
func (e *VillageError) WithCause(err error) *VillageError {
	dup := *e
	dup.Cause = err
	return &dup
}

// ExitCode returns the process exit code for the error.
func (e *VillageError) ExitCode() int {
	return e.Kind.ExitCode()
}

// New builds a VillageError with just a kind and a message.
func New(kind Kind, what string) *VillageError {
	return &VillageError{Kind: kind, What: what}
}

// KindOf extracts the kind from err, or KindSubprocess when err carries none.
// A nil err has no kind; callers must not pass one.
func KindOf(err error) Kind {
	var ve *VillageError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindSubprocess
}

// ExitCode maps any error to a process exit code. nil maps to ExitOK;
// errors without a kind map to ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ve *VillageError
	if errors.As(err, &ve) {
		return ve.ExitCode()
	}
	return ExitFailure
}

// As is a convenience re-export so callers need only this package.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is re-exports errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// --- Error constructors ---

// ErrNotRepo reports that the working directory is not inside a git repository.
func ErrNotRepo(dir string) *VillageError {
	return &VillageError{
		Kind:    KindConfig,
		What:    "not inside a git repository",
		Why:     fmt.Sprintf("%s is not part of a git work tree", dir),
		Fix:     "Run village from inside the repository it should orchestrate",
		DocsURL: "https://github.com/wrenhall/village#getting-started",
	}
}

// ErrConfigValue reports an invalid configuration value.
func ErrConfigValue(key string, why string) *VillageError {
	return &VillageError{
		Kind: KindConfig,
		What: fmt.Sprintf("invalid configuration value for %q", key),
		Why:  why,
		Fix:  fmt.Sprintf("Correct %s in config.yaml or the VILLAGE_%s override", key, strings.ToUpper(key)),
	}
}

// ErrUsage reports bad CLI usage.
func ErrUsage(msg string) *VillageError {
	return &VillageError{
		Kind: KindUserInput,
		What: msg,
		Fix:  "Run 'village --help' for usage",
	}
}

// ErrNoWork reports that a command had nothing admissible to act on.
func ErrNoWork(why string) *VillageError {
	return &VillageError{
		Kind: KindBlocked,
		What: "nothing to do",
		Why:  why,
		Fix:  "Run 'village ready' for suggested next actions",
	}
}

// ErrCorruptLock reports a lock file that failed validation.
func ErrCorruptLock(taskID, path, reason string) *VillageError {
	return &VillageError{
		Kind:    KindLockValidation,
		What:    fmt.Sprintf("lock for task %s is corrupted", taskID),
		Why:     fmt.Sprintf("%s: %s", path, reason),
		Fix:     "Run 'village cleanup' to remove it, or fix the file by hand",
		DocsURL: "https://github.com/wrenhall/village#locks",
	}
}

// ErrInterrupted reports a user-initiated abort.
func ErrInterrupted(op string) *VillageError {
	return &VillageError{
		Kind: KindInterrupted,
		What: fmt.Sprintf("%s interrupted", op),
		Why:  "Received an interrupt before the operation finished",
		Fix:  "Already-created worktrees, windows, or locks were left in place; run 'village status' to inspect them",
	}
}

// ErrSubprocess wraps a failed external tool invocation.
func ErrSubprocess(what string, cause error) *VillageError {
	return &VillageError{
		Kind:  KindSubprocess,
		What:  what,
		Cause: cause,
	}
}

// ErrTimeout reports a subprocess that exceeded its deadline.
func ErrTimeout(what string, attempt, maxAttempts int, retryIn time.Duration, cause error) *VillageError {
	return &VillageError{
		Kind:        KindTransient,
		What:        what,
		Why:         "The command did not finish within its timeout",
		Fix:         "Re-run the command; if this persists, check the external tool",
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		RetryIn:     retryIn,
		Cause:       cause,
	}
}
