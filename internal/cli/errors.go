// Package cli provides error handling utilities for CLI output.
package cli

import (
	"errors"
	"fmt"
	"os"

	verrors "github.com/wrenhall/village/internal/errors"
)

// PrintError prints an error to stderr with appropriate formatting.
// VillageErrors use the what/why/fix format; anything else prints plain.
func PrintError(err error) {
	var ve *verrors.VillageError
	if verrors.As(err, &ve) {
		fmt.Fprintln(os.Stderr, ve.UserMessage())
		if verbose && ve.Cause != nil {
			fmt.Fprintf(os.Stderr, "\nCause: %v\n", ve.Cause)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// exitCodeError carries a bare exit code out of a command whose output
// has already been rendered, like the queue batch verdict. Execute
// prints nothing for it.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func exitWith(code int) error {
	if code == verrors.ExitOK {
		return nil
	}
	return &exitCodeError{code: code}
}

func exitCodeOf(err error) (int, bool) {
	var ee *exitCodeError
	if errors.As(err, &ee) {
		return ee.code, true
	}
	return 0, false
}
