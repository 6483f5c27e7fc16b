package cli

import (
	"fmt"
	"os"

	"github.com/harborhq/contextd/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
	}
}

// Handle provides user-friendly error messages based on error type
func (h *ErrorHandler) Handle(err error) error {
	switch errors.GetCode(err) {
	case errors.ErrCodeDaemonUnreachable:
		fmt.Fprintf(os.Stderr, "❌ contextd is not running. Start it with 'contextd start'.\n")
		return err

	case errors.ErrCodeSingletonConflict:
		if coordErr, ok := err.(*errors.CoordError); ok {
			fmt.Fprintf(os.Stderr, "❌ Another instance is already running (PID %v)\n", coordErr.Details["pid"])
			fmt.Fprintf(os.Stderr, "Stop it first with 'contextd stop'.\n")
		}
		return err

	case errors.ErrCodeNotFound:
		if coordErr, ok := err.(*errors.CoordError); ok {
			fmt.Fprintf(os.Stderr, "❌ Session '%v' is not registered\n", coordErr.Details["session_id"])
			fmt.Fprintf(os.Stderr, "Run 'contextd sessions list' to see registered sessions.\n")
		}
		return err

	case errors.ErrCodeCheckpointRejected:
		if coordErr, ok := err.(*errors.CoordError); ok {
			fmt.Fprintf(os.Stderr, "❌ A checkpoint is already in flight (id %v)\n",
				coordErr.Details["pending_checkpoint_id"])
		}
		return err

	case errors.ErrCodeConfigInvalid:
		fmt.Fprintf(os.Stderr, "❌ Invalid configuration: %v\n", err)
		fmt.Fprintf(os.Stderr, "The previous configuration stays in effect.\n")
		return err

	default:
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		if h.Verbose {
			if coordErr, ok := err.(*errors.CoordError); ok {
				fmt.Fprintf(os.Stderr, "\nError details:\n%s\n", coordErr.ToJSON())
			}
		}
		return err
	}
}
