package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/mailmonkey/internal/campaign"
	"github.com/roach88/mailmonkey/internal/config"
	"github.com/roach88/mailmonkey/internal/eligibility"
	"github.com/roach88/mailmonkey/internal/finalize"
	"github.com/roach88/mailmonkey/internal/presort"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Domain failure (mandatory overflow, missing mapping, eligibility abort)
	ExitCommandError = 2 // Command error (bad flags, invalid profile, unreadable files)
)

// Error codes in JSON envelopes.
const (
	ErrCodeGeneric           = "E001"
	ErrCodeInvalidProfile    = "E002"
	ErrCodeMappingNotFound   = "E003"
	ErrCodeStateMissing      = "E004"
	ErrCodeMandatoryOverflow = "E005"
	ErrCodeEligibilityAbort  = "E006"
	ErrCodeFinalized         = "E007"
	ErrCodeNoCampaignNumber  = "E008"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify maps a domain error to its envelope code and exit code.
func classify(err error) (string, int) {
	var (
		overflow *presort.MandatoryOverflowError
		abort    *eligibility.AbortError
	)
	switch {
	case config.IsValidationError(err):
		return ErrCodeInvalidProfile, ExitCommandError
	case finalize.IsMappingNotFound(err):
		return ErrCodeMappingNotFound, ExitFailure
	case errors.Is(err, finalize.ErrStateMissing):
		return ErrCodeStateMissing, ExitFailure
	case errors.Is(err, finalize.ErrNoCampaignNumber):
		return ErrCodeNoCampaignNumber, ExitCommandError
	case errors.As(err, &overflow):
		return ErrCodeMandatoryOverflow, ExitFailure
	case errors.As(err, &abort):
		return ErrCodeEligibilityAbort, ExitFailure
	case errors.Is(err, campaign.ErrFinalized), errors.Is(err, campaign.ErrMasterExists):
		return ErrCodeFinalized, ExitFailure
	default:
		return ErrCodeGeneric, ExitCommandError
	}
}

// fail writes err through the formatter and returns the matching ExitError.
func fail(f *OutputFormatter, message string, err error) error {
	code, exit := classify(err)
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(exit, message, err)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Textf writes a line in text mode only; JSON output is a single envelope.
func (f *OutputFormatter) Textf(format string, args ...any) {
	if f.Format == "json" {
		return
	}
	fmt.Fprintf(f.Writer, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
