package engine

import "github.com/okanya/scriptbox/internal/protocol"

// Error type names surfaced in Result.Error.Type. Worker-reported types
// (driver errors, script exceptions) pass through verbatim and are not
// listed here; ErrTypeRuntime is the fallback when a failed worker result
// carries no type of its own.
const (
	ErrTypeValidation     = "ValidationError"
	ErrTypeSyntax         = "SyntaxError"
	ErrTypeInstanceConfig = "InstanceConfigError"
	ErrTypeWorkerNotFound = "WorkerNotFoundError"
	ErrTypeProcess        = "ProcessError"
	ErrTypeTimeout        = "TimeoutError"
	ErrTypeRuntime        = "RuntimeError"
)

// failureResult builds a settled failure with an empty output stream.
func failureResult(errType, message string) *Result {
	return &Result{
		Success: false,
		Output:  protocol.EventList{},
		Error:   &protocol.ErrorInfo{Type: errType, Message: message},
	}
}
