package xerrors

import "fmt"

// Category classifies a StepError for routing and retry decisions.
// This is the shared vocabulary of spec §7's error taxonomy.
type Category string

const (
	CategoryConnectionIO     Category = "CONNECTION_IO"
	CategorySessionShape     Category = "SESSION_SHAPE"
	CategoryAgentNotFound    Category = "AGENT_NOT_FOUND"
	CategoryAgentDisabled    Category = "AGENT_DISABLED"
	CategoryAgentTimeout     Category = "AGENT_TIMEOUT"
	CategoryAgentBusy        Category = "AGENT_BUSY"
	CategoryAgentStartFailed Category = "AGENT_START_FAILED"
	CategoryAgentUnresponsive Category = "AGENT_UNRESPONSIVE"
	CategoryExecutionFailed  Category = "EXECUTION_FAILED"
	CategoryExecutionTimeout Category = "EXECUTION_TIMEOUT"
	CategoryExecutionCancelled Category = "EXECUTION_CANCELLED"
	CategoryPhaseFailed      Category = "PHASE_FAILED"
	CategoryDependencyFailed Category = "DEPENDENCY_FAILED"
	CategoryCircularDependency Category = "CIRCULAR_DEPENDENCY"
	CategoryInternal         Category = "INTERNAL"
)

// StepError is a structured error surfaced from one pipeline step.
// It carries enough context for the orchestrator's retry policy and
// for callers to render a useful error envelope.
type StepError struct {
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	Category     Category          `json:"category"`
	Retryable    bool              `json:"retryable"`
	RetryAfterMs int               `json:"retry_after_ms,omitempty"`
	StepIndex    int               `json:"step_index"`
	Details      map[string]string `json:"details,omitempty"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("[%s] step %d: %s", e.Code, e.StepIndex, e.Message)
}

// Response is the envelope returned by the public façade for one request.
type Response struct {
	Success bool       `json:"success"`
	Data    []byte     `json:"data,omitempty"`
	Error   *StepError `json:"error,omitempty"`
}

// categoryNotRetryable matches spec §7's explicit exceptions: the
// first two Agent sub-errors are never retryable even though most of
// the category is.
var categoryNotRetryable = map[Category]bool{
	CategorySessionShape:       true,
	CategoryAgentNotFound:      true,
	CategoryAgentDisabled:      true,
	CategoryExecutionFailed:    true,
	CategoryExecutionCancelled: true,
	CategoryCircularDependency: true,
	CategoryInternal:           true,
}

// DefaultRetryable reports the taxonomy's default retryability for a
// category, before any error-specific override.
func DefaultRetryable(c Category) bool {
	return !categoryNotRetryable[c]
}
