package engine

import (
	"fmt"
	"net/http"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TaskTextGeneration is the only inference task askpdf issues.
const TaskTextGeneration = "text-generation"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions are the sampling parameters for one Chat call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	Task        string
}

// DefaultGenerateOptions returns temperature 0.5, 512 tokens, text-generation.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{Temperature: 0.5, MaxTokens: 512, Task: TaskTextGeneration}
}

// Validate rejects options no provider can honour.
func (o GenerateOptions) Validate() error {
	if o.Task != "" && o.Task != TaskTextGeneration {
		return fmt.Errorf("unsupported generation task %q", o.Task)
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", o.Temperature)
	}
	if o.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative, got %d", o.MaxTokens)
	}
	return nil
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// StatusError is a provider failure with an HTTP status code.
type StatusError struct {
	Provider string
	Code     int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %v", e.Provider, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the call may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}
