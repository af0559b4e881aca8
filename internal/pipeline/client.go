// Package pipeline reaches the external multi-agent analysis pipeline.
// The handoff is fire-and-forget: success means HTTP-level acceptance only,
// the actual EDL result arrives later through step callbacks.
package pipeline

import "context"

// InvokePayload is the body of the handoff request.
type InvokePayload struct {
	ProjectID     string `json:"project_id"`
	UserIntent    string `json:"user_intent"`
	JobID         string `json:"job_id"`
	ScriptContent string `json:"script_content"`
}

type Client interface {
	Invoke(ctx context.Context, payload InvokePayload) error
}
