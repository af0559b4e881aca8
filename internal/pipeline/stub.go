package pipeline

import (
	"context"
	"log/slog"
	"sync"
)

// StubClient accepts every handoff without network I/O. Used when no pipeline
// endpoint is configured and throughout the tests.
type StubClient struct {
	logger *slog.Logger

	mu      sync.Mutex
	invoked []InvokePayload
	fail    error
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

// FailWith makes every subsequent Invoke return err.
func (c *StubClient) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *StubClient) Invoke(ctx context.Context, payload InvokePayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.invoked = append(c.invoked, payload)
	if c.logger != nil {
		c.logger.Info("pipeline stub: handoff accepted", "job_id", payload.JobID)
	}
	return nil
}

// Invocations returns a copy of the accepted payloads.
func (c *StubClient) Invocations() []InvokePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]InvokePayload, len(c.invoked))
	copy(out, c.invoked)
	return out
}
