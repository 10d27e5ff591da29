// Package sandbox executes vetted skill bundles in isolation.
//
// Execution is submitted to a worker pool and observed through a result
// handle, so one skill's five-minute timeout can never stall permission
// checks or other agents' runs. Limit breaches surface as typed violations;
// a terminated run is always a failure result, never a silent success.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/loopwork-ai/governor/pkg/registry"
)

// Runner executes one skill bundle and returns its raw output. Limit
// violations are returned as *LimitError.
type Runner interface {
	Run(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error)
}

// LimitError is a deterministic, typed error for sandbox limit breaches.
// Code is one of the contracts.SandboxViolation* constants.
type LimitError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// InProcessRunner runs the handler natively. Development and test use
// only; it provides no isolation.
type InProcessRunner struct {
	handler func(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error)
}

// NewInProcessRunner wraps a handler; nil gets an echo handler.
func NewInProcessRunner(handler func(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error)) *InProcessRunner {
	if handler == nil {
		handler = func(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(10 * time.Millisecond):
				return append([]byte("echo: "), input...), nil
			}
		}
	}
	return &InProcessRunner{handler: handler}
}

func (r *InProcessRunner) Run(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error) {
	return r.handler(ctx, skill, input)
}
