package scheduler

import "context"

// Executor runs one [TaskKind]'s work. Implementations MUST poll
// ctrl.Aborting/ctrl.Paused at their cooperative suspension points and call
// ctrl.ReportProgress periodically so the supervisor does not mistake
// long-running work for a stuck task. Side effects MUST be idempotent on
// retry: a forcibly canceled task may be retried from the same inputs
// (§4.6 cancellation semantics).
type Executor interface {
	Execute(ctx context.Context, task Task, ctrl *Control) error
}

// ExecutorFunc adapts a function to an [Executor].
type ExecutorFunc func(ctx context.Context, task Task, ctrl *Control) error

func (f ExecutorFunc) Execute(ctx context.Context, task Task, ctrl *Control) error {
	return f(ctx, task, ctrl)
}
