package core

import (
	"context"
	"fmt"
	"time"

	"github.com/nyxveil/corona/internal/corona"
	"github.com/nyxveil/corona/internal/ports"
	"github.com/nyxveil/corona/internal/scheduler"
)

// progressInterval bounds how often a long-running executor must call
// ctrl.ReportProgress so the scheduler's stuck-task detector (§4.6) never
// mistakes cooperative work for a hang.
const progressInterval = 5 * time.Second

// autonomyExecutor dispatches a Task::Autonomy(Decision) to the ServicePort
// or EmotionPort, matching the Decision's Action.Kind (§4.5 step 8).
func (c *Core) autonomyExecutor(ctx context.Context, task scheduler.Task, ctrl *scheduler.Control) error {
	decision := task.Kind.Decision
	ctrl.ReportProgress(c.clock.Now())

	switch decision.Action.Kind {
	case ports.ActionIdle:
		return nil

	case ports.ActionStartConversation:
		_, err := c.ports.Service.StartConversation(ctx, decision.Action.Topic)
		return err

	case ports.ActionShareKnowledge:
		_, err := c.ports.Service.ShareKnowledge(ctx, decision.Action.Domain)
		return err

	case ports.ActionLearnSkill:
		_, err := c.ports.Service.LearnSkill(ctx, decision.Action.SkillID)
		return err

	case ports.ActionExpressEmotion:
		return c.ports.Emotion.Express(ctx, decision.Action.Emotion, 1.0)

	default:
		return fmt.Errorf("core: %w: unknown action kind %v", corona.ErrRejected, decision.Action.Kind)
	}
}

// simulatedWorkExecutor backs the task kinds whose actual computation
// (model training steps, game simulation ticks, resource-reclaim passes,
// upkeep sweeps) is implementation-defined and owned by a deployment, not
// the core's narrow port set (§4.3 only names Emotion/Voice/Recognizer/
// Context/Service). It runs a bounded cooperative loop so scheduler
// supervision (pause, abort, stuck-detection) has something real to drive
// against when no concrete backend is wired in.
func simulatedWorkExecutor(steps int, stepDuration time.Duration) scheduler.ExecutorFunc {
	return func(ctx context.Context, task scheduler.Task, ctrl *scheduler.Control) error {
		ticker := time.NewTicker(stepDuration)
		defer ticker.Stop()

		for i := 0; i < steps; i++ {
			if ctrl.Aborting() {
				return corona.ErrTransitionAborted
			}
			for ctrl.Paused() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				ctrl.ReportProgress(time.Now())
			}
		}
		return nil
	}
}
