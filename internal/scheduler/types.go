package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/nyxveil/corona/internal/ports"
)

// Priority is the closed priority set of §3/§4.6. Lower numeric value is
// higher priority; Priority values are also used to index arrays sized
// [priorityLevels].
type Priority int

const (
	Critical Priority = iota
	High
	Medium
	Low

	priorityLevels = 4
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// Resources is a task's declared resource footprint (§3).
type Resources struct {
	CPUShare float64 // [0,1]
	MemBytes uint64
}

// TaskKindTag discriminates [TaskKind]'s closed variant set (§3).
type TaskKindTag int

const (
	KindModelingPhase TaskKindTag = iota
	KindGameTraining
	KindResourceOptimization
	KindMaintenance
	KindAutonomy
)

func (t TaskKindTag) String() string {
	switch t {
	case KindModelingPhase:
		return "modeling_phase"
	case KindGameTraining:
		return "game_training"
	case KindResourceOptimization:
		return "resource_optimization"
	case KindMaintenance:
		return "maintenance"
	case KindAutonomy:
		return "autonomy"
	default:
		return "unknown"
	}
}

// TaskKind is a closed tagged variant (§3). Exactly one of Phase,
// GameID, Decision is meaningful, selected by Tag.
type TaskKind struct {
	Tag      TaskKindTag
	Phase    uint8         // KindModelingPhase
	GameID   string        // KindGameTraining
	Decision ports.Decision // KindAutonomy
}

// Task is a unit of schedulable work (§3).
type Task struct {
	ID            uuid.UUID
	Kind          TaskKind
	Priority      Priority
	Resources     Resources
	Deadline      *time.Time
	ParentSession *uuid.UUID

	enqueuedAt time.Time
}

// State is the closed set of task run states (§3).
type State int

const (
	StatePending State = iota
	StateRunning
	StateAborting
	StateCompleted
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateAborting:
		return "aborting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// TaskRun is the supervision record for an admitted [Task] (§3).
type TaskRun struct {
	TaskID       uuid.UUID
	Start        time.Time
	State        State
	LastProgress time.Time
	Err          error
}
