package executor

import "fmt"

// Phase is the lifecycle phase of one invocation. Phases only move forward
type Phase byte

const (
	PhaseIdle = Phase(iota)
	PhaseVerifying
	PhaseInitializing
	PhaseStarting
	PhaseSeeding
	PhaseSynchronizing
	PhaseRunning
	PhaseStopping
	PhaseStopped
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseVerifying:
		return "verifying"
	case PhaseInitializing:
		return "initializing"
	case PhaseStarting:
		return "starting"
	case PhaseSeeding:
		return "seeding"
	case PhaseSynchronizing:
		return "synchronizing"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", p)
}

func (p Phase) IsTerminal() bool {
	return p == PhaseStopped || p == PhaseFailed
}

// Status is the terminal status of the invocation
type Status byte

const (
	StatusOK = Status(iota)
	StatusInvalidConfig
	StatusUninitialized
	StatusInitExists
	StatusInitFailed
	StatusStartFailed
	StatusSeedFailed
	StatusSyncFailed
	StatusNodeFault
	StatusStopFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidConfig:
		return "INVALID_CONFIG"
	case StatusUninitialized:
		return "UNINITIALIZED"
	case StatusInitExists:
		return "EXISTS"
	case StatusInitFailed:
		return "INIT_FAIL"
	case StatusStartFailed:
		return "START_FAIL"
	case StatusSeedFailed:
		return "SEED_FAIL"
	case StatusSyncFailed:
		return "SYNC_FAIL"
	case StatusNodeFault:
		return "NODE_FAULT"
	case StatusStopFailed:
		return "STOP_FAIL"
	}
	return fmt.Sprintf("status(%d)", s)
}

// ExitCode is the process exit code: 0 for success, 2 and above for failures
func (s Status) ExitCode() int {
	if s == StatusOK {
		return 0
	}
	return int(s) + 1
}
