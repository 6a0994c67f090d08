// Package boot is the progress vocabulary of a readiness wait.
package boot

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"

	"github.com/projecteru2/bootwatch/types"
)

// Phase represents a stage of waiting for a guest to become reachable.
type Phase int

const (
	PhaseMonitor     Phase = iota // Monitor subprocess started.
	PhaseState                    // Guest reported a new boot state.
	PhaseUnsupported              // Guest cannot report; polling only.
	PhaseProbe                    // An SSH probe attempt failed.
	PhaseReady                    // SSH is reachable.
	PhaseFailed                   // The wait ended without success.
)

func (p Phase) String() string {
	switch p {
	case PhaseMonitor:
		return "monitor"
	case PhaseState:
		return "state"
	case PhaseUnsupported:
		return "unsupported"
	case PhaseProbe:
		return "probe"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Event describes a single boot progress update.
type Event struct {
	Phase   Phase
	State   *types.BootState // PhaseState only.
	Attempt int              // Probe attempt number, 1-based; PhaseProbe and PhaseReady.
	Elapsed time.Duration    // Since the wait started.
	Err     error            // PhaseProbe and PhaseFailed.
}

// Describe renders e as a short user-facing line.
func Describe(e Event) string {
	switch e.Phase {
	case PhaseMonitor:
		return "Starting VM..."
	case PhaseState:
		if e.State == nil {
			return "Starting VM..."
		}
		switch e.State.Kind {
		case types.BootWaitingForSystemd:
			return "Waiting for systemd..."
		case types.BootReachedTarget:
			return fmt.Sprintf("Reached %s", e.State.Target)
		case types.BootReady:
			return "Systemd ready, connecting..."
		}
		return e.State.String()
	case PhaseUnsupported:
		return "Waiting for SSH..."
	case PhaseProbe:
		return fmt.Sprintf("Waiting for SSH (attempt %d, %s)", e.Attempt, units.HumanDuration(e.Elapsed))
	case PhaseReady:
		return fmt.Sprintf("VM ready after %s", units.HumanDuration(e.Elapsed))
	case PhaseFailed:
		if e.Err != nil {
			return fmt.Sprintf("VM not ready: %v", e.Err)
		}
		return "VM not ready"
	default:
		return e.Phase.String()
	}
}
