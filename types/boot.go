package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BootStateKind names a stage of guest boot as reported by the in-guest supervisor.
type BootStateKind string

const (
	BootWaitingForSystemd BootStateKind = "waiting_for_systemd" // supervisor is up, systemd has not notified yet
	BootReachedTarget     BootStateKind = "reached_target"      // a systemd unit/target became active
	BootReady             BootStateKind = "ready"               // systemd sent READY=1
)

// BootState is a closed sum: Target is only meaningful for BootReachedTarget.
// Ready is a hint that SSH should work soon, not a guarantee.
type BootState struct {
	Kind   BootStateKind
	Target string
}

func WaitingForSystemd() BootState { return BootState{Kind: BootWaitingForSystemd} }

func ReachedTarget(name string) BootState {
	return BootState{Kind: BootReachedTarget, Target: name}
}

func Ready() BootState { return BootState{Kind: BootReady} }

// IsReady reports whether the guest announced full startup.
func (s BootState) IsReady() bool { return s.Kind == BootReady }

func (s BootState) String() string {
	switch s.Kind {
	case BootWaitingForSystemd:
		return "waiting for systemd"
	case BootReachedTarget:
		return "reached " + s.Target
	case BootReady:
		return "ready"
	default:
		return string(s.Kind)
	}
}

// MarshalJSON emits the externally-tagged form: {"ready":null} or {"reached_target":"x"}.
func (s BootState) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case BootWaitingForSystemd, BootReady:
		return json.Marshal(map[string]any{string(s.Kind): nil})
	case BootReachedTarget:
		return json.Marshal(map[string]string{string(s.Kind): s.Target})
	default:
		return nil, fmt.Errorf("unknown boot state %q", s.Kind)
	}
}

// UnmarshalJSON accepts the tagged object form and the bare-string form for unit variants.
func (s *BootState) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		switch kind := BootStateKind(name); kind {
		case BootWaitingForSystemd, BootReady:
			*s = BootState{Kind: kind}
			return nil
		default:
			return fmt.Errorf("unknown boot state %q", name)
		}
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("decode boot state: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("boot state must have exactly one variant, got %d", len(tagged))
	}
	for name, raw := range tagged {
		switch kind := BootStateKind(name); kind {
		case BootWaitingForSystemd, BootReady:
			*s = BootState{Kind: kind}
		case BootReachedTarget:
			var target string
			if err := json.Unmarshal(raw, &target); err != nil {
				return fmt.Errorf("decode reached_target: %w", err)
			}
			*s = BootState{Kind: kind, Target: target}
		default:
			return fmt.Errorf("unknown boot state %q", name)
		}
	}
	return nil
}
