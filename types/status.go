package types

import (
	"encoding/json"
	"fmt"
)

// StatusRecord is one snapshot of guest boot progress.
//
// On disk and on the monitor stream it is {"state": ...}. The three cases
// of the state key are kept apart:
//   - key absent:  the guest cannot report (NoReporting); callers fall back to polling
//   - null:        nothing reported yet (State == nil)
//   - a variant:   the latest BootState
//
// SSHAccess is only set on the monitor stream, once a real connection succeeded.
type StatusRecord struct {
	State       *BootState
	NoReporting bool
	SSHAccess   bool
}

// NewStatusRecord wraps a state into a reporting record.
func NewStatusRecord(state BootState) StatusRecord {
	return StatusRecord{State: &state}
}

// NoReportingRecord is written by guests whose init cannot deliver notifications.
func NoReportingRecord() StatusRecord {
	return StatusRecord{NoReporting: true}
}

func (r StatusRecord) String() string {
	switch {
	case r.SSHAccess:
		return "ssh reachable"
	case r.NoReporting:
		return "status reporting unsupported"
	case r.State == nil:
		return "no status yet"
	default:
		return r.State.String()
	}
}

type statusWire struct {
	State     *json.RawMessage `json:"state,omitempty"`
	SSHAccess bool             `json:"ssh_access,omitempty"`
}

var jsonNull = json.RawMessage("null")

func (r StatusRecord) MarshalJSON() ([]byte, error) {
	w := statusWire{SSHAccess: r.SSHAccess}
	switch {
	case r.NoReporting:
	case r.State == nil:
		null := jsonNull
		w.State = &null
	default:
		raw, err := r.State.MarshalJSON()
		if err != nil {
			return nil, err
		}
		msg := json.RawMessage(raw)
		w.State = &msg
	}
	return json.Marshal(w)
}

func (r *StatusRecord) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode status record: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("decode status record: not an object")
	}

	var out StatusRecord
	if raw, ok := fields["ssh_access"]; ok {
		if err := json.Unmarshal(raw, &out.SSHAccess); err != nil {
			return fmt.Errorf("decode ssh_access: %w", err)
		}
	}
	raw, ok := fields["state"]
	switch {
	case !ok:
		out.NoReporting = true
	case string(raw) == "null":
	default:
		var st BootState
		if err := json.Unmarshal(raw, &st); err != nil {
			return err
		}
		out.State = &st
	}
	*r = out
	return nil
}
