package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Lifecycle is the status marker carried by every StatusEvent
type Lifecycle string

const (
	LifecycleStarted           Lifecycle = "started"
	LifecycleRunning           Lifecycle = "running"
	LifecycleFinished          Lifecycle = "finished"
	LifecycleStartedTransport  Lifecycle = "started_transport"
	LifecycleFinishedTransport Lifecycle = "finished_transport"
)

// IsTerminal returns true for every marker other than started and running
func (l Lifecycle) IsTerminal() bool {
	return l != LifecycleStarted && l != LifecycleRunning
}

// Well known payload keys
const (
	KeyID         = "id"
	KeyStatus     = "status"
	KeyTime       = "time"
	KeyResult     = "result"
	KeyReturnCode = "returncode"
	KeyStdout     = "stdout"
	KeyStderr     = "stderr"
	KeyFailReason = "fail_reason"
)

// StatusEvent is a single timestamped record emitted while a task runs.
// Stdout and Stderr are nil when the event carries no captured output.
type StatusEvent struct {
	TaskID     TaskID
	Status     Lifecycle
	Time       time.Time
	Result     Outcome
	ReturnCode *int
	Stdout     []byte
	Stderr     []byte
	FailReason string
	Extra      map[string]any
}

// HasResult reports whether the event carries an outcome tag
func (e StatusEvent) HasResult() bool {
	return e.Result != ""
}

// WithoutOutput returns a copy of the event with its captured output removed
func (e StatusEvent) WithoutOutput() StatusEvent {
	e.Stdout = nil
	e.Stderr = nil
	return e
}

// Clone returns a deep copy so later changes to the source cannot leak into the copy
func (e StatusEvent) Clone() StatusEvent {
	if e.ReturnCode != nil {
		rc := *e.ReturnCode
		e.ReturnCode = &rc
	}
	if e.Stdout != nil {
		e.Stdout = append([]byte{}, e.Stdout...)
	}
	if e.Stderr != nil {
		e.Stderr = append([]byte{}, e.Stderr...)
	}
	if e.Extra != nil {
		extra := make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			extra[k] = v
		}
		e.Extra = extra
	}
	return e
}

// MarshalJSON flattens the well known fields and the extension bag into one object
func (e StatusEvent) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Extra)+8)
	for k, v := range e.Extra {
		m[k] = v
	}
	if !e.TaskID.IsZero() {
		m[KeyID] = e.TaskID.String()
	}
	m[KeyStatus] = e.Status
	m[KeyTime] = UnixSeconds(e.Time)
	if e.Result != "" {
		m[KeyResult] = e.Result
	}
	if e.ReturnCode != nil {
		m[KeyReturnCode] = *e.ReturnCode
	}
	if e.Stdout != nil {
		m[KeyStdout] = e.Stdout
	}
	if e.Stderr != nil {
		m[KeyStderr] = e.Stderr
	}
	if e.FailReason != "" {
		m[KeyFailReason] = e.FailReason
	}
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON. The id key is kept in Extra since
// the structured identity cannot be recovered from its string form.
func (e *StatusEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := StatusEvent{}
	for k, v := range raw {
		var err error
		switch k {
		case KeyStatus:
			err = json.Unmarshal(v, &out.Status)
		case KeyTime:
			var secs float64
			if err = json.Unmarshal(v, &secs); err == nil {
				out.Time = fromUnixSeconds(secs)
			}
		case KeyResult:
			err = json.Unmarshal(v, &out.Result)
		case KeyReturnCode:
			var rc int
			if err = json.Unmarshal(v, &rc); err == nil {
				out.ReturnCode = &rc
			}
		case KeyStdout:
			err = json.Unmarshal(v, &out.Stdout)
		case KeyStderr:
			err = json.Unmarshal(v, &out.Stderr)
		case KeyFailReason:
			err = json.Unmarshal(v, &out.FailReason)
		default:
			var val any
			if err = json.Unmarshal(v, &val); err == nil {
				if out.Extra == nil {
					out.Extra = make(map[string]any)
				}
				out.Extra[k] = val
			}
		}
		if err != nil {
			return fmt.Errorf("decoding %q: %w", k, err)
		}
	}
	*e = out
	return nil
}

// UnixSeconds renders t as fractional seconds since the epoch, 0 for the zero time
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(secs float64) time.Time {
	if secs == 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}
