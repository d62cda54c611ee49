package ingest

import "fmt"

// RunMode selects which path through the state machine a connection takes.
type RunMode int

const (
	// ModeLive backfills history, then follows the live stream.
	ModeLive RunMode = iota
	// ModeHistoryOnly backfills history and stops.
	ModeHistoryOnly
	// ModeReplay streams recorded candles at a controlled pace.
	ModeReplay
)

func (m RunMode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeHistoryOnly:
		return "history_only"
	case ModeReplay:
		return "replay"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// State is one node of the ingestion state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateBackfill
	StateLive
	StateDone
	StateReplay
	StateReplayPaused
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateBackfill:
		return "backfill"
	case StateLive:
		return "live"
	case StateDone:
		return "done"
	case StateReplay:
		return "replay"
	case StateReplayPaused:
		return "replay_paused"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Machine tracks the connection lifecycle for one run mode:
//
//	live:         disconnected -> connecting -> backfill -> live
//	history-only: disconnected -> connecting -> backfill -> done
//	replay:       disconnected -> connecting -> replay <-> paused -> ended
//
// Disconnect is legal from every state and returns to disconnected.
// The machine is not goroutine-safe; the ingestor serializes access.
type Machine struct {
	mode  RunMode
	state State
}

// NewMachine starts a machine in the disconnected state.
func NewMachine(mode RunMode) *Machine {
	return &Machine{mode: mode, state: StateDisconnected}
}

// Mode returns the run mode the machine was created for.
func (m *Machine) Mode() RunMode { return m.mode }

// State returns the current state.
func (m *Machine) State() State { return m.state }

func (m *Machine) invalid(event string) error {
	return fmt.Errorf("ingest: %s not valid in state %s (mode %s)", event, m.state, m.mode)
}

// Connecting marks the start of a dial attempt.
func (m *Machine) Connecting() error {
	if m.state != StateDisconnected {
		return m.invalid("connecting")
	}
	m.state = StateConnecting
	return nil
}

// Connected records a successful dial: live and history-only modes enter
// backfill, replay goes straight to streaming.
func (m *Machine) Connected() error {
	if m.state != StateConnecting {
		return m.invalid("connected")
	}
	if m.mode == ModeReplay {
		m.state = StateReplay
	} else {
		m.state = StateBackfill
	}
	return nil
}

// LiveArrived flips backfill to live streaming on the first live-sourced
// candle. Only meaningful in live mode.
func (m *Machine) LiveArrived() error {
	if m.mode != ModeLive || m.state != StateBackfill {
		return m.invalid("live candle")
	}
	m.state = StateLive
	return nil
}

// BackfillComplete finishes a history-only run.
func (m *Machine) BackfillComplete() error {
	if m.mode != ModeHistoryOnly || m.state != StateBackfill {
		return m.invalid("backfill complete")
	}
	m.state = StateDone
	return nil
}

// Pause suspends replay delivery.
func (m *Machine) Pause() error {
	if m.state != StateReplay {
		return m.invalid("pause")
	}
	m.state = StateReplayPaused
	return nil
}

// Resume continues a paused replay.
func (m *Machine) Resume() error {
	if m.state != StateReplayPaused {
		return m.invalid("resume")
	}
	m.state = StateReplay
	return nil
}

// ReplayEnded marks replay exhaustion or an explicit stop.
func (m *Machine) ReplayEnded() error {
	if m.state != StateReplay && m.state != StateReplayPaused {
		return m.invalid("replay end")
	}
	m.state = StateEnded
	return nil
}

// Disconnect returns to the disconnected state from anywhere.
func (m *Machine) Disconnect() {
	m.state = StateDisconnected
}
