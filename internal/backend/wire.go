// Package backend implements the JSON wire protocol spoken with the data
// backend over a persistent websocket: inbound messages discriminated by
// "mtyp" and outbound actions discriminated by "act".
package backend

import (
	"encoding/json"
	"fmt"

	"charthub/internal/domain"
)

// Inbound message type discriminator values.
const (
	MTypData     = "data"
	MTypCtrl     = "ctrl"
	MTypError    = "error"
	MTypStrategy = "strategy"
)

// envelope peeks at the discriminator before the full decode.
type envelope struct {
	MTyp string `json:"mtyp"`
}

// DataMessage carries one OHLCV candle for one instrument/timeframe. The
// source flag distinguishes backfill and replay history from live pushes.
type DataMessage struct {
	MTyp       string  `json:"mtyp"`
	Instrument string  `json:"instrument"`
	Timeframe  string  `json:"timeframe"`
	Timestamp  int64   `json:"t"`
	Open       float64 `json:"o"`
	High       float64 `json:"h"`
	Low        float64 `json:"l"`
	Close      float64 `json:"c"`
	Volume     int64   `json:"v"`
	Source     string  `json:"source"` // "historical" or "live"
}

// Validate checks that the wire candle describes a real trade range: a
// positive timestamp, a positive non-inverted price range that contains
// both open and close, and non-negative volume.
func (m DataMessage) Validate() error {
	if m.Timestamp <= 0 {
		return fmt.Errorf("candle %s/%s has no timestamp", m.Instrument, m.Timeframe)
	}
	if m.Low <= 0 || m.High < m.Low {
		return fmt.Errorf("candle at %d has range [%v, %v]", m.Timestamp, m.Low, m.High)
	}
	if m.Open < m.Low || m.Open > m.High || m.Close < m.Low || m.Close > m.High {
		return fmt.Errorf("candle at %d has open %v / close %v outside [%v, %v]",
			m.Timestamp, m.Open, m.Close, m.Low, m.High)
	}
	if m.Volume < 0 {
		return fmt.Errorf("candle at %d has volume %d", m.Timestamp, m.Volume)
	}
	return nil
}

// Candle converts the wire candle into its domain form.
func (m DataMessage) Candle() domain.Candle {
	src := domain.SourceLive
	if m.Source == "historical" {
		src = domain.SourceHistorical
	}
	return domain.Candle{
		Timestamp: m.Timestamp,
		Open:      m.Open, High: m.High, Low: m.Low, Close: m.Close,
		Volume: m.Volume,
		Source: src,
	}
}

// CtrlMessage is a control-plane response. Which action it answers is
// named in Act; the payload shape depends on that action, so it stays raw
// until the handler decodes it.
type CtrlMessage struct {
	MTyp    string          `json:"mtyp"`
	Act     string          `json:"act"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorMessage reports a backend-side failure.
type ErrorMessage struct {
	MTyp string `json:"mtyp"`
	Act  string `json:"act,omitempty"`
	Code int    `json:"code"`
	Text string `json:"text"`
}

// StrategyMessage is an out-of-band annotation create or delete pushed by
// a subscribed strategy feed.
type StrategyMessage struct {
	MTyp     string          `json:"mtyp"`
	Strategy string          `json:"strategy"`
	Op       string          `json:"op"` // "create" or "delete"
	ID       string          `json:"id"`
	Type     string          `json:"type,omitempty"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

// Outbound action names.
const (
	ActSetClientID        = "set_client_id"
	ActGetClientSettings  = "get_client_settings"
	ActSaveClientSettings = "save_client_settings"
	ActGetData            = "get_data"
	ActGetReplay          = "get_replay"
	ActModifyReplay       = "modify_replay"
	ActStopReplay         = "stop_replay"
	ActGetAnno            = "get_anno"
	ActSaveAnno           = "save_anno"
	ActDeleteAnno         = "delete_anno"
	ActGetStrat           = "get_strat"
	ActSubStrat           = "sub_strat"
	ActUnsubStrat         = "unsub_strat"
)

// SetClientIDRequest identifies this client on a fresh connection. It is
// always the first message sent.
type SetClientIDRequest struct {
	Act      string `json:"act"`
	ClientID string `json:"client_id"`
}

// GetClientSettingsRequest asks for the persisted settings snapshot.
type GetClientSettingsRequest struct {
	Act string `json:"act"`
}

// SaveClientSettingsRequest persists the full settings snapshot.
type SaveClientSettingsRequest struct {
	Act      string          `json:"act"`
	Settings json.RawMessage `json:"settings"`
}

// GetDataRequest subscribes to an instrument: historical backfill from
// StartTime followed by the live stream, per requested timeframe.
type GetDataRequest struct {
	Act        string   `json:"act"`
	Instrument string   `json:"instrument"`
	Timeframes []string `json:"timeframes"`
	StartTime  int64    `json:"start_time"`
}

// GetReplayRequest starts a replay session: history up to LiveStart is
// delivered as backfill, then candles between LiveStart and LiveEnd are
// paced out at ReplayIntervalMs per candle.
type GetReplayRequest struct {
	Act              string   `json:"act"`
	Instrument       string   `json:"instrument"`
	Timeframes       []string `json:"timeframes"`
	HistoryStart     int64    `json:"history_start"`
	LiveStart        int64    `json:"live_start"`
	LiveEnd          int64    `json:"live_end"`
	ReplayIntervalMs int64    `json:"replay_interval"`
}

// ModifyReplayRequest pauses, resumes, or repaces an active replay. Nil
// fields leave the corresponding setting unchanged.
type ModifyReplayRequest struct {
	Act              string `json:"act"`
	Paused           *bool  `json:"paused,omitempty"`
	ReplayIntervalMs *int64 `json:"replay_interval,omitempty"`
}

// StopReplayRequest ends an active replay session.
type StopReplayRequest struct {
	Act string `json:"act"`
}

// GetAnnoRequest asks for the persisted annotations of an instrument.
type GetAnnoRequest struct {
	Act        string `json:"act"`
	Instrument string `json:"instrument"`
}

// SaveAnnoRequest persists one annotation's full property snapshot.
type SaveAnnoRequest struct {
	Act      string          `json:"act"`
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Geometry json.RawMessage `json:"geometry"`
}

// DeleteAnnoRequest removes one persisted annotation.
type DeleteAnnoRequest struct {
	Act string `json:"act"`
	ID  string `json:"id"`
}

// GetStratRequest lists the strategy feeds available for subscription.
type GetStratRequest struct {
	Act string `json:"act"`
}

// SubStratRequest subscribes to a strategy's annotation feed.
type SubStratRequest struct {
	Act      string `json:"act"`
	Strategy string `json:"strategy"`
}

// UnsubStratRequest drops a strategy subscription.
type UnsubStratRequest struct {
	Act      string `json:"act"`
	Strategy string `json:"strategy"`
}
