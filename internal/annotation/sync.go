package annotation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"charthub/internal/domain"
)

// MutationOp names the three annotation operations.
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// Mutation is one annotation change, carrying the full property snapshot
// rather than a delta so that applying it is idempotent and ordering
// between update bursts does not matter.
type Mutation struct {
	Op       MutationOp      `json:"op"`
	ID       string          `json:"id"`
	Type     string          `json:"type,omitempty"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

// NewMutation encodes an operation on an annotation into its wire form.
// Geometry is omitted for deletes.
func NewMutation(op MutationOp, id ID, g domain.Geometry) (Mutation, error) {
	m := Mutation{Op: op, ID: id.String()}
	if op == OpDelete {
		return m, nil
	}
	m.Type = string(id.Type)
	raw, err := json.Marshal(g)
	if err != nil {
		return Mutation{}, fmt.Errorf("encode %s geometry: %w", id, err)
	}
	m.Geometry = raw
	return m, nil
}

// DecodeGeometry rebuilds the typed geometry from a mutation payload.
func (m Mutation) DecodeGeometry() (domain.Geometry, error) {
	switch domain.AnnotationType(m.Type) {
	case domain.AnnotationHLine:
		var g domain.HLine
		return g, json.Unmarshal(m.Geometry, &g)
	case domain.AnnotationBox:
		var g domain.Box
		return g, json.Unmarshal(m.Geometry, &g)
	case domain.AnnotationTrendLine:
		var g domain.TrendLine
		return g, json.Unmarshal(m.Geometry, &g)
	case domain.AnnotationText:
		var g domain.Text
		return g, json.Unmarshal(m.Geometry, &g)
	case domain.AnnotationArrow:
		var g domain.Arrow
		return g, json.Unmarshal(m.Geometry, &g)
	default:
		return nil, fmt.Errorf("unknown annotation type %q", m.Type)
	}
}

// Sender delivers mutations to the backend. Implementations report false
// when the connection is down; the syncer then drops the send, as local
// state already reflects the change and the backend replays its own copy
// on reconnect.
type Sender interface {
	SendAnnotation(m Mutation) bool
}

// Syncer replicates annotation mutations between the charts of one window
// and the backend. Registries are keyed by the timeframe they render; an
// ID with the "all" timeframe is applied to every registry with an
// identical ID, so the annotation stays one logical object everywhere.
type Syncer struct {
	clientOwner string
	sender      Sender
	log         *slog.Logger

	mu          sync.Mutex
	registries  map[domain.Timeframe]*Registry
	drawingLock bool
}

// NewSyncer creates a syncer for the client identity that owns this
// window's user drawings.
func NewSyncer(clientID string, sender Sender, log *slog.Logger) *Syncer {
	return &Syncer{
		clientOwner: ClientOwner(clientID),
		sender:      sender,
		log:         log.With("component", "annotation_syncer"),
		registries:  make(map[domain.Timeframe]*Registry),
	}
}

// Attach registers a chart surface. Mutations with the "all" timeframe
// replicate to it from then on.
func (s *Syncer) Attach(r *Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registries[r.Timeframe()] = r
}

// Detach removes a chart's registry, disposing its annotations.
func (s *Syncer) Detach(tf domain.Timeframe) {
	s.mu.Lock()
	r, ok := s.registries[tf]
	delete(s.registries, tf)
	s.mu.Unlock()
	if ok {
		r.Dispose()
	}
}

// DrawingLock reports whether user drawings are currently frozen.
func (s *Syncer) DrawingLock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawingLock
}

// SetDrawingLock freezes or unfreezes user-drawn annotations on every
// attached chart. Strategy and internal annotations are never editable
// and are unaffected.
func (s *Syncer) SetDrawingLock(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawingLock = locked
	for _, r := range s.registries {
		r.SetEditableByOwner(OwnerClient, !locked)
	}
}

// ApplyLocal handles a mutation originated on this client: a user drawing
// or an internally computed marker. The change is applied to the relevant
// registries and forwarded to the backend unless the owner is internal
// (internal markers are derived state and never persisted).
func (s *Syncer) ApplyLocal(op MutationOp, id ID, g domain.Geometry) error {
	if err := id.Validate(); err != nil {
		return err
	}
	class := ClassifyOwner(id.Owner)
	if class == OwnerClient && id.Owner != s.clientOwner {
		return fmt.Errorf("annotation %s belongs to another client", id)
	}
	if class == OwnerStrategy {
		return fmt.Errorf("annotation %s is strategy-owned and read-only", id)
	}

	s.mu.Lock()
	editable := class == OwnerClient && !s.drawingLock
	s.applyLocked(op, id, g, editable)
	s.mu.Unlock()

	if class == OwnerInternal {
		return nil
	}
	m, err := NewMutation(op, id, g)
	if err != nil {
		return err
	}
	if !s.sender.SendAnnotation(m) {
		s.log.Debug("backend offline, annotation mutation not sent", "id", id.String(), "op", op)
	}
	return nil
}

// ApplyRemote handles a mutation pushed by the backend, from another
// window of this client or from a strategy feed. Re-deliveries are
// harmless: creates of an existing ID become updates, and deletes of a
// missing ID are skipped.
func (s *Syncer) ApplyRemote(m Mutation) error {
	id, err := ParseID(m.ID)
	if err != nil {
		return err
	}
	var g domain.Geometry
	if m.Op != OpDelete {
		if g, err = m.DecodeGeometry(); err != nil {
			return fmt.Errorf("annotation %s: %w", m.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	editable := id.Owner == s.clientOwner && !s.drawingLock
	s.applyLocked(m.Op, id, g, editable)
	return nil
}

// applyLocked fans the mutation out to the matching registries. Callers
// hold s.mu.
func (s *Syncer) applyLocked(op MutationOp, id ID, g domain.Geometry, editable bool) {
	for tf, r := range s.registries {
		if !id.All() && id.Timeframe != tf {
			continue
		}
		var err error
		switch op {
		case OpCreate:
			err = r.Create(id, g, editable)
		case OpUpdate:
			err = r.Update(id, g)
		case OpDelete:
			err = r.Delete(id)
		default:
			err = fmt.Errorf("unknown op %q", op)
		}
		if err != nil {
			// A target chart may not hold the annotation yet; skip it
			// rather than failing the whole fan-out.
			s.log.Warn("annotation mutation skipped",
				"id", id.String(), "op", op, "timeframe", tf, "err", err)
		}
	}
}
