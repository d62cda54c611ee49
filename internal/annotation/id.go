// Package annotation maintains chart annotation identity and state across
// chart surfaces and replicates mutations between timeframes, sibling
// windows, and the backend.
package annotation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"charthub/internal/domain"
)

// OwnerClass partitions annotation owners by who may edit them.
type OwnerClass int

const (
	// OwnerClient marks a user-drawn annotation ("client-<id>").
	OwnerClient OwnerClass = iota
	// OwnerStrategy marks an annotation pushed by a subscribed strategy
	// feed ("strategy-<id>").
	OwnerStrategy
	// OwnerInternal marks a marker computed by this client
	// ("internal-<kind>").
	OwnerInternal
	// OwnerUnknown is any owner string outside the known prefixes.
	OwnerUnknown
)

// ClassifyOwner maps an owner string to its class.
func ClassifyOwner(owner string) OwnerClass {
	switch {
	case strings.HasPrefix(owner, "client-"):
		return OwnerClient
	case strings.HasPrefix(owner, "strategy-"):
		return OwnerStrategy
	case strings.HasPrefix(owner, "internal-"):
		return OwnerInternal
	default:
		return OwnerUnknown
	}
}

// ClientOwner builds the owner component for a client identity.
func ClientOwner(clientID string) string { return "client-" + clientID }

// StrategyOwner builds the owner component for a strategy feed.
func StrategyOwner(strategyID string) string { return "strategy-" + strategyID }

// InternalOwner builds the owner component for internally computed markers.
func InternalOwner(kind string) string { return "internal-" + kind }

// ID is the composite annotation identity. Its string form is
// owner/instrument/timeframe/type/unique; IDs are globally unique and
// deterministic from their components.
type ID struct {
	Owner      string
	Instrument string
	Timeframe  domain.Timeframe // a concrete timeframe or domain.TimeframeAll
	Type       domain.AnnotationType
	UniqueID   string
}

// String encodes the ID as its slash-joined composite key.
func (id ID) String() string {
	return strings.Join([]string{
		id.Owner, id.Instrument, string(id.Timeframe), string(id.Type), id.UniqueID,
	}, "/")
}

// All reports whether the annotation is replicated across every active
// timeframe chart.
func (id ID) All() bool { return id.Timeframe == domain.TimeframeAll }

// Validate checks that every component is present and the timeframe is a
// known one or "all".
func (id ID) Validate() error {
	if id.Owner == "" || id.Instrument == "" || id.UniqueID == "" || id.Type == "" {
		return fmt.Errorf("annotation id %q has empty components", id.String())
	}
	if !id.All() && !id.Timeframe.Valid() {
		return fmt.Errorf("annotation id %q has unknown timeframe %q", id.String(), id.Timeframe)
	}
	return nil
}

// ParseID decodes a composite key back into its components.
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 5 {
		return ID{}, fmt.Errorf("annotation id %q: want 5 components, got %d", s, len(parts))
	}
	id := ID{
		Owner:      parts[0],
		Instrument: parts[1],
		Timeframe:  domain.Timeframe(parts[2]),
		Type:       domain.AnnotationType(parts[3]),
		UniqueID:   parts[4],
	}
	if err := id.Validate(); err != nil {
		return ID{}, err
	}
	return id, nil
}

// NewUniqueID returns a fresh uniqueId component.
func NewUniqueID() string { return uuid.NewString() }
