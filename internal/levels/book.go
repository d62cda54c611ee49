package levels

import (
	"sync"

	"charthub/internal/domain"
)

// Book holds the single current value per level kind for one instrument.
// Levels are overwritten on recompute and cleared when a new trading
// session 0 appears.
type Book struct {
	mu           sync.RWMutex
	levels       map[domain.LevelKind]domain.PriceLevel
	session0Base int64 // StartTime of the session the book was built against
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{levels: make(map[domain.LevelKind]domain.PriceLevel)}
}

// Roll informs the book of the current session-0 start time. When it
// changes, every level is cleared: a level must never be stale by more than
// one session boundary.
func (b *Book) Roll(session0Start int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session0Base != session0Start {
		b.levels = make(map[domain.LevelKind]domain.PriceLevel)
		b.session0Base = session0Start
	}
}

// Set stores the current value for a level kind.
func (b *Book) Set(l domain.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.levels[l.Kind] = l
}

// Get returns the current level for a kind, if any.
func (b *Book) Get(kind domain.LevelKind) (domain.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.levels[kind]
	return l, ok
}

// All returns a copy of every current level.
func (b *Book) All() []domain.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.PriceLevel, 0, len(b.levels))
	for _, l := range b.levels {
		out = append(out, l)
	}
	return out
}
