// Package candles holds in-memory candle state per (symbol, timeframe) and
// detects candle closures as newer candles arrive.
package candles

import (
	"sort"
	"sync"

	"charthub/internal/domain"
)

// Key identifies one candle stream.
type Key struct {
	Symbol    string
	Timeframe domain.Timeframe
}

// Series is a sorted in-memory candle store for a single (symbol, timeframe)
// pair. The newest candle may be updated in place while it is still open;
// older candles are immutable. Safe for concurrent use.
type Series struct {
	mu      sync.RWMutex
	candles []domain.Candle
	byTS    map[int64]int // timestamp -> index
}

// NewSeries creates an empty Series.
func NewSeries() *Series {
	return &Series{byTS: make(map[int64]int)}
}

// Upsert inserts a candle or, when a candle with the same timestamp already
// exists, replaces it in place. Returns true when the candle was new.
func (s *Series) Upsert(c domain.Candle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.byTS[c.Timestamp]; ok {
		s.candles[i] = c
		return false
	}

	// Common case: strictly newer than everything stored — append.
	n := len(s.candles)
	if n == 0 || c.Timestamp > s.candles[n-1].Timestamp {
		s.byTS[c.Timestamp] = n
		s.candles = append(s.candles, c)
		return true
	}

	// Out-of-order backfill: insert at the right position and reindex the
	// tail.
	i := sort.Search(n, func(j int) bool { return s.candles[j].Timestamp > c.Timestamp })
	s.candles = append(s.candles, domain.Candle{})
	copy(s.candles[i+1:], s.candles[i:])
	s.candles[i] = c
	for j := i; j < len(s.candles); j++ {
		s.byTS[s.candles[j].Timestamp] = j
	}
	return true
}

// UpsertBatch inserts many candles (backfill flush). Returns the count of
// new candles.
func (s *Series) UpsertBatch(cs []domain.Candle) int {
	added := 0
	for _, c := range cs {
		if s.Upsert(c) {
			added++
		}
	}
	return added
}

// Has reports whether a candle with the given timestamp is present.
func (s *Series) Has(ts int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byTS[ts]
	return ok
}

// Last returns the newest candle, or false when the series is empty.
func (s *Series) Last() (domain.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return domain.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Len returns the number of stored candles.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// All returns a copy of the stored candles in timestamp order.
func (s *Series) All() []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Range returns a copy of candles with start <= timestamp < end.
func (s *Series) Range(start, end int64) []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := sort.Search(len(s.candles), func(i int) bool { return s.candles[i].Timestamp >= start })
	hi := sort.Search(len(s.candles), func(i int) bool { return s.candles[i].Timestamp >= end })
	out := make([]domain.Candle, hi-lo)
	copy(out, s.candles[lo:hi])
	return out
}

// Store is the set of Series for all active (symbol, timeframe) pairs.
type Store struct {
	mu     sync.RWMutex
	series map[Key]*Series
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{series: make(map[Key]*Series)}
}

// Series returns the Series for key, creating it on first use.
func (st *Store) Series(key Key) *Series {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.series[key]
	if !ok {
		s = NewSeries()
		st.series[key] = s
	}
	return s
}

// Get returns the Series for key without creating it.
func (st *Store) Get(key Key) (*Series, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.series[key]
	return s, ok
}

// Keys returns all keys with at least one candle.
func (st *Store) Keys() []Key {
	st.mu.RLock()
	defer st.mu.RUnlock()
	keys := make([]Key, 0, len(st.series))
	for k, s := range st.series {
		if s.Len() > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// Reset drops all series, used when the connection is torn down.
func (st *Store) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.series = make(map[Key]*Series)
}
