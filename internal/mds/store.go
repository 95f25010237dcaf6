// Package mds is the in-memory Market Data Store: a capped-size cache of
// ticks, L1 quotes, L2 books and the latest bar per timeframe, fed by the
// Ingestor and read by every downstream component. Entries do not expire;
// each carries its write time, and readers judge freshness through
// L1Age/L2Age. It is not the durable store, see internal/store for that.
package mds

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/cryptocore/pkg/types"
)

const (
	maxTicksPerSymbol = 1000
	maxL2Depth        = 20
)

type l1Entry struct {
	quote types.L1Quote
	at    time.Time
}

type l2Entry struct {
	book types.L2Book
	at   time.Time
}

type barEntry struct {
	bar types.Bar
	at  time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	ticks  map[string][]types.Tick
	l1     map[string]l1Entry
	l2     map[string]l2Entry
	bars   map[string]map[types.Frame]barEntry
	logger *zap.Logger
}

// New creates an empty Store.
func New(logger *zap.Logger) *Store {
	return &Store{
		ticks:  make(map[string][]types.Tick),
		l1:     make(map[string]l1Entry),
		l2:     make(map[string]l2Entry),
		bars:   make(map[string]map[types.Frame]barEntry),
		logger: logger.Named("mds"),
	}
}

// PutTick appends a tick, trimming the per-symbol ring to maxTicksPerSymbol.
func (s *Store) PutTick(t types.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := append(s.ticks[t.Symbol], t)
	if len(buf) > maxTicksPerSymbol {
		buf = buf[len(buf)-maxTicksPerSymbol:]
	}
	s.ticks[t.Symbol] = buf
}

// RecentTicks returns up to n of the most recent ticks for symbol, oldest first.
func (s *Store) RecentTicks(symbol string, n int) []types.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.ticks[symbol]
	if n <= 0 || n > len(buf) {
		n = len(buf)
	}
	out := make([]types.Tick, n)
	copy(out, buf[len(buf)-n:])
	return out
}

// PutL1 stores the latest top-of-book quote, timestamped at ingest time.
func (s *Store) PutL1(q types.L1Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l1[q.Symbol] = l1Entry{quote: q, at: q.IngestTS}
}

// L1 returns the latest quote for symbol, if any.
func (s *Store) L1(symbol string) (types.L1Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.l1[symbol]
	return e.quote, ok
}

// L1Age returns how long ago symbol's L1 quote was ingested.
func (s *Store) L1Age(symbol string, now time.Time) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.l1[symbol]
	if !ok {
		return 0, false
	}
	return now.Sub(e.at), true
}

// PutL2 stores a depth-capped book snapshot.
func (s *Store) PutL2(book types.L2Book) {
	if len(book.Bids) > maxL2Depth {
		book.Bids = book.Bids[:maxL2Depth]
	}
	if len(book.Asks) > maxL2Depth {
		book.Asks = book.Asks[:maxL2Depth]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l2[book.Symbol] = l2Entry{book: book, at: book.IngestTS}
}

// L2 returns the latest book for symbol, if any.
func (s *Store) L2(symbol string) (types.L2Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.l2[symbol]
	return e.book, ok
}

// L2Age returns how long ago symbol's L2 book was ingested.
func (s *Store) L2Age(symbol string, now time.Time) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.l2[symbol]
	if !ok {
		return 0, false
	}
	return now.Sub(e.at), true
}

// PutBar stores the latest bar for (symbol, frame); older bars of the same
// frame are not retained here (older 1m and 1h bars live in the durable store).
func (s *Store) PutBar(b types.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bars[b.Symbol] == nil {
		s.bars[b.Symbol] = make(map[types.Frame]barEntry)
	}
	s.bars[b.Symbol][b.Frame] = barEntry{bar: b, at: time.Now()}
}

// Bar returns the latest bar for (symbol, frame), if any.
func (s *Store) Bar(symbol string, frame types.Frame) (types.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.bars[symbol][frame]
	return e.bar, ok
}

// Symbols returns every symbol the store has seen an L1 quote for.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.l1))
	for sym := range s.l1 {
		out = append(out, sym)
	}
	return out
}
