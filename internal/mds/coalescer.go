package mds

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/cryptocore/pkg/types"
)

// l2WriterConcurrency bounds how many coalesced L2 flushes may be in
// flight at once.
const l2WriterConcurrency = 4

// CoalescingL2Writer collapses bursts of book updates for the same symbol
// into a single write: if a second update for a symbol arrives while a
// flush is already scheduled, it simply replaces the pending snapshot
// instead of queuing another flush.
type CoalescingL2Writer struct {
	store         *Store
	sem           chan struct{}
	mu            sync.Mutex
	pending       map[string]types.L2Book
	scheduled     map[string]bool
	flushInterval time.Duration
	logger        *zap.Logger
}

// NewCoalescingL2Writer builds a writer flushing at most every interval
// per symbol, committed through store.
func NewCoalescingL2Writer(store *Store, logger *zap.Logger, interval time.Duration) *CoalescingL2Writer {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &CoalescingL2Writer{
		store:         store,
		sem:           make(chan struct{}, l2WriterConcurrency),
		pending:       make(map[string]types.L2Book),
		scheduled:     make(map[string]bool),
		flushInterval: interval,
		logger:        logger.Named("mds-l2-writer"),
	}
}

// Submit queues book for coalesced write-through.
func (w *CoalescingL2Writer) Submit(book types.L2Book) {
	w.mu.Lock()
	w.pending[book.Symbol] = book
	alreadyScheduled := w.scheduled[book.Symbol]
	w.scheduled[book.Symbol] = true
	w.mu.Unlock()

	if alreadyScheduled {
		return
	}
	go w.flushAfterDelay(book.Symbol)
}

func (w *CoalescingL2Writer) flushAfterDelay(symbol string) {
	time.Sleep(w.flushInterval)

	w.sem <- struct{}{}
	defer func() { <-w.sem }()

	w.mu.Lock()
	book, ok := w.pending[symbol]
	delete(w.pending, symbol)
	delete(w.scheduled, symbol)
	w.mu.Unlock()

	if !ok {
		return
	}
	w.store.PutL2(book)
}
