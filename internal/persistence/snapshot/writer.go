package snapshot

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Writer persists snapshots on a background goroutine. Only the newest pending snapshot is kept;
// older ones are dropped when the disk falls behind.
type Writer struct {
	path   string
	logger *log.Logger

	mu     sync.Mutex
	closed bool
	ch     chan StateV1
	done   chan struct{}

	writes   atomic.Uint64
	failures atomic.Uint64
	dropped  atomic.Uint64
	lastNano atomic.Int64
}

func NewWriter(path string, logger *log.Logger) *Writer {
	w := &Writer{
		path:   path,
		logger: logger,
		ch:     make(chan StateV1, 1),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Writer) Path() string { return w.path }

// Persist queues st without blocking. It is a no-op after Close.
func (w *Writer) Persist(st StateV1) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- st:
		return
	default:
	}
	// Replace the stale pending one.
	select {
	case <-w.ch:
		w.dropped.Add(1)
	default:
	}
	select {
	case w.ch <- st:
	default:
		w.dropped.Add(1)
	}
}

// Close writes whatever is still pending and stops the goroutine.
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()
	<-w.done
	return nil
}

type WriterStats struct {
	Writes   uint64
	Failures uint64
	Dropped  uint64
	LastSave time.Time
}

func (w *Writer) Stats() WriterStats {
	s := WriterStats{
		Writes:   w.writes.Load(),
		Failures: w.failures.Load(),
		Dropped:  w.dropped.Load(),
	}
	if n := w.lastNano.Load(); n > 0 {
		s.LastSave = time.Unix(0, n)
	}
	return s
}

func (w *Writer) loop() {
	defer close(w.done)
	for st := range w.ch {
		if st.Header.SavedAt == 0 {
			st.Header.SavedAt = time.Now().Unix()
		}
		if err := WriteState(w.path, st); err != nil {
			w.failures.Add(1)
			if w.logger != nil {
				w.logger.Printf("snapshot write failed: %v", err)
			}
			continue
		}
		w.writes.Add(1)
		w.lastNano.Store(time.Now().UnixNano())
	}
}
