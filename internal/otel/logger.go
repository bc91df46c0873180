package otel

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// writerChanSize bounds the queue between Emit and the writer goroutine.
// Emit never blocks: once the queue is full, events are counted as
// dropped until the writer catches up.
const writerChanSize = 4096

// queued pairs the serialized line with the stamped event so the writer
// goroutine can feed both the io.Writer and the ring buffer without
// marshalling twice. The ring copy keeps fields the JSON form loses,
// such as Dur.
type queued struct {
	line []byte
	ev   Event
}

// Logger serializes Events as JSONL and hands them to a single writer
// goroutine, which is the only reader of the queue and the only writer
// to out. All methods are safe for concurrent use. A zero Dropped count
// after Close means every emitted event reached the writer.
type Logger struct {
	session string
	queue   chan queued
	out     io.Writer

	// ringMu guards only the ring pointer. The writer goroutine releases
	// it before calling Push, so the two locks never nest.
	ringMu sync.Mutex
	ring   *RingBuffer

	dropped atomic.Uint64
	closing atomic.Bool
	once    sync.Once
	flushed chan struct{}
}

// NewLogger starts a logger writing JSONL lines to w. Every event
// carries a per-run session ID so lines from successive runs can be
// told apart in a shared log file.
func NewLogger(w io.Writer) *Logger {
	var seed [8]byte
	rand.Read(seed[:])
	l := &Logger{
		session: hex.EncodeToString(seed[:]),
		queue:   make(chan queued, writerChanSize),
		out:     w,
		flushed: make(chan struct{}),
	}
	go l.writeLoop()
	return l
}

// NewNullLogger returns a logger that discards all output, for callers
// that need a non-nil *Logger without an event log file. Close still
// stops the writer goroutine.
func NewNullLogger() *Logger {
	return NewLogger(io.Discard)
}

func (l *Logger) writeLoop() {
	defer close(l.flushed)
	for q := range l.queue {
		if _, err := l.out.Write(q.line); err != nil {
			l.dropped.Add(1)
		}
		l.ringMu.Lock()
		rb := l.ring
		l.ringMu.Unlock()
		if rb != nil {
			rb.Push(q.ev)
		}
	}
}

// Emit queues ev for writing. A zero Time is stamped with time.Now and
// the session ID is always filled in. Never blocks: with a full queue
// or a closed logger the event is dropped and counted instead.
func (l *Logger) Emit(ev Event) {
	defer func() {
		// Emit racing Close can send on a closed channel.
		if recover() != nil {
			l.dropped.Add(1)
		}
	}()
	if l.closing.Load() {
		l.dropped.Add(1)
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	ev.SessionID = l.session
	line, err := json.Marshal(ev)
	if err != nil {
		l.dropped.Add(1)
		return
	}
	select {
	case l.queue <- queued{line: append(line, '\n'), ev: ev}:
	default:
		l.dropped.Add(1)
	}
}

// Info emits an info-level event with a free-text message.
func (l *Logger) Info(kind EventKind, comp, msg string) {
	l.Emit(Event{Kind: kind, Level: LevelInfo, Comp: comp, Msg: msg})
}

// Warn emits a warn-level event with a free-text message.
func (l *Logger) Warn(kind EventKind, comp, msg string) {
	l.Emit(Event{Kind: kind, Level: LevelWarn, Comp: comp, Msg: msg})
}

// Error emits an error-level event. A nil err leaves the err field empty.
func (l *Logger) Error(kind EventKind, comp string, err error) {
	ev := Event{Kind: kind, Level: LevelError, Comp: comp}
	if err != nil {
		ev.Err = err.Error()
	}
	l.Emit(ev)
}

// SetRingBuffer attaches rb so the writer goroutine mirrors every event
// into it. Pass nil to detach.
func (l *Logger) SetRingBuffer(rb *RingBuffer) {
	l.ringMu.Lock()
	l.ring = rb
	l.ringMu.Unlock()
}

// Dropped reports how many events were lost to a full queue, a failed
// write, a marshal error, or emission after Close.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close drains the queue, stops the writer goroutine, and reports any
// drops to stderr. Safe to call more than once, and safe against
// concurrent Emit calls, which are dropped rather than panicking.
func (l *Logger) Close() {
	l.once.Do(func() {
		l.closing.Store(true)
		close(l.queue)
		<-l.flushed
		if n := l.dropped.Load(); n > 0 {
			fmt.Fprintf(os.Stderr, "citysense: dropped %d events (session %s)\n", n, l.session)
		}
	})
}
