package animator

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/confdex/assistant-client/internal/logger"
)

var (
	// ErrNotStreaming is returned by Feed when no stream is active.
	// Callers must Start before feeding text.
	ErrNotStreaming = errors.New("animator: feed without active stream")

	// ErrAlreadyStreaming is returned by Start while a stream is active.
	ErrAlreadyStreaming = errors.New("animator: stream already active")
)

// Sink receives paced text chunks for a stream.
type Sink func(streamID, text string)

// DoneFunc is invoked once all fed text has been delivered after
// Complete.
type DoneFunc func(streamID string)

// Animator re-chunks bursty response text into fixed-size pieces
// released at a fixed interval, so large upstream chunks do not
// teleport into the presentation. All fed text is eventually flushed
// even if Complete arrives before the internal queue drains; Cancel
// discards undelivered text immediately.
//
// State machine: idle -> streaming(id) -> idle. Feed while idle is an
// error.
type Animator struct {
	interval  time.Duration
	chunkSize int
	sink      Sink
	onDone    DoneFunc
	log       *logger.Logger

	mu         sync.Mutex
	streaming  bool
	streamID   string
	queue      []rune
	completing bool
	generation int // invalidates the ticker goroutine of a cancelled run
}

// New creates an animator delivering chunkSize runes to sink every
// interval. onDone may be nil.
func New(interval time.Duration, chunkSize int, sink Sink, onDone DoneFunc, log *logger.Logger) *Animator {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if interval <= 0 {
		interval = 30 * time.Millisecond
	}
	return &Animator{
		interval:  interval,
		chunkSize: chunkSize,
		sink:      sink,
		onDone:    onDone,
		log:       log.WithComponent("animator"),
	}
}

// Start begins animating a new stream.
func (a *Animator) Start(streamID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.streaming {
		return ErrAlreadyStreaming
	}

	a.streaming = true
	a.streamID = streamID
	a.queue = a.queue[:0]
	a.completing = false
	a.generation++

	go a.run(a.generation)
	return nil
}

// Feed appends text to the delivery queue.
func (a *Animator) Feed(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.streaming || a.completing {
		return ErrNotStreaming
	}

	a.queue = append(a.queue, []rune(text)...)
	return nil
}

// Complete marks the stream finished. Delivery continues at pace until
// the queue drains, then the done callback fires.
func (a *Animator) Complete() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.streaming {
		return
	}
	a.completing = true
}

// Cancel discards any undelivered text and stops immediately. Used on
// disconnects and interrupts.
func (a *Animator) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.streaming {
		return
	}

	a.log.Debug("animation cancelled",
		slog.String("stream_id", a.streamID),
		slog.Int("discarded_runes", len(a.queue)))

	a.queue = nil
	a.streaming = false
	a.streamID = ""
	a.completing = false
	a.generation++ // orphan the running goroutine
}

// Streaming reports whether a stream is currently active, and its id.
func (a *Animator) Streaming() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streamID, a.streaming
}

// run is the ticker loop for one stream generation. It exits when the
// generation is invalidated (Cancel or a later Start) or when the
// queue drains after Complete.
func (a *Animator) run(generation int) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for range ticker.C {
		a.mu.Lock()
		if a.generation != generation {
			a.mu.Unlock()
			return
		}

		if len(a.queue) > 0 {
			n := a.chunkSize
			if n > len(a.queue) {
				n = len(a.queue)
			}
			chunk := string(a.queue[:n])
			a.queue = a.queue[n:]
			streamID := a.streamID
			a.mu.Unlock()

			a.sink(streamID, chunk)
			continue
		}

		if a.completing {
			streamID := a.streamID
			a.streaming = false
			a.streamID = ""
			a.completing = false
			a.generation++
			a.mu.Unlock()

			if a.onDone != nil {
				a.onDone(streamID)
			}
			return
		}

		a.mu.Unlock()
	}
}
