package protocol

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Sink receives marshalled chunks, typically a websocket connection.
type Sink interface {
	WriteChunk(*Chunk) error
}

// ChunkWriter serializes chunk writes onto a single sink from many
// goroutines. Delivery is strictly first-in first-out: QPACK requires that
// encoder-stream bytes reach the peer in the order they were produced, and
// a field block must never overtake the inserts it depends on.
type ChunkWriter struct {
	sink  Sink
	queue chan *Chunk
	done  chan struct{}

	mu     sync.Mutex
	closed bool

	writeErr     error
	errOnce      sync.Once
	onWriteError func(error)

	queuedChunks atomic.Int64
	queuedBytes  atomic.Int64
}

// NewChunkWriter starts the write loop. The writer owns the sink until
// Close.
func NewChunkWriter(sink Sink) *ChunkWriter {
	return NewChunkWriterWithConfig(sink, 1024)
}

func NewChunkWriterWithConfig(sink Sink, queueSize int) *ChunkWriter {
	w := &ChunkWriter{
		sink:  sink,
		queue: make(chan *Chunk, queueSize),
		done:  make(chan struct{}),
	}
	go w.writeLoop()
	return w
}

// OnWriteError registers a callback invoked once on the first write
// failure.
func (w *ChunkWriter) OnWriteError(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onWriteError = fn
}

func (w *ChunkWriter) writeLoop() {
	for {
		select {
		case c := <-w.queue:
			w.flush(c)
		case <-w.done:
			// Drain whatever was accepted before the close.
			for {
				select {
				case c := <-w.queue:
					w.flush(c)
				default:
					return
				}
			}
		}
	}
}

func (w *ChunkWriter) flush(c *Chunk) {
	if c == nil {
		return
	}
	if err := w.sink.WriteChunk(c); err != nil {
		w.errOnce.Do(func() {
			w.mu.Lock()
			w.writeErr = err
			w.closed = true
			fn := w.onWriteError
			w.mu.Unlock()
			if fn != nil {
				go fn(err)
			}
		})
	}
	w.queuedChunks.Add(-1)
	w.queuedBytes.Add(-int64(c.Size()))
}

// Write enqueues a chunk behind everything already queued.
func (w *ChunkWriter) Write(c *Chunk) error {
	if c == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		err := w.writeErr
		w.mu.Unlock()
		if err != nil {
			return err
		}
		return errors.New("chunk writer closed")
	}
	w.mu.Unlock()

	w.queuedChunks.Add(1)
	w.queuedBytes.Add(int64(c.Size()))

	select {
	case w.queue <- c:
		return nil
	case <-w.done:
		w.queuedChunks.Add(-1)
		w.queuedBytes.Add(-int64(c.Size()))
		return errors.New("chunk writer closed")
	}
}

// Backlog reports queued chunks and bytes not yet handed to the sink.
func (w *ChunkWriter) Backlog() (chunks, bytes int64) {
	return w.queuedChunks.Load(), w.queuedBytes.Load()
}

// Close stops the write loop after draining queued chunks.
func (w *ChunkWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.done)
}
