// Package session drives one QPACK peer over a relay connection. The
// encoder role compresses header blocks and applies acknowledgements; the
// decoder role decompresses blocks, mirrors table mutations, and emits
// acknowledgements.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"seep/internal/shared/compression/qpack"
	"seep/internal/shared/protocol"
)

// Options configures one session peer.
type Options struct {
	RelayURL       string
	Session        string
	Role           protocol.Role
	MaxCapacity    uint64
	BlockedStreams uint16
	Huffman        bool
	Logger         *zap.Logger
}

// Session is one connected peer.
type Session struct {
	opts   Options
	logger *zap.Logger
	codec  *qpack.Codec

	conn   *websocket.Conn
	writer *protocol.ChunkWriter

	mu           sync.Mutex
	nextStreamID uint64

	closeOnce sync.Once
	closedCh  chan struct{}
}

// wsSink adapts a websocket connection to the chunk writer.
type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) WriteChunk(c *protocol.Chunk) error {
	return s.conn.WriteMessage(websocket.BinaryMessage, c.MarshalBinary())
}

// Dial connects to the relay, joins the session, and waits for the
// counterpart.
func Dial(opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(opts.RelayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", opts.RelayURL, err)
	}

	join, err := protocol.EncodeMessage(&protocol.Message{
		Type:           protocol.TypeJoin,
		Session:        opts.Session,
		Role:           opts.Role,
		MaxCapacity:    opts.MaxCapacity,
		BlockedStreams: opts.BlockedStreams,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join session %s: %w", opts.Session, err)
	}

	// The relay answers with paired once the counterpart is present.
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await pairing: %w", err)
	}
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await pairing: %w", err)
	}
	switch msg.Type {
	case protocol.TypePaired:
	case protocol.TypeError:
		conn.Close()
		return nil, fmt.Errorf("relay rejected join: %s", msg.Error)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected relay message %q", msg.Type)
	}

	s := &Session{
		opts:   opts,
		logger: opts.Logger,
		codec: qpack.New(qpack.Config{
			MaxCapacity:         opts.MaxCapacity,
			BlockedStreamsLimit: opts.BlockedStreams,
			Logger:              opts.Logger,
		}),
		conn:         conn,
		nextStreamID: 0,
		closedCh:     make(chan struct{}),
	}
	s.writer = protocol.NewChunkWriter(wsSink{conn})
	s.writer.OnWriteError(func(err error) {
		s.logger.Warn("relay write failed", zap.Error(err))
		s.Close()
	})
	s.logger.Info("session paired",
		zap.String("session", opts.Session),
		zap.String("role", string(opts.Role)),
	)
	return s, nil
}

// Codec exposes the underlying codec for table inspection.
func (s *Session) Codec() *qpack.Codec { return s.codec }

// Close tears down the connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closedCh)
		s.writer.Close()
		s.conn.Close()
	})
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.closedCh }

// SendHeaders compresses one header list as the encoder role: table
// inserts ride the encoder stream, the field block rides its own stream
// id. Inserts are planned only for the non-sensitive headers that still
// fit the table, taken in order.
func (s *Session) SendHeaders(headers []qpack.Header) (uint64, error) {
	if s.opts.Role != protocol.RoleEncoder {
		return 0, fmt.Errorf("session role %s cannot send headers", s.opts.Role)
	}

	s.mu.Lock()
	s.nextStreamID += 4 // client-initiated bidirectional stream ids
	streamID := s.nextStreamID
	s.mu.Unlock()

	if s.opts.Huffman {
		for i := range headers {
			headers[i].Name.Huffman = true
			headers[i].Value.Huffman = true
		}
	}

	var insertable []qpack.Header
	for _, h := range headers {
		if !h.Sensitive && s.codec.IsInsertable(append(insertable, h)) {
			insertable = append(insertable, h)
		}
	}
	if len(insertable) > 0 {
		var encStream []byte
		commit, err := s.codec.PlanInsertHeaders(&encStream, insertable)
		if err != nil {
			return 0, fmt.Errorf("plan inserts: %w", err)
		}
		if err := s.writer.Write(&protocol.Chunk{Kind: protocol.StreamEncoder, Payload: encStream}); err != nil {
			return 0, err
		}
		if err := commit(); err != nil {
			return 0, fmt.Errorf("commit inserts: %w", err)
		}
	}

	var block []byte
	commit, err := s.codec.PlanHeaders(&block, headers, streamID)
	if err != nil {
		return 0, fmt.Errorf("plan headers: %w", err)
	}
	if err := s.writer.Write(&protocol.Chunk{Kind: protocol.StreamFieldBlock, StreamID: streamID, Payload: block}); err != nil {
		return 0, err
	}
	if err := commit(); err != nil {
		return 0, fmt.Errorf("commit headers: %w", err)
	}
	return streamID, nil
}

// SetCapacity plans and sends a capacity change on the encoder stream.
func (s *Session) SetCapacity(capacity uint64) error {
	var encStream []byte
	commit, err := s.codec.PlanSetCapacity(&encStream, capacity)
	if err != nil {
		return err
	}
	if err := s.writer.Write(&protocol.Chunk{Kind: protocol.StreamEncoder, Payload: encStream}); err != nil {
		return err
	}
	return commit()
}

// Receive runs the decoder role until the connection closes, invoking
// handle for every decoded header list. Acknowledgements are sent on the
// decoder stream as sections complete.
func (s *Session) Receive(handle func(streamID uint64, headers []qpack.Header)) error {
	if s.opts.Role != protocol.RoleDecoder {
		return fmt.Errorf("session role %s cannot receive headers", s.opts.Role)
	}
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closedCh:
				return nil
			default:
				return fmt.Errorf("read relay: %w", err)
			}
		}
		var chunk protocol.Chunk
		if err := chunk.UnmarshalBinary(data); err != nil {
			s.logger.Warn("dropping malformed chunk", zap.Error(err))
			continue
		}
		if err := s.handleChunk(&chunk, handle); err != nil {
			return err
		}
	}
}

func (s *Session) handleChunk(chunk *protocol.Chunk, handle func(uint64, []qpack.Header)) error {
	switch chunk.Kind {
	case protocol.StreamEncoder:
		commit, err := s.codec.DecodeEncoderStream(chunk.Payload)
		if err != nil {
			return fmt.Errorf("decode encoder stream: %w", err)
		}
		if err := commit(); err != nil {
			return fmt.Errorf("apply encoder stream: %w", err)
		}
	case protocol.StreamFieldBlock:
		headers, refDynamic, err := s.codec.DecodeHeaders(chunk.Payload, chunk.StreamID)
		if err != nil {
			return fmt.Errorf("decode field block on stream %d: %w", chunk.StreamID, err)
		}
		if refDynamic {
			var decStream []byte
			commit, err := s.codec.PlanSectionAck(&decStream, chunk.StreamID)
			if err != nil {
				return fmt.Errorf("plan section ack: %w", err)
			}
			if err := s.writer.Write(&protocol.Chunk{Kind: protocol.StreamDecoder, Payload: decStream}); err != nil {
				return err
			}
			if err := commit(); err != nil {
				return fmt.Errorf("commit section ack: %w", err)
			}
		}
		if handle != nil {
			handle(chunk.StreamID, headers)
		}
	case protocol.StreamDecoder:
		commit, err := s.codec.DecodeDecoderStream(chunk.Payload)
		if err != nil {
			return fmt.Errorf("decode decoder stream: %w", err)
		}
		if err := commit(); err != nil {
			return fmt.Errorf("apply decoder stream: %w", err)
		}
	}
	return nil
}

// AckLoop runs on the encoder side, applying decoder-stream chunks coming
// back from the peer until the connection closes.
func (s *Session) AckLoop() error {
	if s.opts.Role != protocol.RoleEncoder {
		return fmt.Errorf("session role %s has no ack loop", s.opts.Role)
	}
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closedCh:
				return nil
			default:
				return fmt.Errorf("read relay: %w", err)
			}
		}
		var chunk protocol.Chunk
		if err := chunk.UnmarshalBinary(data); err != nil {
			s.logger.Warn("dropping malformed chunk", zap.Error(err))
			continue
		}
		if chunk.Kind != protocol.StreamDecoder {
			continue
		}
		commit, err := s.codec.DecodeDecoderStream(chunk.Payload)
		if err != nil {
			return fmt.Errorf("decode decoder stream: %w", err)
		}
		if err := commit(); err != nil {
			return fmt.Errorf("apply decoder stream: %w", err)
		}
	}
}
