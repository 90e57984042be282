// Package relay pairs an encoder peer with a decoder peer and forwards
// QPACK chunks between them over websockets. It is a test and operations
// harness: the relay never inspects chunk payloads, it only preserves
// per-connection ordering, which is all QPACK requires of a transport.
package relay

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"seep/internal/shared/protocol"
	"seep/internal/shared/recovery"
)

// Server accepts websocket peers and relays chunks within each session.
type Server struct {
	address   string
	hostnames []string
	cacheDir  string
	logger    *zap.Logger
	recoverer *recovery.Recoverer

	upgrader   websocket.Upgrader
	httpServer *http.Server

	mu       sync.Mutex
	sessions map[string]*session
	stopped  bool
}

type session struct {
	name    string
	mu      sync.Mutex
	peers   map[protocol.Role]*websocket.Conn
	created time.Time
}

// NewServer builds a relay listening on address. When hostnames is
// non-empty the listener terminates TLS with autocert certificates cached
// under cacheDir.
func NewServer(address string, hostnames []string, cacheDir string, logger *zap.Logger) *Server {
	metrics := recovery.NewPanicMetrics(logger)
	return &Server{
		address:   address,
		hostnames: hostnames,
		cacheDir:  cacheDir,
		logger:    logger,
		recoverer: recovery.NewRecoverer(logger, metrics),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// The relay is session-addressed, not origin-addressed.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

// Handler returns the HTTP handler serving /relay and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/relay", s.handleWebsocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Start runs the listener until Stop. It blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if len(s.hostnames) > 0 {
		manager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.hostnames...),
		}
		if s.cacheDir != "" {
			manager.Cache = autocert.DirCache(s.cacheDir)
		}
		s.httpServer.TLSConfig = &tls.Config{
			GetCertificate: manager.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}
		s.logger.Info("relay listening with autocert",
			zap.String("address", s.address),
			zap.Strings("hostnames", s.hostnames),
		)
		err := s.httpServer.ListenAndServeTLS("", "")
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}

	s.logger.Info("relay listening", zap.String("address", s.address))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes the listener and every connected peer.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopped = true
	for _, sess := range s.sessions {
		sess.mu.Lock()
		for _, conn := range sess.peers {
			conn.Close()
		}
		sess.mu.Unlock()
	}
	s.mu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.recoverer.SafeGo("relay-peer", func() {
		s.servePeer(conn)
	})
}

// servePeer reads the join handshake, registers the peer, and forwards
// every subsequent message to its counterpart.
func (s *Server) servePeer(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		s.logger.Warn("peer vanished before joining", zap.Error(err))
		return
	}
	msg, err := protocol.DecodeMessage(data)
	if err != nil || msg.Type != protocol.TypeJoin || msg.Session == "" {
		s.rejectPeer(conn, "first message must join a session")
		return
	}
	if msg.Role != protocol.RoleEncoder && msg.Role != protocol.RoleDecoder {
		s.rejectPeer(conn, fmt.Sprintf("unknown role %q", msg.Role))
		return
	}
	conn.SetReadDeadline(time.Time{})

	sess, other, err := s.join(msg.Session, msg.Role, conn)
	if err != nil {
		s.rejectPeer(conn, err.Error())
		return
	}
	s.logger.Info("peer joined",
		zap.String("session", msg.Session),
		zap.String("role", string(msg.Role)),
	)

	if other != nil {
		s.notifyPaired(sess)
	}

	defer s.leave(sess, msg.Role)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("peer disconnected",
				zap.String("session", sess.name),
				zap.String("role", string(msg.Role)),
				zap.Error(err),
			)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		counterpart := sess.counterpart(msg.Role)
		if counterpart == nil {
			// Counterpart not present; QPACK streams are ordered, so
			// dropping instead of buffering would corrupt the session.
			s.rejectPeer(conn, "counterpart left the session")
			return
		}
		if err := counterpart.WriteMessage(websocket.BinaryMessage, data); err != nil {
			s.logger.Warn("relay write failed",
				zap.String("session", sess.name),
				zap.Error(err),
			)
			return
		}
	}
}

func (s *Server) join(name string, role protocol.Role, conn *websocket.Conn) (*session, *websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, nil, fmt.Errorf("relay shutting down")
	}
	sess, ok := s.sessions[name]
	if !ok {
		sess = &session{
			name:    name,
			peers:   make(map[protocol.Role]*websocket.Conn),
			created: time.Now(),
		}
		s.sessions[name] = sess
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, taken := sess.peers[role]; taken {
		return nil, nil, fmt.Errorf("role %s already taken in session %s", role, name)
	}
	sess.peers[role] = conn
	return sess, sess.peers[otherRole(role)], nil
}

func (s *Server) leave(sess *session, role protocol.Role) {
	sess.mu.Lock()
	delete(sess.peers, role)
	empty := len(sess.peers) == 0
	sess.mu.Unlock()
	if empty {
		s.mu.Lock()
		delete(s.sessions, sess.name)
		s.mu.Unlock()
		s.logger.Info("session closed", zap.String("session", sess.name))
	}
}

func (s *Server) notifyPaired(sess *session) {
	data, err := protocol.EncodeMessage(&protocol.Message{
		Type:    protocol.TypePaired,
		Session: sess.name,
	})
	if err != nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for role, conn := range sess.peers {
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			s.logger.Warn("paired notification failed",
				zap.String("session", sess.name),
				zap.String("role", string(role)),
				zap.Error(err),
			)
		}
	}
}

func (s *Server) rejectPeer(conn *websocket.Conn, reason string) {
	data, err := protocol.EncodeMessage(&protocol.Message{
		Type:  protocol.TypeError,
		Error: reason,
	})
	if err == nil {
		conn.WriteMessage(websocket.BinaryMessage, data)
	}
	conn.Close()
}

func (sess *session) counterpart(role protocol.Role) *websocket.Conn {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.peers[otherRole(role)]
}

func otherRole(role protocol.Role) protocol.Role {
	if role == protocol.RoleEncoder {
		return protocol.RoleDecoder
	}
	return protocol.RoleEncoder
}
