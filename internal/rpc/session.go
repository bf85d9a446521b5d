package rpc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/router-for-me/RichPresence/internal/presence"
	log "github.com/sirupsen/logrus"
)

const (
	readTimeout          = 60 * time.Second
	writeTimeout         = 10 * time.Second
	maxInboundMessageLen = 1 << 20
	heartbeatInterval    = 30 * time.Second
)

var errSessionClosed = errors.New("gateway session closed")

// session is one websocket connection to the gateway. Frames are dispatched to
// the owning client from the read loop; writes are serialised by writeMutex.
type session struct {
	conn       *websocket.Conn
	client     *Client
	closed     chan struct{}
	closeOnce  sync.Once
	writeMutex sync.Mutex
	pending    sync.Map // nonce -> func(error)
}

func newSession(conn *websocket.Conn, client *Client) *session {
	s := &session{
		conn:   conn,
		client: client,
		closed: make(chan struct{}),
	}
	conn.SetReadLimit(maxInboundMessageLen)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	s.startHeartbeat()
	return s
}

func (s *session) startHeartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.closed:
				return
			case <-ticker.C:
				s.writeMutex.Lock()
				err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
				s.writeMutex.Unlock()
				if err != nil {
					s.cleanup(err)
					return
				}
			}
		}
	}()
}

// run reads frames until the connection fails and returns the read error.
func (s *session) run() error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.cleanup(err)
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		f, errParse := parseFrame(data)
		if errParse != nil {
			log.Debugf("rpc: dropping frame: %v", errParse)
			continue
		}
		s.dispatch(f)
	}
}

func (s *session) dispatch(f frame) {
	switch f.Op {
	case OpAck:
		value, ok := s.pending.LoadAndDelete(f.Nonce)
		if !ok {
			log.Debugf("rpc: ack for unknown nonce %s", f.Nonce)
			return
		}
		var err error
		if !f.OK {
			reason := f.Error
			if reason == "" {
				reason = "rejected"
			}
			err = errors.New(reason)
		}
		value.(func(error))(err)
	case OpStatus, OpError:
		s.client.handleStatusFrame(s, f)
	case OpLog:
		s.client.emitLog(f.Message, presence.ParseLogSeverity(f.Severity))
	default:
		log.Debugf("rpc: ignoring frame op %q", f.Op)
	}
}

// send writes a frame and registers onAck under nonce until the server answers.
// onAck is invoked at most once: by the ack, by cleanup, or not at all when send
// returns an error.
func (s *session) send(nonce string, payload []byte, onAck func(error)) error {
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}
	if onAck != nil {
		s.pending.Store(nonce, onAck)
		// cleanup may have drained pending before the store landed.
		select {
		case <-s.closed:
			if s.unregister(nonce) {
				return errSessionClosed
			}
			return nil
		default:
		}
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return s.writeFailed(nonce, onAck, fmt.Errorf("set write deadline: %w", err))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return s.writeFailed(nonce, onAck, fmt.Errorf("write frame: %w", err))
	}
	return nil
}

// unregister removes the pending ack for nonce and reports whether it was still there.
func (s *session) unregister(nonce string) bool {
	_, loaded := s.pending.LoadAndDelete(nonce)
	return loaded
}

// writeFailed returns err unless cleanup already answered onAck.
func (s *session) writeFailed(nonce string, onAck func(error), err error) error {
	if onAck != nil && !s.unregister(nonce) {
		return nil
	}
	return err
}

func (s *session) cleanup(cause error) {
	s.closeOnce.Do(func() {
		if cause == nil {
			cause = errSessionClosed
		}
		close(s.closed)
		s.pending.Range(func(key, value any) bool {
			if _, loaded := s.pending.LoadAndDelete(key); loaded {
				value.(func(error))(fmt.Errorf("%w: %v", errSessionClosed, cause))
			}
			return true
		})
		_ = s.conn.Close()
	})
}

// close sends a normal closure frame and releases the connection.
func (s *session) close() {
	s.writeMutex.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	s.writeMutex.Unlock()
	s.cleanup(errSessionClosed)
}
