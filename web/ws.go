package web

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"maintlink/plcman"
	"maintlink/status"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 5 * time.Second

// DetailMessage is one frame sent to a detail window.
type DetailMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// detailWindow is a secondary display surface backed by one websocket. It
// stays registered with the hub until the socket closes.
type detailWindow struct {
	conn      *websocket.Conn
	send      chan DetailMessage
	done      chan struct{}
	alive     atomic.Bool
	closeOnce sync.Once
}

func newDetailWindow(conn *websocket.Conn) *detailWindow {
	w := &detailWindow{
		conn: conn,
		send: make(chan DetailMessage, 64),
		done: make(chan struct{}),
	}
	w.alive.Store(true)
	return w
}

func (w *detailWindow) Alive() bool { return w.alive.Load() }

func (w *detailWindow) OnSnapshot(snap status.Snapshot) {
	w.enqueue(DetailMessage{Type: eventSnapshot, Data: snap})
}

func (w *detailWindow) OnStatus(label string) {
	w.enqueue(DetailMessage{Type: eventStatus, Data: statusPayload{Label: label}})
}

func (w *detailWindow) OnStats(update status.StatsUpdate) {
	w.enqueue(DetailMessage{Type: eventStats, Data: update})
}

// enqueue never blocks the publisher; a window that cannot keep up misses
// frames.
func (w *detailWindow) enqueue(m DetailMessage) {
	select {
	case <-w.done:
	case w.send <- m:
	default:
	}
}

func (w *detailWindow) close() {
	w.closeOnce.Do(func() {
		w.alive.Store(false)
		close(w.done)
		w.conn.Close()
	})
}

// writePump pumps frames from the hub to the websocket connection.
func (w *detailWindow) writePump() {
	defer w.close()
	for {
		select {
		case <-w.done:
			return
		case m := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteJSON(m); err != nil {
				return
			}
		}
	}
}

// readPump handles commands from the window until the socket closes.
func (s *Server) readPump(w *detailWindow) {
	defer w.close()
	for {
		var cmd plcman.Command
		if err := w.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("detail window read failed", zap.Error(err))
			}
			return
		}
		if err := plcman.Execute(s.ctl, cmd, s.validOutput); err != nil {
			s.log.Debug("detail window command rejected", zap.Error(err))
		}
	}
}

// handleDetail serves GET /ws/detail. Each connection opens a secondary
// window that first receives the latest status, snapshot and stats.
func (s *Server) handleDetail(rw http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(rw, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	w := newDetailWindow(conn)
	s.winMu.Lock()
	s.windows[w] = struct{}{}
	s.winMu.Unlock()

	id := s.ctl.OpenSecondaryWindow(w)
	s.log.Info("detail window opened", zap.String("remote", r.RemoteAddr))

	go w.writePump()
	go func() {
		s.readPump(w)
		s.ctl.CloseWindow(id)
		s.winMu.Lock()
		delete(s.windows, w)
		s.winMu.Unlock()
		s.log.Info("detail window closed", zap.String("remote", r.RemoteAddr))
	}()
}
