package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"widget-studio/internal/editor"
)

var errSurfaceClosed = errors.New("preview surface closed")

// previewFrame is sent to a browser harness. A reload frame remounts the
// widget for a new generation; a data frame only refreshes its init data.
type previewFrame struct {
	Type       string          `json:"type"`
	Generation uint64          `json:"generation,omitempty"`
	Widget     json.RawMessage `json:"widget"`
}

// RemoteSurface is a preview surface rendered by browser harnesses
// connected over /ws/preview/{id}. Every connected harness gets the latest
// state; their messages go to the session inbox.
type RemoteSurface struct {
	inbox  *editor.Inbox
	logger *slog.Logger

	mu     sync.Mutex
	data   []byte
	gen    uint64
	conns  map[*previewConn]struct{}
	closed bool
}

type previewConn struct {
	conn    *websocket.Conn
	kick    chan struct{}
	sentGen uint64
	cancel  context.CancelFunc
}

func newRemoteSurface(inbox *editor.Inbox, logger *slog.Logger) *RemoteSurface {
	return &RemoteSurface{
		inbox:  inbox,
		logger: logger.With("component", "remote_preview"),
		conns:  make(map[*previewConn]struct{}),
	}
}

func (rs *RemoteSurface) SetInitData(data []byte) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return errSurfaceClosed
	}
	rs.data = append([]byte(nil), data...)
	rs.kickLocked()
	return nil
}

func (rs *RemoteSurface) Reload(generation uint64) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return errSurfaceClosed
	}
	rs.gen = generation
	rs.kickLocked()
	return nil
}

// Connections returns the number of connected harnesses.
func (rs *RemoteSurface) Connections() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.conns)
}

// Close disconnects every harness.
func (rs *RemoteSurface) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return nil
	}
	rs.closed = true
	for pc := range rs.conns {
		pc.cancel()
		delete(rs.conns, pc)
	}
	return nil
}

func (rs *RemoteSurface) kickLocked() {
	for pc := range rs.conns {
		select {
		case pc.kick <- struct{}{}:
		default:
		}
	}
}

// serve runs one harness connection until it drops or the surface closes.
func (rs *RemoteSurface) serve(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	conn.SetReadLimit(1 << 16)

	pc := &previewConn{conn: conn, kick: make(chan struct{}, 1), cancel: cancel}
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "session closed")
		return
	}
	rs.conns[pc] = struct{}{}
	pc.kick <- struct{}{}
	total := len(rs.conns)
	rs.mu.Unlock()
	rs.logger.Debug("preview harness connected", "total", total)

	go rs.writePump(ctx, pc)
	rs.readPump(ctx, pc)

	rs.mu.Lock()
	delete(rs.conns, pc)
	rs.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
	rs.logger.Debug("preview harness disconnected")
}

func (rs *RemoteSurface) writePump(ctx context.Context, pc *previewConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-pc.kick:
		}

		rs.mu.Lock()
		data, gen := rs.data, rs.gen
		rs.mu.Unlock()
		if data == nil {
			continue
		}

		frame := previewFrame{Type: "data", Widget: data}
		if gen != pc.sentGen {
			frame = previewFrame{Type: "reload", Generation: gen, Widget: data}
		}
		msg, err := json.Marshal(frame)
		if err != nil {
			rs.logger.Error("encode preview frame", "err", err)
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = pc.conn.Write(wctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			pc.cancel()
			return
		}
		pc.sentGen = gen
	}
}

func (rs *RemoteSurface) readPump(ctx context.Context, pc *previewConn) {
	for {
		typ, data, err := pc.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		rs.inbox.Post(harnessMessage(data))
	}
}

// harnessMessage drops source positions from exceptions raised in the
// harness. They point into the rendered template document, not the
// controller script, so no marker may be placed for them.
func harnessMessage(data []byte) string {
	var env editor.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != editor.MsgWidgetException || len(env.Data) == 0 {
		return string(data)
	}
	var o editor.FaultOrigin
	if err := json.Unmarshal(env.Data, &o); err != nil {
		return string(data)
	}
	if o.LineNumber == 0 && o.ColumnNumber == 0 {
		return string(data)
	}
	o.LineNumber, o.ColumnNumber = 0, 0
	msg, err := editor.Encode(env.Type, env.Generation, o)
	if err != nil {
		return string(data)
	}
	return msg
}
