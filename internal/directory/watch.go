package directory

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const watchWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// watcher is one watch connection. Its writer goroutine is the only one
// writing data frames; send holds at most the latest unsent list.
type watcher struct {
	conn *websocket.Conn
	send chan []string
}

// watchHub pushes the current peer list to every connected watcher.
// Senders on a watcher's queue hold mu, so broadcast never blocks on a slow
// watcher.
type watchHub struct {
	mu       sync.Mutex
	watchers map[*websocket.Conn]*watcher
	closed   bool
	logger   *logrus.Logger

	write func(conn *websocket.Conn, names []string) error
}

func newWatchHub(logger *logrus.Logger) *watchHub {
	return &watchHub{
		watchers: make(map[*websocket.Conn]*watcher),
		logger:   logger,
		write:    writePeers,
	}
}

// serve registers conn, queues the initial list and blocks until the
// watcher goes away.
func (h *watchHub) serve(conn *websocket.Conn, initial []string) {
	w := &watcher{conn: conn, send: make(chan []string, 1)}
	w.send <- initial

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.watchers[conn] = w
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(w)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(w)
	_ = conn.Close()
	<-done
}

func (h *watchHub) writeLoop(w *watcher) {
	failed := false
	for names := range w.send {
		if failed {
			continue
		}
		if err := h.write(w.conn, names); err != nil {
			h.logger.WithField("error", err).Debug("Dropping watcher")
			failed = true
			// Unblocks the read loop in serve, which removes w.
			_ = w.conn.Close()
		}
	}
}

// broadcast replaces whatever list each watcher has not sent yet.
func (h *watchHub) broadcast(names []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, w := range h.watchers {
		select {
		case <-w.send:
		default:
		}
		w.send <- names
	}
}

func (h *watchHub) remove(w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.watchers[w.conn] == w {
		delete(h.watchers, w.conn)
		close(w.send)
	}
}

func (h *watchHub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

func (h *watchHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for conn, w := range h.watchers {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		delete(h.watchers, conn)
		close(w.send)
	}
}

func writePeers(conn *websocket.Conn, names []string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
	return conn.WriteJSON(peersResponse{Peers: names})
}
