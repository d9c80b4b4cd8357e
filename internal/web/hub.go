package web

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gofiber/websocket/v2"
	"golang.org/x/time/rate"

	"github.com/q360/livemonitor/internal/logger"
	"github.com/q360/livemonitor/internal/metrics"
)

var errPeerClosed = errors.New("peer closed")

// peer is one connected WebSocket client. The conn must not be touched once
// the handler returned, so every write checks closed under writeMu.
type peer struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
	limiter *rate.Limiter
}

func (p *peer) send(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return errPeerClosed
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame with code and closes the connection once
func (p *peer) closeWith(code int, text string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if code != 0 {
		_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
	}
	_ = p.conn.Close()
}

func (p *peer) close() {
	p.closeWith(0, "")
}

// Hub fans messages out to every peer of one channel. Messages are written
// in broadcast order; writes of one message run in parallel across peers.
type Hub struct {
	name      string
	mu        sync.RWMutex
	peers     map[string]*peer
	broadcast chan []byte
	pool      *workerPool
	log       *logger.Logger
	metrics   *metrics.Metrics
	done      chan struct{}
	closeOnce sync.Once
}

func newHub(name string, pool *workerPool, log *logger.Logger, m *metrics.Metrics) *Hub {
	h := &Hub{
		name:      name,
		peers:     make(map[string]*peer),
		broadcast: make(chan []byte, 256),
		pool:      pool,
		log:       log.Component("hub").Field("channel", name),
		metrics:   m,
		done:      make(chan struct{}),
	}
	go h.handleBroadcast()
	return h
}

// Count returns the number of connected peers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) join(p *peer) {
	h.mu.Lock()
	h.peers[p.id] = p
	n := len(h.peers)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ServerConnections.WithLabelValues(h.name).Inc()
	}
	h.log.Debug().Str("peer", p.id).Int("peers", n).Msg("Peer joined")
}

func (h *Hub) leave(p *peer) {
	h.mu.Lock()
	_, ok := h.peers[p.id]
	delete(h.peers, p.id)
	h.mu.Unlock()

	if !ok {
		return
	}
	if h.metrics != nil {
		h.metrics.ServerConnections.WithLabelValues(h.name).Dec()
	}
	h.log.Debug().Str("peer", p.id).Msg("Peer left")
}

// Broadcast queues an envelope for every peer. It drops the message when the
// queue is full.
func (h *Hub) Broadcast(env map[string]any) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode broadcast")
		return
	}

	select {
	case <-h.done:
	case h.broadcast <- data:
	default:
		h.log.Warn().Msg("Broadcast queue full, message dropped")
	}
}

// handleBroadcast sends queued messages to all connected peers
func (h *Hub) handleBroadcast() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(len(peers))
	for _, p := range peers {
		p := p
		h.pool.Submit(func() error {
			if err := p.send(msg); err != nil {
				h.log.Debug().Err(err).Str("peer", p.id).Msg("Broadcast write failed")
				h.leave(p)
				p.close()
				return err
			}
			return nil
		}, &wg)
	}
	wg.Wait()

	if h.metrics != nil {
		h.metrics.ServerBroadcasts.WithLabelValues(h.name).Inc()
	}
}

// close stops the broadcast loop and disconnects every peer
func (h *Hub) close() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		peers := h.peers
		h.peers = make(map[string]*peer)
		h.mu.Unlock()

		for _, p := range peers {
			p.closeWith(websocket.CloseGoingAway, "server shutting down")
			if h.metrics != nil {
				h.metrics.ServerConnections.WithLabelValues(h.name).Dec()
			}
		}
	})
}
