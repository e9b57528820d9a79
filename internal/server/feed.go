package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/llamacompass/compass/internal/service"
	"github.com/llamacompass/compass/pkg/types"
)

const (
	feedBuffer     = 32
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

// Feed fans store activity out to websocket subscribers. A subscriber that
// falls behind by more than its buffer loses events rather than blocking the
// store.
type Feed struct {
	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
	logger  types.Logger
}

type feedClient struct {
	send chan service.Event
}

var _ service.Notifier = (*Feed)(nil)

// NewFeed creates an empty Feed.
func NewFeed(logger types.Logger) *Feed {
	if logger == nil {
		logger = &types.MockLogger{}
	}
	return &Feed{
		clients: make(map[*feedClient]struct{}),
		logger:  logger,
	}
}

// Notify implements service.Notifier.
func (f *Feed) Notify(event service.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- event:
		default:
			f.logger.Debug("feed subscriber is full, dropping event",
				zap.String("type", event.Type), zap.String("scanID", event.ScanID))
		}
	}
}

// Clients returns the number of connected subscribers.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close disconnects every subscriber. Later subscriptions are refused.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
}

func (f *Feed) subscribe() (*feedClient, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	c := &feedClient{send: make(chan service.Event, feedBuffer)}
	f.clients[c] = struct{}{}
	return c, true
}

func (f *Feed) unsubscribe(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	client, ok := s.feed.subscribe()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(feedWriteWait))
		return
	}
	defer s.feed.unsubscribe(client)
	s.logger.Debug("feed subscriber connected", zap.String("remote", r.RemoteAddr))

	// Subscribers only listen; reading is needed to process pongs and close frames.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug("feed write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			s.logger.Debug("feed subscriber disconnected", zap.String("remote", r.RemoteAddr))
			return
		case <-r.Context().Done():
			return
		}
	}
}
