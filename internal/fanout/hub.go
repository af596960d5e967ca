package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/curvewatch/indexer/internal/metrics"
	"github.com/curvewatch/indexer/internal/notify"
	"github.com/rs/zerolog/log"
)

// Frame is the server-to-client message envelope.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub tracks which connected clients belong to which subscription scope and
// fans notifications out to them. Delivery is best effort: clients that are
// gone or too slow miss frames.
type Hub struct {
	mu      sync.RWMutex
	clients *common.Set[*Client]
	public  *common.Set[*Client]
	tokens  map[string]*common.Set[*Client]
	users   map[string]*common.Set[*Client]
}

func NewHub() *Hub {
	return &Hub{
		clients: common.NewSet[*Client](),
		public:  common.NewSet[*Client](),
		tokens:  make(map[string]*common.Set[*Client]),
		users:   make(map[string]*common.Set[*Client]),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients.Add(c) {
		metrics.FanoutClients.Inc()
	}
}

// Unregister removes c from every scope and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients.Remove(c) {
		return
	}
	metrics.FanoutClients.Dec()
	for _, target := range c.targets() {
		h.removeLocked(c, target)
	}
	c.closeSend()
}

// Subscribe adds c to the scope named by target. The user scope must only be
// reached after the caller has authenticated c for target.Key.
func (h *Hub) Subscribe(c *Client, target notify.Target) error {
	target.Key = common.NormalizeAddress(target.Key)
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients.Contains(c) {
		return fmt.Errorf("client %s is not connected", c.ID)
	}

	var added bool
	switch target.Scope {
	case notify.ScopePublic:
		target.Key = ""
		added = h.public.Add(c)
	case notify.ScopeToken:
		added = addToScope(h.tokens, target.Key, c)
	case notify.ScopeUser:
		added = addToScope(h.users, target.Key, c)
	default:
		return fmt.Errorf("unknown scope %q", target.Scope)
	}
	if added {
		c.track(target)
		metrics.FanoutSubscriptions.WithLabelValues(string(target.Scope)).Inc()
	}
	return nil
}

func (h *Hub) Unsubscribe(c *Client, target notify.Target) {
	target.Key = common.NormalizeAddress(target.Key)
	if target.Scope == notify.ScopePublic {
		target.Key = ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.removeLocked(c, target) {
		c.untrack(target)
	}
}

func (h *Hub) removeLocked(c *Client, target notify.Target) bool {
	var removed bool
	switch target.Scope {
	case notify.ScopePublic:
		removed = h.public.Remove(c)
	case notify.ScopeToken:
		removed = removeFromScope(h.tokens, target.Key, c)
	case notify.ScopeUser:
		removed = removeFromScope(h.users, target.Key, c)
	}
	if removed {
		metrics.FanoutSubscriptions.WithLabelValues(string(target.Scope)).Dec()
	}
	return removed
}

func addToScope(scopes map[string]*common.Set[*Client], key string, c *Client) bool {
	if key == "" {
		return false
	}
	set, ok := scopes[key]
	if !ok {
		set = common.NewSet[*Client]()
		scopes[key] = set
	}
	return set.Add(c)
}

func removeFromScope(scopes map[string]*common.Set[*Client], key string, c *Client) bool {
	set, ok := scopes[key]
	if !ok {
		return false
	}
	removed := set.Remove(c)
	if set.Size() == 0 {
		delete(scopes, key)
	}
	return removed
}

// Publish delivers n to every client in any of its target scopes. A client
// that sits in several of the targets receives the frame once.
func (h *Hub) Publish(ctx context.Context, n notify.Notification) error {
	frame, err := json.Marshal(Frame{Event: string(n.Event), Data: n.Data})
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", n.Event, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	queued := 0
	for _, target := range n.Targets {
		for _, c := range h.membersLocked(target) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			if c.enqueue(frame) {
				queued++
			} else {
				metrics.FanoutMessagesDropped.Inc()
				log.Debug().Str("client", c.ID).Str("event", string(n.Event)).Msg("Client send queue full, dropping frame")
			}
		}
	}
	metrics.FanoutMessagesSent.WithLabelValues(string(n.Event)).Add(float64(queued))
	return nil
}

func (h *Hub) membersLocked(target notify.Target) []*Client {
	switch target.Scope {
	case notify.ScopePublic:
		return h.public.List()
	case notify.ScopeToken:
		if set, ok := h.tokens[common.NormalizeAddress(target.Key)]; ok {
			return set.List()
		}
	case notify.ScopeUser:
		if set, ok := h.users[common.NormalizeAddress(target.Key)]; ok {
			return set.List()
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients.Size()
}

// SubscriberCount returns the number of clients in target's scope.
func (h *Hub) SubscriberCount(target notify.Target) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.membersLocked(target))
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := h.clients.List()
	h.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
}
