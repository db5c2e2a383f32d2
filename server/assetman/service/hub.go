package service

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"assethub/server/common/log"
)

// AssetEventsChannel carries derivative outcome events from the pipeline to
// connected admin clients.
const AssetEventsChannel = "asset:events"

type WSClient struct {
	ID   string
	Conn *websocket.Conn
	mu   sync.Mutex
}

func (c *WSClient) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub fans derivative outcome events out to connected websocket clients.
// Events arrive over a redis pub/sub channel so the feed works regardless of
// which process (thumbman) produced the outcome.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*WSClient
	redis     *redis.Client
	sub       *redis.PubSub
	subCancel context.CancelFunc
}

func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{clients: map[string]*WSClient{}, redis: redisClient}
}

func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.redis == nil || h.sub != nil {
		h.mu.Unlock()
		return
	}
	subCtx, cancel := context.WithCancel(ctx)
	h.sub = h.redis.Subscribe(subCtx, AssetEventsChannel)
	h.subCancel = cancel
	sub := h.sub
	h.mu.Unlock()

	go h.consume(subCtx, sub)
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subCancel != nil {
		h.subCancel()
		h.subCancel = nil
	}
	if h.sub != nil {
		_ = h.sub.Close()
		h.sub = nil
	}
}

func (h *Hub) consume(ctx context.Context, sub *redis.PubSub) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast([]byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.send(payload); err != nil {
			log.Debugf("asset hub: drop client %s: %v", client.ID, err)
			h.Unregister(client)
		}
	}
}

func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	_ = client.Conn.Close()
}
