package sse

import (
	"context"
	"sync"

	"ms-ledger/internal/models"
)

// Hub fans committed change events out to stream subscribers. Subscribers
// listen on a channel name such as "wallet:ABC123" or "event:<eventId>".
type Hub struct {
	clients     map[string][]chan models.ChangeEvent
	clientMutex sync.RWMutex
	bufferSize  int
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string][]chan models.ChangeEvent),
		bufferSize: 16,
	}
}

// Subscribe registers a client on channel until ctx is done, after which the
// returned channel is closed.
func (h *Hub) Subscribe(ctx context.Context, channel string) <-chan models.ChangeEvent {
	clientChan := make(chan models.ChangeEvent, h.bufferSize)

	h.clientMutex.Lock()
	h.clients[channel] = append(h.clients[channel], clientChan)
	h.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(channel, clientChan)
	}()

	return clientChan
}

// Emit delivers ev to every subscriber of its channels. A subscriber whose
// buffer is full misses the event rather than slowing the writer down.
func (h *Hub) Emit(_ context.Context, ev models.ChangeEvent) {
	h.clientMutex.RLock()
	defer h.clientMutex.RUnlock()

	for _, channel := range ev.Channels() {
		for _, clientChan := range h.clients[channel] {
			select {
			case clientChan <- ev:
			default:
			}
		}
	}
}

func (h *Hub) remove(channel string, clientChan chan models.ChangeEvent) {
	h.clientMutex.Lock()
	defer h.clientMutex.Unlock()

	clients := h.clients[channel]
	for i, ch := range clients {
		if ch == clientChan {
			h.clients[channel] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(h.clients[channel]) == 0 {
		delete(h.clients, channel)
	}
}

// ClientCount returns the number of subscribers on channel
func (h *Hub) ClientCount(channel string) int {
	h.clientMutex.RLock()
	defer h.clientMutex.RUnlock()
	return len(h.clients[channel])
}
