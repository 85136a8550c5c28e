package web

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StreamEvent is one server-sent event pushed to embedders: a
// config-changed notification carrying the new card config, or an
// events-refreshed notification after a fetch cycle.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Broker fans StreamEvents out to connected SSE clients.
//
// Concurrency model: a single internal goroutine owns the client set;
// public methods talk to it through channels, so no mutexes are needed.
type Broker struct {
	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan StreamEvent
	stopCh        chan struct{}
	stopped       chan struct{}
}

// NewBroker creates a running broker.
func NewBroker() *Broker {
	b := &Broker{
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan StreamEvent, 64),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.publishCh:
			payload, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, payload))
			for ch := range clients {
				select {
				case ch <- raw:
				default:
					// Client buffer full; skip rather than block the loop.
				}
			}
		}
	}
}

// Publish broadcasts an event to all connected clients.
func (b *Broker) Publish(ev StreamEvent) {
	select {
	case b.publishCh <- ev:
	case <-b.stopCh:
	}
}

// Stop shuts the broker down and disconnects all clients.
func (b *Broker) Stop() {
	close(b.stopCh)
	<-b.stopped
}

// ServeHTTP streams events to one client until it disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan []byte, 16)
	select {
	case b.subscribeCh <- ch:
	case <-b.stopCh:
		return
	}
	defer func() {
		select {
		case b.unsubscribeCh <- ch:
		case <-b.stopCh:
		}
	}()

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
