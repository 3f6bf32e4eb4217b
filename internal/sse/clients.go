// Package sse fans server-sent events out to clients subscribed by topic.
package sse

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const clientBuffer = 8

var sseLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	sseLogger = l
}

// Topic helpers.
func PostTopic(postID string) string     { return "post:" + postID }
func PDFTopic(pdfID string) string       { return "pdf:" + pdfID }
func EditorTopic(session string) string  { return "editor:" + session }
func CollectionTopic(name string) string { return "collection:" + name }

type Message struct {
	Event string
	Data  string
}

type Client struct {
	Msg   chan Message
	Topic string
}

type Clients struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	heartbeat time.Duration
}

func NewClients() *Clients {
	return &Clients{
		clients:   make(map[*Client]bool),
		heartbeat: 30 * time.Second,
	}
}

func (s *Clients) Add(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
	metrics.SSEClients.Inc()
}

func (s *Clients) Delete(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	close(client.Msg)
	metrics.SSEClients.Dec()
}

func (s *Clients) Count(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for c := range s.clients {
		if c.Topic == topic {
			n++
		}
	}
	return n
}

// Broadcast sends to every client of topic. A client with a full buffer misses the message.
func (s *Clients) Broadcast(topic, event, data string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg := Message{Event: event, Data: data}
	for client := range s.clients {
		if client.Topic != topic {
			continue
		}
		select {
		case client.Msg <- msg:
		default:
			sseLogger.Debug().Str("topic", topic).Str("event", event).Msg("Dropping event for slow client")
		}
	}
}

// ServeHTTP streams the events of the topic named by the "topic" query parameter.
func (s *Clients) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "topic parameter required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set(config.HCType, "text/event-stream")
	w.Header().Set(config.HCacheControl, "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Del("X-Content-Type-Options")

	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", topic)
	flusher.Flush()

	client := &Client{Msg: make(chan Message, clientBuffer), Topic: topic}
	s.Add(client)

	log := hlog.FromRequest(r)
	log.Debug().Str("topic", topic).Msg("SSE client connected")
	defer func() {
		s.Delete(client)
		log.Debug().Str("topic", topic).Msg("SSE client disconnected")
	}()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Msg:
			if !ok {
				return
			}
			writeMessage(w, msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeMessage(w http.ResponseWriter, msg Message) {
	if msg.Event != "" {
		fmt.Fprintf(w, "event: %s\n", msg.Event)
	}
	for _, line := range strings.Split(msg.Data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}
