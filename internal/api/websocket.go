// Package api provides WebSocket functionality for real-time job progress
// updates. Grounded on the donor's Hub/Client channel-fanout pattern; the
// trading-event taxonomy (order/position/trade/signal/risk/agent/pnl) is
// replaced with the job-progress events this core actually emits.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/pkg/types"
)

// MessageType enumerates the events pushed down a job subscription.
type MessageType string

const (
	MsgTypeJobProgress MessageType = "job_progress"
	MsgTypeJobTerminal MessageType = "job_terminal"
	MsgTypeError       MessageType = "error"
	MsgTypeHeartbeat   MessageType = "heartbeat"

	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
)

// WSMessage is the wire envelope for every hub-pushed or client-sent frame.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	JobID     string          `json:"job_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client is one websocket connection, subscribed to zero or more job IDs.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]bool
}

// Hub fans job-progress updates out to every client subscribed to that
// job's channel. Unlike the donor's in-process engine.ProgressChan()
// source, updates here originate from a poller reading
// internal/store.JobStore (wired in cmd/apiserver), since the worker that
// actually advances a job's progress runs in a separate process.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	channels   map[string]map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for channel := range client.subscriptions {
					if clients, ok := h.channels[channel]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.channels, channel)
						}
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()

		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

func (h *Hub) sendHeartbeat() {
	msg := WSMessage{Type: MsgTypeHeartbeat, Timestamp: time.Now().UnixMilli()}
	data, _ := json.Marshal(msg)
	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
	h.mu.RUnlock()
}

func (h *Hub) subscribe(client *Client, jobChannel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[jobChannel] == nil {
		h.channels[jobChannel] = make(map[*Client]bool)
	}
	h.channels[jobChannel][client] = true
	client.mu.Lock()
	client.subscriptions[jobChannel] = true
	client.mu.Unlock()
}

func (h *Hub) unsubscribe(client *Client, jobChannel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.channels[jobChannel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, jobChannel)
		}
	}
	client.mu.Lock()
	delete(client.subscriptions, jobChannel)
	client.mu.Unlock()
}

func (h *Hub) publish(jobChannel string, msgType MessageType, jobID string, data interface{}) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal job progress payload", zap.Error(err))
		return
	}
	msg := WSMessage{Type: msgType, JobID: jobID, Data: dataBytes, Timestamp: time.Now().UnixMilli()}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal job progress message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.channels[jobChannel]; ok {
		for client := range clients {
			select {
			case client.send <- msgBytes:
			default:
			}
		}
	}
}

func jobChannel(jobID string) string { return "job:" + jobID }

// BroadcastJobProgress pushes an L1/L2/L3 progress snapshot to every client
// subscribed to job.JobID. The poller in cmd/apiserver calls this once per
// tick for every subscribed job not yet in a terminal state, whether or not
// its progress changed since the previous tick.
func (h *Hub) BroadcastJobProgress(job types.TrainingJob) {
	h.publish(jobChannel(job.JobID), MsgTypeJobProgress, job.JobID, job)
}

// BroadcastJobTerminal pushes the final status of a job that has reached
// COMPLETED/FAILED/CANCELLED. The poller in cmd/apiserver calls this once
// per tick for as long as at least one client stays subscribed to the job.
func (h *Hub) BroadcastJobTerminal(job types.TrainingJob) {
	h.publish(jobChannel(job.JobID), MsgTypeJobTerminal, job.JobID, job)
}

// SubscribedJobIDs lists every job currently subscribed to by at least one
// client, for the progress poller in cmd/apiserver to know what to fetch.
func (h *Hub) SubscribedJobIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.channels))
	for ch := range h.channels {
		if len(ch) > len("job:") && ch[:4] == "job:" {
			ids = append(ids, ch[4:])
		}
	}
	return ids
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
}

// handleWebSocket upgrades the connection and starts its read/write pumps.
// Clients subscribe with {"type":"subscribe","job_id":"..."}.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(fmt.Sprintf("ws-%d", time.Now().UnixNano()), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	client.ReadPump()
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("invalid websocket message", zap.Error(err))
			continue
		}
		if msg.JobID == "" {
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			c.hub.subscribe(c, jobChannel(msg.JobID))
		case MsgTypeUnsubscribe:
			c.hub.unsubscribe(c, jobChannel(msg.JobID))
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
