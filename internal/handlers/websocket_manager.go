package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Message is what subscribers receive on every change.
type Message struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// Manager upgrades connections and fans messages out to every subscriber.
type Manager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[*websocket.Conn]*sync.Mutex
}

func NewWebSocketManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subscribers: make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return m.upgrader.Upgrade(w, r, nil)
}

func (m *Manager) AddSubscriber(conn *websocket.Conn) {
	m.mu.Lock()
	m.subscribers[conn] = &sync.Mutex{}
	m.mu.Unlock()
}

func (m *Manager) RemoveSubscriber(conn *websocket.Conn) {
	m.mu.Lock()
	_, ok := m.subscribers[conn]
	delete(m.subscribers, conn)
	m.mu.Unlock()

	if ok {
		_ = conn.Close()
	}
}

func (m *Manager) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// Send writes one message to one subscriber.
func (m *Manager) Send(conn *websocket.Conn, kind string, data any) error {
	m.mu.RLock()
	lock, ok := m.subscribers[conn]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	payload, err := json.Marshal(Message{Kind: kind, Data: data})
	if err != nil {
		return err
	}
	return m.write(conn, lock, payload)
}

// Broadcast writes one message to every subscriber, dropping those that fail.
func (m *Manager) Broadcast(kind string, data any) {
	payload, err := json.Marshal(Message{Kind: kind, Data: data})
	if err != nil {
		m.logger.Error("Failed to encode websocket message", "kind", kind, "error", err)
		return
	}

	m.mu.RLock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(m.subscribers))
	for conn, lock := range m.subscribers {
		targets[conn] = lock
	}
	m.mu.RUnlock()

	for conn, lock := range targets {
		if err = m.write(conn, lock, payload); err != nil {
			m.logger.Warn("Dropping websocket subscriber", "kind", kind, "error", err)
			m.RemoveSubscriber(conn)
		}
	}
}

func (m *Manager) write(conn *websocket.Conn, lock *sync.Mutex, payload []byte) error {
	lock.Lock()
	defer lock.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// CloseAll disconnects every subscriber.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := m.subscribers
	m.subscribers = make(map[*websocket.Conn]*sync.Mutex)
	m.mu.Unlock()

	for conn := range conns {
		_ = conn.Close()
	}
}
