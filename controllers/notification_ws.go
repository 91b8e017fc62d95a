package controller

import (
	"encoding/json"
	"sync"
	"time"

	"featureforge/models"
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const wsWriteTimeout = 10 * time.Second

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (cl *wsClient) write(payload []byte) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return cl.conn.WriteMessage(websocket.TextMessage, payload)
}

// NotificationHub keeps the open notification sockets of every user and pushes
// new notifications to them.
type NotificationHub struct {
	mu      sync.RWMutex
	clients map[uint]map[*wsClient]struct{}
	log     *logrus.Entry
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		clients: make(map[uint]map[*wsClient]struct{}),
		log:     utils.Logger("notification_ws"),
	}
}

func (h *NotificationHub) register(userID uint, conn *websocket.Conn) *wsClient {
	cl := &wsClient{conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*wsClient]struct{})
	}
	h.clients[userID][cl] = struct{}{}
	return cl
}

func (h *NotificationHub) unregister(userID uint, cl *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[userID], cl)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// Connections returns how many sockets userID has open
func (h *NotificationHub) Connections(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Publish sends n to every socket of its recipient. Sockets that fail to
// accept the write are dropped.
func (h *NotificationHub) Publish(n models.Notification) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients[n.UserID]))
	for cl := range h.clients[n.UserID] {
		targets = append(targets, cl)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(fiber.Map{"type": "notification", "data": n})
	if err != nil {
		h.log.WithError(err).Error("Failed to encode notification")
		return
	}
	for _, cl := range targets {
		if err := cl.write(payload); err != nil {
			h.log.WithError(err).WithField("user_id", n.UserID).Debug("Dropping notification socket")
			h.unregister(n.UserID, cl)
			_ = cl.conn.Close()
		}
	}
}

// Upgrade rejects requests that are not websocket upgrades
func (h *NotificationHub) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handler serves an authenticated notification socket. The client only
// receives; anything it sends is read and discarded to keep the connection alive.
func (h *NotificationHub) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()

		user, ok := conn.Locals("user").(*models.User)
		if !ok || user == nil {
			return
		}

		cl := h.register(user.ID, conn)
		defer h.unregister(user.ID, cl)
		h.log.WithField("user_id", user.ID).Debug("Notification socket opened")

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.WithError(err).WithField("user_id", user.ID).Warn("Notification socket closed unexpectedly")
				}
				return
			}
		}
	})
}
