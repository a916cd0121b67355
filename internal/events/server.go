package events

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server upgrades HTTP connections and attaches them to the hub.
type Server struct {
	Hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server
func NewServer() *Server {
	return &Server{
		Hub: NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from any origin in development
				return true
			},
		},
	}
}

// Start starts the hub pump
func (s *Server) Start() {
	go s.Hub.Run()
	logrus.Info("Events server started")
}

// Stop stops the hub
func (s *Server) Stop() {
	s.Hub.Stop()
	logrus.Info("Events server stopped")
}

// HandlePoolsWebSocket handles WebSocket connections for lifecycle
// notifications
func (s *Server) HandlePoolsWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	clientID := generateClientID()
	client := NewClient(conn, s.Hub, clientID)

	s.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	logrus.WithField("client", clientID).Debug("Pool events client connected")
}

// HandleWebSocketStats returns WebSocket connection statistics
func (s *Server) HandleWebSocketStats(c *gin.Context) {
	stats := s.Hub.GetStats()
	stats.ActiveConnections = s.Hub.GetClientCount()
	stats.TotalSubscriptions = s.Hub.GetSubscriptionCount()
	stats.LastUpdate = time.Now()

	c.JSON(http.StatusOK, stats)
}

// generateClientID generates a unique client ID
func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// RegisterRoutes registers WebSocket routes with the Gin router
func (s *Server) RegisterRoutes(router *gin.Engine) {
	ws := router.Group("/ws")
	{
		ws.GET("/pools", s.HandlePoolsWebSocket)
		ws.GET("/stats", s.HandleWebSocketStats)
	}
}
