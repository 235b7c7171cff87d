// Package gateway exposes the chat server over HTTP: health and session
// listings for operators, Prometheus metrics, and a WebSocket bridge that
// runs the same line protocol as the TCP listener.
package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ledzpl/tcpchat/internal/chat"
	"github.com/ledzpl/tcpchat/internal/metrics"
)

// Sessions is the part of the chat server the gateway depends on.
type Sessions interface {
	ServeConn(conn chat.Conn, transport string)
	Snapshot() []chat.Member
}

type sessionView struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Addr     string    `json:"addr"`
	JoinedAt time.Time `json:"joined_at"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway carries no credentials; any origin may open a session.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewRouter builds the gin engine serving /health, /sessions, /metrics and /ws.
func NewRouter(sessions Sessions, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	metrics.RegisterMetrics()

	startedAt := time.Now()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": len(sessions.Snapshot()),
			"uptime":   time.Since(startedAt).Round(time.Second).String(),
			"version":  chat.Version,
		})
	})

	r.GET("/sessions", func(c *gin.Context) {
		members := sessions.Snapshot()
		views := make([]sessionView, 0, len(members))
		for _, m := range members {
			views = append(views, sessionView{
				ID:       m.Peer.ID,
				Name:     m.Name,
				Addr:     m.Peer.Addr,
				JoinedAt: m.JoinedAt,
			})
		}
		c.JSON(http.StatusOK, views)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ws", func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn().Err(err).Str("client_ip", c.ClientIP()).Msg("websocket upgrade failed")
			return
		}
		sessions.ServeConn(newWSConn(ws), "ws")
	})

	return r
}

// New returns an http.Server for the gateway; the caller owns its lifecycle.
func New(addr string, sessions Sessions, logger zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(sessions, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http_request")
	}
}
