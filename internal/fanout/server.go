package fanout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/curvewatch/indexer/api"
	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const DEFAULT_GATEWAY_PORT = 3000
const DEFAULT_SEND_BUFFER = 256

// Server exposes the hub over websockets next to health and metrics endpoints.
type Server struct {
	hub        *Hub
	auth       *Authenticator
	upgrader   websocket.Upgrader
	sendBuffer int
	addr       string
	router     *gin.Engine
}

func NewServer(cfg *config.GatewayConfig, hub *Hub) *Server {
	port := cfg.Port
	if port <= 0 {
		port = DEFAULT_GATEWAY_PORT
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = DEFAULT_SEND_BUFFER
	}

	s := &Server{
		hub:        hub,
		auth:       NewAuthenticator(cfg.JWTSecret),
		sendBuffer: sendBuffer,
		addr:       fmt.Sprintf("%s:%d", cfg.Host, port),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
	s.router = s.routes()
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		origins[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if len(origins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := origins[origin]
		return ok
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logger())
	r.Use(gin.Recovery())

	r.GET("/ws", middleware.Authorization(s.auth), s.handleWebsocket)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, api.HealthResponse{Status: "ok", Clients: s.hub.ClientCount()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the error response
		log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := newClient(s.hub, conn, s.auth, c.GetString(middleware.SessionAddressKey), s.sendBuffer)
	s.hub.Register(client)
	log.Debug().Str("client", client.ID).Str("ip", c.ClientIP()).Msg("Client connected")

	go client.writePump()
	client.readPump()
	log.Debug().Str("client", client.ID).Msg("Client disconnected")
}

// Start serves until ctx is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("Fanout gateway listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down fanout gateway: %w", err)
	}
	log.Info().Msg("Fanout gateway stopped")
	return nil
}
