// Package api implements the REST API of the relay host: game status, lobby
// control, bans and game history. Every mutation runs on the host reactor.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/config"
	"github.com/energizer-project/relayhost/internal/host"
	intnet "github.com/energizer-project/relayhost/internal/network"
	"github.com/energizer-project/relayhost/internal/stats"
	"github.com/energizer-project/relayhost/internal/telemetry"
)

// Version is reported by the ping and server info endpoints.
const Version = "1.0.0"

// Server is the REST API server.
type Server struct {
	cfg   *config.Config
	host  *host.Host
	store *stats.Store
	lag   *telemetry.LagMonitor

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server. store and lag may be nil, in which case
// their endpoints answer 503.
func NewServer(cfg *config.Config, h *host.Host, store *stats.Store, lag *telemetry.LagMonitor) *Server {
	if cfg.Logging.Level == "debug" || cfg.Logging.Level == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, host: h, store: store, lag: lag}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(NewRateLimiter(s.cfg.API.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
		public.GET("/games", s.handlePublicGames)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(s.cfg.API.Token))
	{
		protected.GET("/status", s.handleStatus)
		protected.GET("/system/load", s.handleSystemLoad)
		protected.POST("/chat", s.handleChatAll)

		protected.POST("/games", s.handleCreateGame)
		protected.GET("/games/:id", s.handleGetGame)
		protected.GET("/games/:id/lag", s.handleGetGameLag)
		protected.POST("/games/:id/chat", s.handleGameChat)
		protected.POST("/games/:id/start", s.handleStartGame)
		protected.POST("/games/:id/end", s.handleEndGame)
		protected.POST("/games/:id/kick", s.handleKick)
		protected.POST("/games/:id/mute", s.handleMute)
		protected.POST("/games/:id/settings", s.handleSettings)
		protected.POST("/games/:id/slots/swap", s.handleSwapSlots)
		protected.POST("/games/:id/slots/:slot/:action", s.handleSlotAction)

		protected.GET("/bans", s.handleListBans)
		protected.POST("/bans", s.handleAddBan)
		protected.DELETE("/bans/:name", s.handleRemoveBan)

		protected.GET("/history", s.handleRecentGames)
		protected.GET("/history/:id", s.handleHistoryGame)
		protected.GET("/players/:name/history", s.handlePlayerHistory)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})
	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
