package main

import (
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vominhhoang308/claude-mobile/internal/relay"
	"github.com/vominhhoang308/claude-mobile/pkg/logger"
)

func main() {
	cfg, err := relay.LoadConfig(relay.Overrides{})
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := relay.NewServer()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(relay.LoggingMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		AllowCredentials: true,
	}))

	// The WebSocket endpoint doubles as the root: agents and mobiles
	// classify themselves through the query string. Plain HTTP requests
	// get a banner for client validation.
	router.GET("/", func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			server.HandleWebSocket(c)
			return
		}
		c.String(200, "Claude Mobile relay")
	})
	router.GET("/healthz", func(c *gin.Context) {
		agents, sessions := server.Registry().Counts()
		c.JSON(200, gin.H{"agents": agents, "sessions": sessions})
	})

	logger.Infof("[Relay] listening on %s", cfg.Addr)
	if err := router.Run(cfg.Addr); err != nil {
		logger.Errorf("[Relay] server error: %v", err)
		os.Exit(1)
	}
}
