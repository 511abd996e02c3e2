// Command bridgeserver runs the voice bridge HTTP surface: WebRTC signaling
// between browsers and the realtime speech service, tool dispatch to the
// nested-agent and code-modifier subsystems, and the event log.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voicebridge/bridge/internal/bridge"
	"github.com/voicebridge/bridge/internal/config"
	"github.com/voicebridge/bridge/internal/events"
	"github.com/voicebridge/bridge/internal/upstream"
)

func main() {
	cfg := config.Load()

	store, err := events.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("open event store: %v", err)
	}
	defer store.Close()

	credentials := upstream.NewCredentialClient(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey)
	upstreamMgr := upstream.NewManager(credentials, cfg.ICEServers, cfg.UpstreamModel, cfg.DataChannelOpenTimeout, cfg.ICEGatherTimeout)

	controller := bridge.NewController(cfg, upstreamMgr, store)

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	bridge.RegisterRoutes(router, controller)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Printf("bridge server starting on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("bridge server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("bridge server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("bridge server shutdown error: %v", err)
	}
}
