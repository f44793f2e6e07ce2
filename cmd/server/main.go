package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyallcooper/primescan/internal/app"
	"github.com/lyallcooper/primescan/internal/webfs"
)

// Version info - injected at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	server, err := app.CreateServer(app.ServerConfig{
		Version: version,
		Commit:  commit,
		WebFS:   webfs.FS,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	cleanupCancel, cleanupDone := server.StartCleanupLoop()

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.HTTP.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Server listening on http://localhost:%d", server.Config.Port)
	if err := server.HTTP.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	cleanupCancel()
	<-cleanupDone
	server.Cleanup()
	log.Println("Server stopped")
}
