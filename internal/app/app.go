// Package app provides shared application initialization logic used by the
// server, desktop (Wails) and terminal entry points.
package app

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/lyallcooper/primescan/internal/config"
	"github.com/lyallcooper/primescan/internal/db"
	"github.com/lyallcooper/primescan/internal/handlers"
	"github.com/lyallcooper/primescan/internal/scheduler"
	"github.com/lyallcooper/primescan/internal/services"
)

// ServerConfig contains options for creating the application server.
type ServerConfig struct {
	// Port to listen on. If 0, uses config default.
	Port int

	// Version string for display.
	Version string

	// Commit hash for display.
	Commit string

	// WebFS holds the templates/ and static/ trees.
	WebFS fs.FS

	// BindAddress is the address to bind to. Defaults to "" (all interfaces).
	// Use "127.0.0.1" for desktop mode to only allow local connections.
	BindAddress string

	// DisableCSRF disables CSRF protection. Use for desktop mode where
	// the server only accepts local connections and CSRF isn't a concern.
	DisableCSRF bool

	// Sinks receive every scan event on the scan goroutine.
	Sinks []services.Sink
}

// Server wraps the HTTP server and associated resources.
type Server struct {
	HTTP      *http.Server
	Config    *config.Config
	Database  *db.DB
	Scanner   *services.Scanner
	Scheduler *scheduler.Scheduler

	stop context.CancelFunc
}

// Core is the scanning core without any HTTP surface. The terminal UI runs
// on this directly.
type Core struct {
	Config    *config.Config
	Database  *db.DB
	Scanner   *services.Scanner
	Scheduler *scheduler.Scheduler
}

// OpenCore loads configuration, opens the database and starts the scheduler.
// Call Core.Close when done.
func OpenCore(sinks ...services.Sink) (*Core, error) {
	appCfg := config.Load()

	database, err := db.OpenWithDriver(appCfg.DBDriver, appCfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	scanner := services.NewScanner(database, appCfg.ProgressInterval)
	for _, sink := range sinks {
		scanner.AddSink(sink)
	}
	if err := scanner.RecoverInterrupted(); err != nil {
		database.Close()
		return nil, err
	}

	sched := scheduler.New(database, scanner)
	sched.Start()

	return &Core{
		Config:    appCfg,
		Database:  database,
		Scanner:   scanner,
		Scheduler: sched,
	}, nil
}

// Close stops the scheduler, cancels any scan still holding the controller
// and closes the database.
func (c *Core) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Scanner != nil {
		if snap, ok := c.Scanner.Current(); ok && snap.Status.Active() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.Scanner.Cancel(ctx, snap.ID); err != nil {
				log.Printf("app: failed to cancel scan %d: %v", snap.ID, err)
			}
			cancel()
		}
	}
	if c.Database != nil {
		c.Database.Close()
	}
}

// RetentionDays returns the env override if set, otherwise the stored setting.
func (c *Core) RetentionDays() int {
	if c.Config.RetentionDaysFromEnv {
		return c.Config.RetentionDays
	}
	return c.Database.GetRetentionDays(c.Config.RetentionDays)
}

// CreateServer initializes all application components and returns a Server.
// Call Server.Cleanup() when done to release resources.
func CreateServer(cfg ServerConfig) (*Server, error) {
	core, err := OpenCore(cfg.Sinks...)
	if err != nil {
		return nil, err
	}

	// Override port if specified
	if cfg.Port > 0 {
		core.Config.Port = cfg.Port
	}

	log.Printf("primescan starting...")
	log.Printf("  Database: %s (%s)", core.Config.DBPath, core.Config.DBDriver)
	log.Printf("  Port: %d", core.Config.Port)
	log.Printf("  Retention: %d days", core.RetentionDays())

	versionStr := buildVersionString(cfg.Version, cfg.Commit)

	h, err := handlers.New(core.Database, core.Config, core.Scanner, core.Scheduler, cfg.WebFS, versionStr, cfg.DisableCSRF)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.StartCSRFCleanup(ctx, time.Hour)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, core.Config.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTP:      server,
		Config:    core.Config,
		Database:  core.Database,
		Scanner:   core.Scanner,
		Scheduler: core.Scheduler,
		stop:      cancel,
	}, nil
}

func (s *Server) core() *Core {
	return &Core{Config: s.Config, Database: s.Database, Scanner: s.Scanner, Scheduler: s.Scheduler}
}

// Cleanup releases all resources held by the server.
func (s *Server) Cleanup() {
	if s.stop != nil {
		s.stop()
	}
	s.core().Close()
}

// StartCleanupLoop starts a background goroutine that periodically cleans up old data.
// Returns a cancel function and a done channel.
func (s *Server) StartCleanupLoop() (cancel func(), done <-chan struct{}) {
	return s.core().StartCleanupLoop(24 * time.Hour)
}

// StartCleanupLoop removes finished scans older than the retention period
// once at start and then every interval.
func (c *Core) StartCleanupLoop(interval time.Duration) (cancel func(), done <-chan struct{}) {
	cleanupDone := make(chan struct{})
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())

	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.cleanup()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				c.cleanup()
			}
		}
	}()

	return cleanupCancel, cleanupDone
}

func (c *Core) cleanup() {
	days := c.RetentionDays()
	log.Printf("Running cleanup (retention: %d days)", days)
	if err := c.Database.CleanupOldData(days); err != nil {
		log.Printf("Cleanup error: %v", err)
	}
}

func buildVersionString(version, commit string) string {
	if version == "dev" {
		return "Development"
	}
	if strings.HasPrefix(version, "v") {
		return version
	}
	shortCommit := commit
	if len(shortCommit) > 7 {
		shortCommit = shortCommit[:7]
	}
	if shortCommit == "" {
		shortCommit = "unknown"
	}
	return version + "-" + shortCommit
}
