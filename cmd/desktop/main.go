package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"

	"github.com/lyallcooper/primescan/internal/app"
	"github.com/lyallcooper/primescan/internal/services"
	"github.com/lyallcooper/primescan/internal/webfs"
)

// Version info - injected at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Set desktop-specific defaults before loading config
	setDesktopDefaults()

	// Find available port for internal server
	port, err := findAvailablePort()
	if err != nil {
		log.Fatalf("Failed to find available port: %v", err)
	}

	desktopApp := NewApp()

	// Create the internal HTTP server
	server, err := app.CreateServer(app.ServerConfig{
		Port:        port,
		Version:     version,
		Commit:      commit,
		WebFS:       webfs.FS,
		BindAddress: "127.0.0.1", // Only local connections
		DisableCSRF: true,        // CSRF not needed for desktop app
		Sinks:       []services.Sink{services.ThinProgress(services.SinkFunc(desktopApp.emit), progressEmitInterval)},
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	desktopApp.scanner = server.Scanner

	// Start cleanup loop
	cleanupCancel, cleanupDone := server.StartCleanupLoop()

	// Create reverse proxy to internal server
	targetURL, _ := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", port))
	proxy := httputil.NewSingleHostReverseProxy(targetURL)

	err = wails.Run(&options.App{
		Title:     "Prime Numbers",
		Width:     900,
		Height:    700,
		MinWidth:  480,
		MinHeight: 400,
		AssetServer: &assetserver.Options{
			Handler: proxy,
		},
		OnStartup: func(ctx context.Context) {
			desktopApp.startup(ctx)
			// Start HTTP server in background
			go func() {
				log.Printf("Internal server listening on http://127.0.0.1:%d", port)
				if err := server.HTTP.ListenAndServe(); err != http.ErrServerClosed {
					log.Printf("HTTP server error: %v", err)
				}
			}()
		},
		OnShutdown: func(ctx context.Context) {
			log.Println("Shutting down...")
			server.HTTP.Shutdown(context.Background())
			cleanupCancel()
			<-cleanupDone
			server.Cleanup()
			log.Println("Shutdown complete")
		},
		Bind: []interface{}{
			desktopApp,
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: false,
			},
			About: &mac.AboutInfo{
				Title:   "Prime Numbers",
				Message: fmt.Sprintf("Range Prime Scanner\n\nVersion: %s", buildVersionString()),
			},
		},
		Windows: &windows.Options{
			WebviewIsTransparent: false,
			WindowIsTranslucent:  false,
		},
	})

	if err != nil {
		log.Fatalf("Wails error: %v", err)
	}
}

// findAvailablePort finds an available TCP port on localhost.
func findAvailablePort() (int, error) {
	// Try preferred port first
	preferredPort := 18181
	if isPortAvailable(preferredPort) {
		return preferredPort, nil
	}

	// Otherwise find any available port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// isPortAvailable checks if a port is available on localhost.
func isPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// setDesktopDefaults sets environment variables for desktop-appropriate defaults
// if they're not already set.
func setDesktopDefaults() {
	if os.Getenv("PRIMESCAN_DB_PATH") == "" {
		dataDir := getAppDataDir()
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Printf("Warning: Could not create data directory: %v", err)
		}
		os.Setenv("PRIMESCAN_DB_PATH", filepath.Join(dataDir, "primescan.db"))
	}
}

// getAppDataDir returns the platform-appropriate application data directory.
func getAppDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Prime Numbers")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Prime Numbers")
	default: // Linux and others
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "primescan")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "primescan")
	}
}

// buildVersionString creates a display version string.
func buildVersionString() string {
	if version == "dev" {
		return "Development"
	}
	return version
}
