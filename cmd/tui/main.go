package main

import (
	"io"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lyallcooper/primescan/internal/app"
	"github.com/lyallcooper/primescan/internal/tui"
)

func main() {
	// Logging would draw over the form
	if path := os.Getenv("PRIMESCAN_LOG_FILE"); path != "" {
		f, err := tea.LogToFile(path, "primescan")
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	sink := tui.NewSink(50 * time.Millisecond)
	core, err := app.OpenCore(sink)
	if err != nil {
		log.SetOutput(os.Stderr)
		log.Fatalf("Failed to start: %v", err)
	}

	cleanupCancel, cleanupDone := core.StartCleanupLoop(24 * time.Hour)

	model := tui.NewModel(core.Scanner, core.Config.DefaultFirst, core.Config.DefaultLast)
	p := tea.NewProgram(model)
	sink.Attach(p)

	_, runErr := p.Run()

	cleanupCancel()
	<-cleanupDone
	core.Close()

	if runErr != nil {
		log.SetOutput(os.Stderr)
		log.Fatalf("Terminal UI error: %v", runErr)
	}
}
