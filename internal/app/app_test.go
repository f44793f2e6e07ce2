package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyallcooper/primescan/internal/services"
	"github.com/lyallcooper/primescan/internal/types"
	"github.com/lyallcooper/primescan/internal/webfs"
)

func TestBuildVersionString(t *testing.T) {
	tests := []struct {
		version, commit, want string
	}{
		{"dev", "abc", "Development"},
		{"v1.2.3", "abcdef0123", "v1.2.3"},
		{"main", "abcdef0123", "main-abcdef0"},
		{"main", "", "main-unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, buildVersionString(tt.version, tt.commit))
	}
}

func TestCreateServer(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PRIMESCAN_DB_PATH", filepath.Join(dir, "data", "primescan.db"))
	t.Setenv("PRIMESCAN_PROGRESS_INTERVAL", "10ms")

	var events []*types.ScanEvent
	server, err := CreateServer(ServerConfig{
		Port:        9999,
		Version:     "v0.0.1",
		WebFS:       webfs.FS,
		BindAddress: "127.0.0.1",
		DisableCSRF: true,
		Sinks: []services.Sink{services.SinkFunc(func(ev *types.ScanEvent) {
			events = append(events, ev)
		})},
	})
	require.NoError(t, err)
	defer server.Cleanup()

	assert.Equal(t, "127.0.0.1:9999", server.HTTP.Addr)
	assert.Equal(t, 9999, server.Config.Port)

	rec := httptest.NewRecorder()
	server.HTTP.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "v0.0.1")

	h, err := server.Scanner.Start(context.Background(), "1", "10")
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	// Sinks run on the scan goroutine, which has exited by now
	var found []int64
	for _, ev := range events {
		if ev.Kind == types.EventPrime {
			found = append(found, ev.Value)
		}
	}
	assert.Equal(t, []int64{2, 3, 5, 7}, found)
}

func TestOpenCoreRecoversInterruptedScans(t *testing.T) {
	t.Setenv("PRIMESCAN_DB_PATH", filepath.Join(t.TempDir(), "primescan.db"))

	core, err := OpenCore()
	require.NoError(t, err)
	run, err := core.Database.CreateScanRun(1, 100, nil)
	require.NoError(t, err)
	require.Equal(t, types.ScanStatusRunning, run.Status)
	core.Close()

	core, err = OpenCore()
	require.NoError(t, err)
	defer core.Close()

	got, err := core.Database.GetScanRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanStatusCancelled, got.Status)
}

func TestCoreCloseCancelsActiveScan(t *testing.T) {
	t.Setenv("PRIMESCAN_DB_PATH", filepath.Join(t.TempDir(), "primescan.db"))

	core, err := OpenCore()
	require.NoError(t, err)

	h, err := core.Scanner.Start(context.Background(), "1", "2147483647")
	require.NoError(t, err)

	core.Scheduler.Stop()
	core.Scheduler = nil
	database := core.Database
	core.Database = nil
	core.Close()
	defer database.Close()

	run, err := database.GetScanRun(h.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanStatusCancelled, run.Status)
}

func TestRetentionDays(t *testing.T) {
	t.Setenv("PRIMESCAN_DB_PATH", filepath.Join(t.TempDir(), "primescan.db"))

	core, err := OpenCore()
	require.NoError(t, err)
	defer core.Close()

	assert.Equal(t, 30, core.RetentionDays())

	require.NoError(t, core.Database.SetSetting("retention_days", "12"))
	assert.Equal(t, 12, core.RetentionDays())

	core.Config.RetentionDaysFromEnv = true
	core.Config.RetentionDays = 5
	assert.Equal(t, 5, core.RetentionDays())
}
