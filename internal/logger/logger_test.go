package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAsyncHandlerWritesFileAndStdout(t *testing.T) {
	dir := t.TempDir()
	out := &syncBuffer{}
	handler := NewAsyncHandler(Options{Dir: dir, Level: slog.LevelInfo, Stdout: out})
	log := slog.New(handler)

	log.Info("broker started", "port", 1883)
	log.Debug("hidden")
	log.With("client", "c1").Warn("client dropped")
	require.NoError(t, handler.Close())

	assert.Contains(t, out.String(), "broker started")
	assert.Contains(t, out.String(), "client=c1")
	assert.NotContains(t, out.String(), "hidden")

	data, err := os.ReadFile(filepath.Join(dir, time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "port=1883")
	assert.Contains(t, string(data), "client dropped")
	assert.NotContains(t, string(data), "\x1b[")
}

func TestAsyncHandlerGroupPrefix(t *testing.T) {
	out := &syncBuffer{}
	handler := NewAsyncHandler(Options{Level: slog.LevelDebug, Stdout: out})
	slog.New(handler).WithGroup("bridge").Debug("fix", "lat", 1.5)
	require.NoError(t, handler.Close())

	assert.Contains(t, out.String(), "bridge.lat=1.5")
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "2000-01-01.log")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0644))
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	handler := NewAsyncHandler(Options{Dir: dir, RetentionDays: 1, Stdout: &syncBuffer{}})
	require.NoError(t, handler.Close())

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShutdownCallbackIdempotent(t *testing.T) {
	cb := &ShutdownCallback{handler: NewAsyncHandler(Options{Stdout: &syncBuffer{}})}
	require.NoError(t, cb.Invoke(context.Background()))
	require.NoError(t, cb.Invoke(context.Background()))
}
