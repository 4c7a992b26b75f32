package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	LevelFatal slog.Level = 12
)

// Options configures Init. An empty Dir disables the log file.
type Options struct {
	Dir           string
	Level         slog.Level
	Color         bool
	RetentionDays int
	Stdout        io.Writer
}

// core is shared by every handler derived through WithAttrs/WithGroup so all
// of them feed the same worker and file.
type core struct {
	ch            chan []byte
	stdout        io.Writer
	writer        io.Writer
	currentDay    int
	currentFile   *os.File
	basePath      string
	retentionDays int
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

type AsyncHandler struct {
	core     *core
	attrs    []slog.Attr
	group    string
	logLevel slog.Level
}

func NewAsyncHandler(opts Options) *AsyncHandler {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	cr := &core{
		ch:            make(chan []byte, 1024),
		stdout:        stdout,
		writer:        stdout,
		basePath:      opts.Dir,
		retentionDays: opts.RetentionDays,
	}
	if err := cr.rotateIfNeeded(); err != nil {
		_, _ = fmt.Fprintf(stdout, "log file disabled: %v\n", err)
	}
	cr.wg.Add(1)
	go cr.startWorker()
	return &AsyncHandler{core: cr, logLevel: opts.Level}
}

func (c *core) cleanOldLogs() {
	if c.retentionDays <= 0 {
		return
	}
	files, _ := filepath.Glob(filepath.Join(c.basePath, "*.log"))
	now := time.Now()
	maxAge := time.Duration(c.retentionDays) * 24 * time.Hour

	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) > maxAge {
			_ = os.Remove(f)
		}
	}
}

// rotateIfNeeded opens the file for the current day, closing yesterday's.
func (c *core) rotateIfNeeded() error {
	if c.basePath == "" {
		return nil
	}
	now := time.Now()
	currentDay := now.YearDay()
	if currentDay == c.currentDay && c.currentFile != nil {
		return nil
	}

	if c.currentFile != nil {
		if err := c.currentFile.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		c.currentFile = nil
	}

	logPath := c.getLogPath(now)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	c.currentFile = f
	c.currentDay = currentDay
	c.writer = io.MultiWriter(c.stdout, &stripWriter{w: f})
	c.cleanOldLogs()
	return nil
}

func (c *core) getLogPath(now time.Time) string {
	return filepath.Join(c.basePath, now.Format("2006-01-02")+".log")
}

func (c *core) startWorker() {
	defer c.wg.Done()
	for data := range c.ch {
		_ = c.rotateIfNeeded()
		_, _ = c.writer.Write(data)
	}
}

func (c *core) close() {
	c.closeOnce.Do(func() {
		close(c.ch)
		c.wg.Wait()
		if c.currentFile != nil {
			_ = c.currentFile.Sync()
			_ = c.currentFile.Close()
		}
	})
}

func (h *AsyncHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.logLevel
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()

	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	case LevelFatal:
		level = color.HiRedString("FATAL")
	}

	var line strings.Builder
	line.WriteString(fmt.Sprintf(
		"%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		color.CyanString(r.Message),
	))

	for _, attr := range h.attrs {
		line.WriteString(color.CyanString(" %s=%v", h.key(attr.Key), attr.Value))
	}
	r.Attrs(func(attr slog.Attr) bool {
		line.WriteString(color.CyanString(" %s=%v", h.key(attr.Key), attr.Value))
		return true
	})
	line.WriteByte('\n')

	h.Write([]byte(line.String()))
	return nil
}

func (h *AsyncHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)

	return &AsyncHandler{
		core:     h.core,
		attrs:    newAttrs,
		group:    h.group,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &AsyncHandler{
		core:     h.core,
		attrs:    h.attrs,
		group:    group,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) Write(p []byte) {
	pb := make([]byte, len(p))
	copy(pb, p)
	defer func() {
		// writes racing Close are dropped
		_ = recover()
	}()
	h.core.ch <- pb
}

func (h *AsyncHandler) Close() error {
	h.core.close()
	return nil
}

// stripWriter removes ANSI color sequences before they reach the log file.
type stripWriter struct {
	w io.Writer
}

func (s *stripWriter) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == 0x1b && i+1 < len(p) && p[i+1] == '[' {
			j := i + 2
			for j < len(p) && p[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		out = append(out, p[i])
	}
	if _, err := s.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

type ShutdownCallback struct {
	handler *AsyncHandler
}

func (lc *ShutdownCallback) Invoke(_ context.Context) error {
	return lc.handler.Close()
}

// ParseLevel maps a level name from the configuration to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Init installs the async handler as the default slog logger.
func Init(opts Options) *ShutdownCallback {
	color.NoColor = !opts.Color
	handler := NewAsyncHandler(opts)
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logger initialized")
	return &ShutdownCallback{handler: handler}
}

func Debug(msg string, v ...interface{}) {
	slog.Debug(msg, v...)
}

func DebugF(msg string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(msg, v...))
}

func Info(msg string, v ...interface{}) {
	slog.Info(msg, v...)
}

func InfoF(msg string, v ...interface{}) {
	slog.Info(fmt.Sprintf(msg, v...))
}

func Warn(msg string, v ...interface{}) {
	slog.Warn(msg, v...)
}

func WarnF(msg string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(msg, v...))
}

func Error(msg string, v ...interface{}) {
	slog.Error(msg, v...)
}

func ErrorF(msg string, v ...interface{}) {
	slog.Error(fmt.Sprintf(msg, v...))
}

func Fatal(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, msg, v...)
}

func FatalF(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, fmt.Sprintf(msg, v...))
}
