package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives batch progress. OnResult calls are serialized.
type ProgressCallback interface {
	OnStart(total int)
	OnResult(done, total int, res BatchResult)
	OnComplete()
}

// NoOpProgressCallback ignores all progress.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)                   {}
func (NoOpProgressCallback) OnResult(int, int, BatchResult) {}
func (NoOpProgressCallback) OnComplete()                   {}

// ConsoleProgressCallback draws a progress bar and prints failed items.
type ConsoleProgressCallback struct {
	writer    io.Writer
	prefix    string
	width     int
	mutex     sync.Mutex
	startTime time.Time
	failed    int
}

// NewConsoleProgressCallback writes to writer, or stderr when nil.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{writer: writer, prefix: prefix, width: 40}
}

// WithWidth sets the progress bar width.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	c.width = width
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.startTime = time.Now()
	c.failed = 0
	_, _ = fmt.Fprintf(c.writer, "%s0/%d\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnResult(done, total int, res BatchResult) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if res.Err != nil {
		c.failed++
		_, _ = fmt.Fprintf(c.writer, "\r%s%s: %v\n", c.prefix, res.Source, res.Err)
	}
	if total == 0 {
		return
	}
	filled := c.width * done / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	status := fmt.Sprintf("\r%s[%s] %d/%d", c.prefix, bar, done, total)
	if elapsed := time.Since(c.startTime); elapsed > 0 && done < total {
		eta := time.Duration(float64(elapsed) * float64(total-done) / float64(done))
		status += fmt.Sprintf(" ETA: %v", eta.Round(time.Second))
	}
	_, _ = fmt.Fprint(c.writer, status)
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%sCompleted in %v (%d failed)\n",
		c.prefix, time.Since(c.startTime).Round(time.Millisecond), c.failed)
}

// LogProgressCallback logs every result through slog.
type LogProgressCallback struct {
	logger    *slog.Logger
	startTime time.Time
}

func NewLogProgressCallback(logger *slog.Logger) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger}
}

func (l *LogProgressCallback) OnStart(total int) {
	l.startTime = time.Now()
	l.logger.Info("batch started", "total", total)
}

func (l *LogProgressCallback) OnResult(done, total int, res BatchResult) {
	if res.Err != nil {
		l.logger.Warn("batch item failed", "source", res.Source, "done", done, "total", total, "error", res.Err)
		return
	}
	l.logger.Info("batch item done",
		"source", res.Source,
		"prescription_id", res.Prescription.ID,
		"outcome", res.Prescription.Outcome,
		"done", done,
		"total", total)
}

func (l *LogProgressCallback) OnComplete() {
	l.logger.Info("batch completed", "duration_ms", time.Since(l.startTime).Milliseconds())
}
