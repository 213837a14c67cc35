// Package audit appends one row per control-loop tick to a CSV file,
// tracking queue depth over time.
package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pipeforge/controller/pkg/log"
	"github.com/rs/zerolog"
)

// EventType tags which loop produced the audit row.
type EventType string

const (
	EventNewWindow EventType = "new_window"
	EventUpdate    EventType = "update"
)

var header = []string{"timestamp", "type", "running_pipelines", "waiting_pipelines"}

// Log appends rows to a CSV file, creating it with a header if absent.
type Log struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

// New opens (or prepares to create) the audit CSV at path.
func New(path string) *Log {
	return &Log{path: path, logger: log.WithComponent("audit-log")}
}

// Append writes one row. A write failure is logged and swallowed —
// the audit trail is best-effort and must never block a control loop.
func (l *Log) Append(ts time.Time, eventType EventType, runningCount, waitingCount int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	needsHeader := false
	if _, err := os.Stat(l.path); err != nil {
		needsHeader = true
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.logger.Error().Err(err).Str("path", l.path).Msg("failed to open audit log")
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(header); err != nil {
			l.logger.Error().Err(err).Msg("failed to write audit header")
			return
		}
	}

	row := []string{
		ts.UTC().Format(time.RFC3339),
		string(eventType),
		fmt.Sprintf("%d", runningCount),
		fmt.Sprintf("%d", waitingCount),
	}
	if err := w.Write(row); err != nil {
		l.logger.Error().Err(err).Msg("failed to write audit row")
		return
	}
	w.Flush()
	if err := w.Error(); err != nil {
		l.logger.Error().Err(err).Msg("failed to flush audit row")
	}
}
