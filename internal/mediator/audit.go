package mediator

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"

	"github.com/pagewarden/pagewarden/internal/shared/types"
)

// AuditEntry is one line of the append-only verdict record consumed by
// offline evaluation.
type AuditEntry struct {
	Timestamp    time.Time           `json:"timestamp"`
	URLHash      string              `json:"url_hash"`
	Verdict      types.Verdict       `json:"verdict"`
	Risk         float64             `json:"risk"`
	LayerReports []types.LayerReport `json:"layer_reports"`
}

// AuditLog appends JSONL entries, optionally gzip-compressed. Writes are
// serialized; failures are reported to the caller and never block a
// verdict.
type AuditLog struct {
	mu   sync.Mutex
	file io.WriteCloser
	gz   *gzip.Writer
	out  io.Writer
}

// OpenAuditLog opens (appending) the audit file at path.
func OpenAuditLog(path string, compress bool) (*AuditLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l := &AuditLog{file: f, out: f}
	if compress {
		l.gz = gzip.NewWriter(f)
		l.out = l.gz
	}
	return l, nil
}

// Write appends one entry.
func (l *AuditLog) Write(entry AuditEntry) error {
	data, err := sonic.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(data); err != nil {
		return err
	}
	if l.gz != nil {
		return l.gz.Flush()
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gz != nil {
		if err := l.gz.Close(); err != nil {
			l.file.Close()
			return err
		}
	}
	return l.file.Close()
}
