// Package journal appends gateway dispatches to a JSON-lines file and reads
// them back, so a captured session can be folded again offline.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Rajchodisetti/chatgw/internal/gateway"
	"github.com/Rajchodisetti/chatgw/internal/observ"
)

// maxLine bounds one record; READY for a large account is several MB
const maxLine = 32 << 20

type Entry struct {
	Seq   int64           `json:"seq"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Event time.Time       `json:"event"`
}

type Journal struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// Open creates or appends to the journal at path
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &Journal{path: path, f: f}, nil
}

func (j *Journal) Append(d gateway.Dispatch) error {
	b, err := json.Marshal(Entry{Seq: d.Sequence, Type: d.Type, Data: d.Data, Event: time.Now().UTC()})
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return os.ErrClosed
	}
	_, err = j.f.Write(append(b, '\n'))
	return err
}

// Record appends every dispatch from events until the stream ends or ctx is
// done. A failed write is logged and the stream keeps draining.
func (j *Journal) Record(ctx context.Context, events <-chan gateway.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d, ok := ev.(gateway.Dispatch)
			if !ok {
				continue
			}
			if err := j.Append(d); err != nil {
				observ.Warn("journal_append_failed", map[string]any{"path": j.path, "seq": d.Sequence, "error": err.Error()})
			}
		}
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// Read calls fn with every dispatch in the journal, in file order. Lines
// that do not parse are skipped and counted in the returned total.
func Read(path string, fn func(gateway.Dispatch) error) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Type == "" {
			skipped++
			observ.Debug("journal_line_skipped", map[string]any{"path": path, "line": line})
			continue
		}
		if err := fn(gateway.Dispatch{Sequence: e.Seq, Type: e.Type, Data: e.Data}); err != nil {
			return skipped, err
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return skipped, fmt.Errorf("%s line %d: %w", path, line+1, err)
		}
		return skipped, err
	}
	return skipped, nil
}
