package agent

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Queue spools payloads that could not be pushed while the control plane
// was unreachable. Each entry is one file named <unix-nanos>_<type>.json
// so that lexicographic filename order is arrival order.
type Queue struct {
	dir    string
	logger *log.Logger
}

func NewQueue(dir string, logger *log.Logger) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{dir: dir, logger: logger}, nil
}

// Enqueue serializes v and writes it as the newest queue entry. The
// payload type becomes part of the filename so Drain knows which ingest
// endpoint to replay it against.
func (q *Queue) Enqueue(payloadType string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal queued payload: %w", err)
	}
	name := fmt.Sprintf("%d_%s.json", time.Now().UnixNano(), payloadType)
	if err := os.WriteFile(filepath.Join(q.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write queued payload: %w", err)
	}
	q.logger.Printf("📦 queued %s payload as %s", payloadType, name)
	return name, nil
}

// Pending returns the queued filenames in drain order.
func (q *Queue) Pending() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// SendFunc replays one queued payload. A nil error means the server
// accepted it.
type SendFunc func(payloadType string, data []byte) error

// Drain replays queued payloads oldest first. A send failure stops the
// drain immediately and keeps the file for the next attempt, so ordering
// is preserved across retries. Entries that no longer parse as JSON are
// deleted and counted as failed, since replaying them can never succeed.
func (q *Queue) Drain(send SendFunc) (sent, failed int) {
	names, err := q.Pending()
	if err != nil {
		q.logger.Printf("⚠️ queue scan failed: %v", err)
		return 0, 0
	}

	for _, name := range names {
		path := filepath.Join(q.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			q.logger.Printf("⚠️ queue read %s failed: %v", name, err)
			failed++
			return sent, failed
		}

		payloadType, ok := payloadTypeOf(name)
		if !ok || !json.Valid(data) {
			q.logger.Printf("⚠️ dropping corrupt queue entry %s", name)
			os.Remove(path)
			failed++
			continue
		}

		if err := send(payloadType, data); err != nil {
			q.logger.Printf("⚠️ replay of %s failed, keeping queue: %v", name, err)
			failed++
			return sent, failed
		}
		os.Remove(path)
		sent++
	}
	return sent, failed
}

// payloadTypeOf extracts the payload type from a <nanos>_<type>.json
// filename.
func payloadTypeOf(name string) (string, bool) {
	stem := strings.TrimSuffix(name, ".json")
	i := strings.Index(stem, "_")
	if i < 0 || i == len(stem)-1 {
		return "", false
	}
	return stem[i+1:], true
}
