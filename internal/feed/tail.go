package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

const tailDebounce = 100 * time.Millisecond

// Ingester accepts normalized entries for a session. *Server implements it.
type Ingester interface {
	Ingest(ctx context.Context, sessionID string, entries []IngestEntry) (IngestResponse, error)
}

// Tailer feeds JSONL agent transcripts from a directory into an Ingester.
// Each <session>.jsonl file is one session; existing lines are ingested on
// start and appended lines as they are written.
type Tailer struct {
	dir      string
	ingest   Ingester
	debounce time.Duration
	files    map[string]*tailFile
}

type tailFile struct {
	offset int64
	line   int
}

// NewTailer creates a tailer for dir.
func NewTailer(dir string, ing Ingester) *Tailer {
	return &Tailer{
		dir:      dir,
		ingest:   ing,
		debounce: tailDebounce,
		files:    make(map[string]*tailFile),
	}
}

// Run ingests what is already in the directory and then follows it until ctx
// is cancelled.
func (t *Tailer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(t.dir); err != nil {
		return fmt.Errorf("watch %s: %w", t.dir, err)
	}

	paths, err := filepath.Glob(filepath.Join(t.dir, "*.jsonl"))
	if err != nil {
		return err
	}
	for _, p := range paths {
		t.readNew(ctx, p)
	}
	tuilog.Log.Info("Tailing transcripts", "dir", t.dir, "files", len(paths))

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".jsonl") {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(t.files, event.Name)
				delete(pending, event.Name)
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				// Debounce rapid writes
				pending[event.Name] = struct{}{}
				debounce.Reset(t.debounce)
			}

		case <-debounce.C:
			for p := range pending {
				t.readNew(ctx, p)
			}
			clear(pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			tuilog.Log.Warn("Transcript watcher error", "error", err)
		}
	}
}

// readNew ingests the complete lines appended to path since the last read.
func (t *Tailer) readNew(ctx context.Context, path string) {
	tf := t.files[path]
	if tf == nil {
		tf = &tailFile{}
		t.files[path] = tf
	}

	f, err := os.Open(path)
	if err != nil {
		tuilog.Log.Warn("Failed to open transcript", "path", path, "error", err)
		return
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() < tf.offset {
		// Truncated or replaced; start over. Duplicates are dropped by the log.
		tf.offset, tf.line = 0, 0
	}
	if _, err := f.Seek(tf.offset, io.SeekStart); err != nil {
		return
	}

	sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	reader := bufio.NewReader(f)
	var entries []IngestEntry
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// Leave a partial last line for the next write.
			break
		}
		if err != nil {
			tuilog.Log.Warn("Failed to read transcript", "path", path, "error", err)
			break
		}
		tf.offset += int64(len(line))
		tf.line++

		entry, ok := parseJSONLLine(line)
		if !ok {
			continue
		}
		if entry.UUID == "" {
			entry.UUID = fmt.Sprintf("%s:%d", sessionID, tf.line)
		}
		if normalizeEntry(&entry) != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return
	}

	resp, err := t.ingest.Ingest(ctx, sessionID, entries)
	if err != nil {
		tuilog.Log.Error("Failed to ingest transcript lines", "session_id", sessionID, "error", err)
		return
	}
	tuilog.Log.Debug("Ingested transcript lines", "session_id", sessionID,
		"accepted", resp.Accepted, "duplicates", resp.Duplicates)
}

// parseJSONLLine extracts an entry from one line of an agent transcript.
// Claude-style lines ({"type": ..., "message": {...}}) and generic
// {"role": ..., "text": ...} lines are understood.
func parseJSONLLine(line []byte) (IngestEntry, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return IngestEntry{}, false
	}

	var entry IngestEntry
	entry.UUID = extractString(raw, "uuid")

	switch extractString(raw, "type") {
	case "human", "user":
		entry.Role = "user"
	case "assistant":
		entry.Role = "assistant"
	case "system":
		entry.Role = "system"
	case "":
		entry.Role = extractString(raw, "role")
	default:
		return IngestEntry{}, false
	}
	if entry.Role == "" {
		return IngestEntry{}, false
	}

	block := firstBlock(raw)
	switch block.Type {
	case "text":
		entry.Text = block.Text
	case "tool_use":
		entry.Role = "tool_use"
		entry.ToolName = block.Name
	case "tool_result":
		entry.Role = "tool_result"
		entry.Text = block.Text
		entry.IsError = block.IsError
	}
	if entry.Text == "" {
		entry.Text = extractString(raw, "text")
	}
	if name := extractString(raw, "tool_name"); name != "" {
		entry.ToolName = name
	}

	if ts, ok := raw["timestamp"]; ok {
		var t time.Time
		if json.Unmarshal(ts, &t) == nil {
			entry.Timestamp = t
		}
	}
	entry.Payload = json.RawMessage(append([]byte(nil), line...))
	return entry, true
}

type contentBlock struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Name    string `json:"name"`
	IsError bool   `json:"is_error"`
}

// firstBlock returns the first meaningful block of message.content.
func firstBlock(raw map[string]json.RawMessage) contentBlock {
	msg, ok := raw["message"]
	if !ok {
		return contentBlock{}
	}
	var message struct {
		Content json.RawMessage `json:"content"`
	}
	if json.Unmarshal(msg, &message) != nil {
		return contentBlock{}
	}

	// content is either a plain string or a list of blocks.
	var text string
	if json.Unmarshal(message.Content, &text) == nil {
		return contentBlock{Type: "text", Text: text}
	}
	var blocks []contentBlock
	if json.Unmarshal(message.Content, &blocks) != nil {
		return contentBlock{}
	}
	for _, b := range blocks {
		if (b.Type == "text" && b.Text != "") || b.Type == "tool_use" || b.Type == "tool_result" {
			return b
		}
	}
	return contentBlock{}
}

func extractString(raw map[string]json.RawMessage, key string) string {
	if v, ok := raw[key]; ok {
		var s string
		json.Unmarshal(v, &s)
		return s
	}
	return ""
}
