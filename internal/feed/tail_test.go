package feed

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

type recordingIngester struct {
	mu      sync.Mutex
	batches map[string][]IngestEntry
}

func (r *recordingIngester) Ingest(ctx context.Context, sessionID string, entries []IngestEntry) (IngestResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batches == nil {
		r.batches = make(map[string][]IngestEntry)
	}
	r.batches[sessionID] = append(r.batches[sessionID], entries...)
	return IngestResponse{Accepted: len(entries)}, nil
}

func (r *recordingIngester) uuids(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.batches[sessionID] {
		out = append(out, e.UUID)
	}
	return out
}

func TestParseJSONLLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		ok       bool
		role     string
		text     string
		toolName string
	}{
		{"claude user string", `{"type":"user","uuid":"u1","message":{"content":"hi"}}`, true, "user", "hi", ""},
		{"claude assistant blocks", `{"type":"assistant","uuid":"a1","message":{"content":[{"type":"thinking"},{"type":"text","text":"answer"}]}}`, true, "assistant", "answer", ""},
		{"tool use", `{"type":"assistant","uuid":"a2","message":{"content":[{"type":"tool_use","name":"Edit"}]}}`, true, "tool_use", "", "Edit"},
		{"tool result", `{"type":"user","uuid":"u2","message":{"content":[{"type":"tool_result","text":"done"}]}}`, true, "tool_result", "done", ""},
		{"generic", `{"role":"system","text":"boot","tool_name":"hook:Start"}`, true, "system", "boot", "hook:Start"},
		{"summary skipped", `{"type":"summary","summary":"x"}`, false, "", "", ""},
		{"no role", `{"text":"orphan"}`, false, "", "", ""},
		{"garbage", `not json`, false, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := parseJSONLLine([]byte(tt.line))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if e.Role != tt.role || e.Text != tt.text || e.ToolName != tt.toolName {
				t.Errorf("entry = role %q text %q tool %q", e.Role, e.Text, e.ToolName)
			}
			if len(e.Payload) == 0 {
				t.Error("payload should carry the raw line")
			}
		})
	}
}

func TestParseJSONLLine_Timestamp(t *testing.T) {
	e, ok := parseJSONLLine([]byte(`{"type":"user","uuid":"u1","timestamp":"2026-04-01T08:00:00Z","message":{"content":"hi"}}`))
	if !ok {
		t.Fatal("line rejected")
	}
	if want := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC); !e.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, want)
	}
}

func TestTailer_ReadNew(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	lines := `{"type":"user","uuid":"u1","message":{"content":"one"}}
{"role":"assistant","text":"no uuid"}
{"type":"user","uuid":"u3","message":{"content":"partial"`
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	ing := &recordingIngester{}
	tl := NewTailer(dir, ing)
	tl.readNew(context.Background(), path)

	if got := ing.uuids("sess"); !slices.Equal(got, []string{"u1", "sess:2"}) {
		t.Fatalf("first read = %v", got)
	}

	// Complete the partial line and add one more.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("}}\n" + `{"type":"assistant","uuid":"a4","message":{"content":"four"}}` + "\n")
	f.Close()

	tl.readNew(context.Background(), path)
	if got := ing.uuids("sess"); !slices.Equal(got, []string{"u1", "sess:2", "u3", "a4"}) {
		t.Errorf("after append = %v", got)
	}
}

func TestTailer_Truncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.jsonl")
	os.WriteFile(path, []byte(`{"role":"user","uuid":"a","text":"long line here"}`+"\n"), 0o644)

	ing := &recordingIngester{}
	tl := NewTailer(dir, ing)
	tl.readNew(context.Background(), path)

	os.WriteFile(path, []byte(`{"role":"user","uuid":"b"}`+"\n"), 0o644)
	tl.readNew(context.Background(), path)

	if got := ing.uuids("s"); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("after truncation = %v", got)
	}
}

func TestTailer_RunFollowsDirectory(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "existing.jsonl"), []byte(`{"role":"user","uuid":"e1","text":"hi"}`+"\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored\n"), 0o644)

	ing := &recordingIngester{}
	tl := NewTailer(dir, ing)
	tl.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tl.Run(ctx) }()

	waitUntil(t, "existing file", func() bool { return len(ing.uuids("existing")) == 1 })

	os.WriteFile(filepath.Join(dir, "new.jsonl"), []byte(`{"role":"assistant","uuid":"n1","text":"hello"}`+"\n"), 0o644)
	waitUntil(t, "new file", func() bool { return slices.Equal(ing.uuids("new"), []string{"n1"}) })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestTailer_IngestsIntoServer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.jsonl")
	os.WriteFile(path, []byte(`{"type":"assistant","uuid":"x1","message":{"content":[{"type":"tool_use","name":"TodoWrite"}]}}`+"\n"), 0o644)

	s := NewServer(ServerConfig{Quiet: true})
	ch, unsub := s.pubsub.Subscribe("live", "c1")
	defer unsub()

	NewTailer(dir, s).readNew(context.Background(), path)

	var kinds []string
	for len(ch) > 0 {
		ev := <-ch
		kinds = append(kinds, string(ev.Kind)+":"+string(ev.Facet))
	}
	if want := []string{"append:", "invalidate:messages", "invalidate:todos"}; !slices.Equal(kinds, want) {
		t.Errorf("events = %v, want %v", kinds, want)
	}
	if p, _ := s.Log().Page(context.Background(), "live", 10, ""); len(p.Edges) != 1 || p.Edges[0].Node.Text != "[tool_use: TodoWrite]" {
		t.Errorf("stored page = %+v", p)
	}
}
