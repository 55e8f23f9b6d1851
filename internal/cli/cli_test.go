package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"stationear/internal/domain"
	"stationear/internal/storage"
)

type fakeKeyword struct {
	ID   int64  `json:"id"`
	Word string `json:"word"`
}

// fakeBackend is an in-memory stand-in for the announcement backend.
type fakeBackend struct {
	mu       sync.Mutex
	nextID   int
	nextKw   int64
	created  []string
	deleted  []string
	previous []string
	uploads  []string
	keywords map[string][]fakeKeyword
	status   map[string]domain.SessionStatus
	results  map[string]domain.SessionResult
	alerts   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nextID:   1,
		nextKw:   100,
		keywords: make(map[string][]fakeKeyword),
		status:   make(map[string]domain.SessionStatus),
		results:  make(map[string]domain.SessionResult),
	}
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/session/":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if prev, ok := body["previous_session_id"].(string); ok {
			f.previous = append(f.previous, prev)
		}
		id := strconv.Itoa(f.nextID)
		f.nextID++
		f.created = append(f.created, id)
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	case r.Method == http.MethodDelete && len(parts) == 2 && parts[0] == "session":
		f.deleted = append(f.deleted, parts[1])
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "status":
		status, ok := f.status[parts[1]]
		if !ok {
			status = domain.SessionStatus{Status: domain.ProcessingPending}
		}
		writeJSON(w, http.StatusOK, status)
	case r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "results":
		result, ok := f.results[parts[1]]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, result)
	case r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "stream":
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, frame := range f.alerts {
			fmt.Fprintf(w, "data: %s\n\n", frame)
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	case r.Method == http.MethodGet && r.URL.Path == "/keywords/":
		id := r.URL.Query().Get("session_id")
		writeJSON(w, http.StatusOK, map[string]any{"keywords": f.keywords[id]})
	case r.Method == http.MethodPost && r.URL.Path == "/keywords/":
		var body struct {
			SessionID string   `json:"session_id"`
			Keywords  []string `json:"keywords"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, word := range body.Keywords {
			f.keywords[body.SessionID] = append(f.keywords[body.SessionID], fakeKeyword{ID: f.nextKw, Word: word})
			f.nextKw++
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
	case r.Method == http.MethodDelete && len(parts) == 2 && parts[0] == "keywords":
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		for session, items := range f.keywords {
			kept := items[:0]
			for _, item := range items {
				if item.ID != id {
					kept = append(kept, item)
				}
			}
			f.keywords[session] = kept
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && r.URL.Path == "/audio/":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		f.uploads = append(f.uploads, r.FormValue("session_id")+"|"+r.FormValue("duration"))
		writeJSON(w, http.StatusCreated, map[string]any{"audio_id": len(f.uploads), "status": "queued"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": r.Method + " " + r.URL.Path})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type cliEnv struct {
	backend *fakeBackend
	server  *httptest.Server
	dbPath  string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	t.Setenv("STATIONEAR_RULES_FILE", filepath.Join(home, "missing.rules"))
	t.Setenv("STATIONEAR_CHUNK_DIR", filepath.Join(home, "chunks"))
	t.Setenv("STATIONEAR_DEFAULT_KEYWORDS", "지연,환승")
	t.Setenv("STATIONEAR_POLL_INTERVAL_MS", "10")
	t.Setenv("STATIONEAR_POLL_TIMEOUT_MS", "1000")

	backend := newFakeBackend()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	return &cliEnv{backend: backend, server: server, dbPath: filepath.Join(home, "stationear.sqlite")}
}

func (e *cliEnv) run(args ...string) (string, string, error) {
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--api", e.server.URL, "--db", e.dbPath, "--plain"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func (e *cliEnv) seedHistory(t *testing.T, ids ...domain.SessionID) {
	t.Helper()
	store, err := storage.Open(e.dbPath)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	defer store.Close()
	for _, id := range ids {
		if err := store.AppendSession(context.Background(), id); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestStatusCommandUsesLatestHistoryEntry(t *testing.T) {
	env := newCLIEnv(t)
	env.seedHistory(t, "3", "4")
	env.backend.status["4"] = domain.SessionStatus{Status: domain.ProcessingProcessing, DoneChunks: 2, TotalChunks: 5}

	out, _, err := env.run("status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	for _, want := range []string{"Session 4", "Status: PROCESSING", "Chunks: 2/5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestStatusCommandWithoutHistoryFails(t *testing.T) {
	env := newCLIEnv(t)

	if _, _, err := env.run("status"); err == nil || !strings.Contains(err.Error(), "history is empty") {
		t.Fatalf("expected empty history error, got %v", err)
	}
}

func TestResultsCommandRendersDigest(t *testing.T) {
	env := newCLIEnv(t)
	env.backend.keywords["9"] = []fakeKeyword{{ID: 1, Word: "환승"}}
	env.backend.results["9"] = domain.SessionResult{
		Summary:            "2호선 환승 안내",
		TotalAnnouncements: 2,
		Timeline: []domain.TimelineEntry{
			{AnnouncementID: 1, FullText: "이번 역은 시청역입니다", Info: &domain.AnnouncementInfo{Station: "시청역", Door: "왼쪽"}},
			{AnnouncementID: 2, FullText: "1호선으로 환승하실 수 있습니다"},
		},
	}

	out, _, err := env.run("results", "9")
	if err != nil {
		t.Fatalf("results failed: %v", err)
	}
	for _, want := range []string{"Results 9", "Summary: 2호선 환승 안내", "Announcements: 2", "Station: 시청역", "Door: 왼쪽", "#2 1호선으로 환승하실 수 있습니다", "matched: 환승"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestResultsCommandWaitsForCompletion(t *testing.T) {
	env := newCLIEnv(t)
	env.backend.status["5"] = domain.SessionStatus{Status: domain.ProcessingComplete}
	env.backend.results["5"] = domain.SessionResult{Summary: "done"}

	out, errOut, err := env.run("results", "--wait", "5")
	if err != nil {
		t.Fatalf("results --wait failed: %v", err)
	}
	if !strings.Contains(out, "Summary: done") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(errOut, "results ready for session 5") {
		t.Fatalf("expected results event, got:\n%s", errOut)
	}
}

func TestResultsCommandMissingResults(t *testing.T) {
	env := newCLIEnv(t)

	if _, _, err := env.run("results", "77"); err == nil {
		t.Fatalf("expected missing results error")
	}
}

func TestKeywordsCommands(t *testing.T) {
	env := newCLIEnv(t)
	env.backend.keywords["1"] = []fakeKeyword{{ID: 10, Word: "출발"}}

	out, _, err := env.run("keywords", "list", "1")
	if err != nil || !strings.Contains(out, "출발") {
		t.Fatalf("list failed: %v\n%s", err, out)
	}

	out, _, err = env.run("keywords", "add", "1", "  #혼잡 ")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !strings.Contains(out, "#혼잡") {
		t.Fatalf("expected added keyword in output:\n%s", out)
	}

	out, _, err = env.run("keywords", "rm", "1", "10")
	if err != nil {
		t.Fatalf("rm by id failed: %v", err)
	}
	if strings.Contains(out, "출발") {
		t.Fatalf("keyword still listed after rm:\n%s", out)
	}

	if _, _, err := env.run("keywords", "rm", "1", "없음"); err == nil {
		t.Fatalf("expected error for unknown keyword")
	}

	env.backend.mu.Lock()
	remaining := env.backend.keywords["1"]
	env.backend.mu.Unlock()
	if len(remaining) != 1 || remaining[0].Word != "#혼잡" {
		t.Fatalf("unexpected backend keywords: %+v", remaining)
	}
}

func TestCleanupCommandDeletesHistory(t *testing.T) {
	env := newCLIEnv(t)
	env.seedHistory(t, "1", "2", "3")

	out, _, err := env.run("cleanup")
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if !strings.Contains(out, "deleted 3 of 3 sessions") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	store, err := storage.Open(env.dbPath)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	defer store.Close()
	history, err := store.SessionHistory(context.Background())
	if err != nil || len(history) != 0 {
		t.Fatalf("expected cleared history, got %v err=%v", history, err)
	}
}

func TestAlertsCommandPrintsStreamedAlerts(t *testing.T) {
	env := newCLIEnv(t)
	env.backend.alerts = []string{
		`{"type":"keyword_alert","keyword":"지연","broadcast_id":3,"detected_at":"08:01"}`,
		`{"type":"keyword_alert","keyword":"지연","broadcast_id":3,"detected_at":"08:01"}`,
		`{"type":"heartbeat"}`,
	}

	out, errOut, err := env.run("alerts", "--for", "300ms", "6")
	if err != nil {
		t.Fatalf("alerts failed: %v", err)
	}
	if !strings.Contains(out, "Following: 6") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if got := strings.Count(errOut, "ALERT 지연 @ 08:01 (broadcast 3)"); got != 1 {
		t.Fatalf("expected exactly one alert line, got %d:\n%s", got, errOut)
	}
}

func TestRecordCommandUploadsAndReplacesSession(t *testing.T) {
	env := newCLIEnv(t)
	env.seedHistory(t, "old")
	useFakeFFmpeg(t)

	out, errOut, err := env.run("record", "--duration", "400ms", "--no-wait")
	if err != nil {
		t.Fatalf("record failed: %v\n%s", err, errOut)
	}
	for _, want := range []string{"Session: 1", "Ended: 1", "Next: 2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	env.backend.mu.Lock()
	defer env.backend.mu.Unlock()
	if len(env.backend.deleted) != 1 || env.backend.deleted[0] != "old" {
		t.Fatalf("expected stale session cleanup, got %v", env.backend.deleted)
	}
	if len(env.backend.uploads) != 1 || env.backend.uploads[0] != "1|" {
		t.Fatalf("expected one final upload without duration, got %v", env.backend.uploads)
	}
	if len(env.backend.previous) != 1 || env.backend.previous[0] != "1" {
		t.Fatalf("expected replacement linked to session 1, got %v", env.backend.previous)
	}
	carried := env.backend.keywords["2"]
	if len(carried) != 2 || carried[0].Word != "지연" || carried[1].Word != "환승" {
		t.Fatalf("expected default keywords carried to session 2, got %+v", carried)
	}
}

func TestResultsAfterRecordDefaultsToEndedSession(t *testing.T) {
	env := newCLIEnv(t)
	useFakeFFmpeg(t)

	if _, errOut, err := env.run("record", "--duration", "400ms", "--no-wait"); err != nil {
		t.Fatalf("record failed: %v\n%s", err, errOut)
	}
	env.backend.mu.Lock()
	env.backend.status["1"] = domain.SessionStatus{Status: domain.ProcessingComplete, DoneChunks: 1, TotalChunks: 1}
	env.backend.results["1"] = domain.SessionResult{Summary: "recorded session"}
	env.backend.mu.Unlock()

	out, _, err := env.run("results")
	if err != nil {
		t.Fatalf("results failed: %v", err)
	}
	if !strings.Contains(out, "Results 1") || !strings.Contains(out, "Summary: recorded session") {
		t.Fatalf("results must default to the ended session:\n%s", out)
	}

	out, _, err = env.run("status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, "Session 1") {
		t.Fatalf("status must default to the ended session:\n%s", out)
	}
}

// useFakeFFmpeg points the recorder at a script that writes a stub chunk and idles.
func useFakeFFmpeg(t *testing.T) {
	t.Helper()
	script := filepath.Join(t.TempDir(), "ffmpeg.sh")
	body := "#!/usr/bin/env bash\nout=\"${@: -1}\"\nprintf 'm4a' > \"$out\"\nexec sleep 5\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	t.Setenv("STATIONEAR_FFMPEG_COMMAND", script)
}

func TestFindKeyword(t *testing.T) {
	t.Parallel()

	id := int64(12)
	items := []domain.Keyword{{ID: &id, Text: "#Transfer"}, {Text: "지연"}}

	if got, ok := findKeyword(items, "12"); !ok || got.Text != "#Transfer" {
		t.Fatalf("expected id match, got %+v ok=%v", got, ok)
	}
	if got, ok := findKeyword(items, "transfer"); !ok || got.ID == nil {
		t.Fatalf("expected normalized text match, got %+v ok=%v", got, ok)
	}
	if got, ok := findKeyword(items, "#지연"); !ok || got.ID != nil {
		t.Fatalf("expected local keyword match, got %+v ok=%v", got, ok)
	}
	if _, ok := findKeyword(items, "13"); ok {
		t.Fatalf("unexpected match for unknown id")
	}
}
