package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAppendFormat(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "lvas_log"))
	log.now = func() time.Time { return time.Date(2024, 5, 1, 13, 45, 7, 0, time.Local) }

	if err := log.Append("User: turn on the lights"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := log.Append("Nabu: Done"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	data, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatal(err)
	}
	want := "[2024_05_01 13:45:07] -- User: turn on the lights\n[2024_05_01 13:45:07] -- Nabu: Done\n"
	if string(data) != want {
		t.Errorf("log contents = %q, want %q", data, want)
	}
}

func TestTail(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "lvas_log"))

	if lines, err := log.Tail(10); err != nil || len(lines) != 0 {
		t.Errorf("Tail() on missing file = %v, %v", lines, err)
	}

	for i := 0; i < 150; i++ {
		if err := log.Append(fmt.Sprintf("line %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	lines, err := log.Tail(100)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(lines) != 100 {
		t.Fatalf("Tail() returned %d lines, want 100", len(lines))
	}
	if !strings.HasSuffix(lines[0], "-- line 50\n") || !strings.HasSuffix(lines[99], "-- line 149\n") {
		t.Errorf("Tail() window = %q .. %q", lines[0], lines[99])
	}
}

func TestSyncPostsHistory(t *testing.T) {
	var gotAuth, gotPath string
	var payload statePayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	log := NewLog(filepath.Join(t.TempDir(), "lvas_log"))
	log.Append("User: hello")

	syncer := NewSyncer(log, SyncConfig{BaseURL: server.URL + "/", Token: "tok"}, testLogger())
	if err := syncer.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/api/states/"+DefaultEntity {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.HasPrefix(payload.State, "Updated ") || !strings.Contains(payload.Attributes["history"], "User: hello") {
		t.Errorf("payload = %+v", payload)
	}
	if stats := syncer.GetStats(); stats.Successes != 1 || !stats.Enabled {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSyncFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	log := NewLog(filepath.Join(t.TempDir(), "lvas_log"))
	log.Append("User: hello")

	syncer := NewSyncer(log, SyncConfig{BaseURL: server.URL, Token: "bad", Entity: "input_text.x"}, testLogger())
	err := syncer.Sync(context.Background())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("Sync() error = %v, want 401", err)
	}
	if stats := syncer.GetStats(); stats.Failures != 1 || stats.LastError == "" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSyncDisabled(t *testing.T) {
	syncer := NewSyncer(NewLog(filepath.Join(t.TempDir(), "lvas_log")), SyncConfig{BaseURL: "http://ha"}, testLogger())

	if syncer.Enabled() {
		t.Error("Enabled() = true without token")
	}
	if err := syncer.Sync(context.Background()); err != nil {
		t.Errorf("disabled Sync() error = %v", err)
	}
	if syncer.GetStats().Attempts != 0 {
		t.Error("disabled sync counted an attempt")
	}
}
