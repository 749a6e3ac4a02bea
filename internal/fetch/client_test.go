package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skypro1111/voice-satellite/internal/detector"
	"github.com/skypro1111/voice-satellite/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestDownloadVerifies(t *testing.T) {
	body := []byte("model-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()

	client := NewClient(Config{Timeout: 5 * time.Second, MaxRetries: 0}, testLogger())
	dir := t.TempDir()

	tests := []struct {
		name    string
		size    int64
		hash    string
		wantErr error
	}{
		{"no checks", 0, "", nil},
		{"matching size and hash", int64(len(body)), sha(body), nil},
		{"uppercase hash", int64(len(body)), strings.ToUpper(sha(body)), nil},
		{"wrong size", 3, "", ErrSizeMismatch},
		{"wrong hash", 0, sha([]byte("other")), ErrHashMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := filepath.Join(dir, tt.name+".bin")
			err := client.Download(context.Background(), server.URL+"/x", dest, tt.size, tt.hash)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Download() error = %v, want %v", err, tt.wantErr)
				}
				if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
					t.Error("failed download should not leave a file behind")
				}
				return
			}

			if err != nil {
				t.Fatalf("Download() error = %v", err)
			}
			data, err := os.ReadFile(dest)
			if err != nil {
				t.Fatalf("failed to read download: %v", err)
			}
			if string(data) != string(body) {
				t.Errorf("downloaded %q, want %q", data, body)
			}
		})
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name()[0] == '.' {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestDownloadStatusErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(Config{Timeout: 5 * time.Second, MaxRetries: 2}, testLogger())
	err := client.Download(context.Background(), server.URL, filepath.Join(t.TempDir(), "f"), 0, "")

	if !errors.Is(err, ErrHTTPStatus) {
		t.Fatalf("Download() error = %v, want ErrHTTPStatus", err)
	}
	if hits.Load() != 1 {
		t.Errorf("404 was retried: %d requests", hits.Load())
	}

	stats := client.GetStats()
	if stats.FailedRequests != 1 || stats.TotalRetries != 0 {
		t.Errorf("stats = %+v, want 1 failure and no retries", stats)
	}
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient(Config{Timeout: 5 * time.Second, MaxRetries: 1}, testLogger())
	if err := client.Download(context.Background(), server.URL, filepath.Join(t.TempDir(), "f"), 2, ""); err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	stats := client.GetStats()
	if stats.SuccessRequests != 1 || stats.TotalRetries != 1 || stats.BytesDownloaded != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestModelURL(t *testing.T) {
	tests := []struct {
		in   string
		id   string
		want string
	}{
		{"https://host/models/hey_jarvis.json", "hey_jarvis", "https://host/models/hey_jarvis.tflite"},
		{"http://host:8123/a/b/c.json?x=1", "okay", "http://host:8123/a/b/okay.tflite?x=1"},
	}

	for _, tt := range tests {
		got, err := ModelURL(tt.in, tt.id)
		if err != nil {
			t.Fatalf("ModelURL(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ModelURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFetchExternal(t *testing.T) {
	model := []byte("tflite-model-data")
	config := []byte(`{"type": "micro", "wake_word": "Hey Jarvis", "model": "hey_jarvis.tflite", "micro": {"probability_cutoff": 0.9, "sliding_window_size": 4}}`)

	var configHits, modelHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/models/hey_jarvis.json", func(w http.ResponseWriter, r *http.Request) {
		configHits.Add(1)
		w.Write(config)
	})
	mux.HandleFunc("/models/hey_jarvis.tflite", func(w http.ResponseWriter, r *http.Request) {
		modelHits.Add(1)
		w.Write(model)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ext := &protocol.VoiceAssistantExternalWakeWord{
		ID:               "hey_jarvis",
		WakeWord:         "Hey Jarvis",
		TrainedLanguages: []string{"en"},
		ModelType:        "micro",
		ModelSize:        uint32(len(model)),
		ModelHash:        sha(model),
		URL:              server.URL + "/models/hey_jarvis.json",
	}

	client := NewClient(Config{Timeout: 5 * time.Second}, testLogger())
	dir := t.TempDir()

	got, err := client.FetchExternal(context.Background(), ext, dir)
	if err != nil {
		t.Fatalf("FetchExternal() error = %v", err)
	}

	if got.ID != "hey_jarvis" || got.Kind != detector.KindMicro || got.WakeWord != "Hey Jarvis" {
		t.Errorf("model = %+v", got)
	}
	if got.ModelPath != filepath.Join(dir, ExternalDir, "hey_jarvis.tflite") {
		t.Errorf("ModelPath = %s", got.ModelPath)
	}
	if got.ProbabilityCutoff != 0.9 || got.SlidingWindowSize != 4 {
		t.Errorf("micro parameters = %v/%d", got.ProbabilityCutoff, got.SlidingWindowSize)
	}

	// Second fetch reuses both files
	if _, err := client.FetchExternal(context.Background(), ext, dir); err != nil {
		t.Fatalf("second FetchExternal() error = %v", err)
	}
	if configHits.Load() != 1 || modelHits.Load() != 1 {
		t.Errorf("requests = config %d, model %d, want 1 each", configHits.Load(), modelHits.Load())
	}

	// A stale model forces both downloads again
	if err := os.WriteFile(got.ModelPath, []byte("corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := client.FetchExternal(context.Background(), ext, dir); err != nil {
		t.Fatalf("third FetchExternal() error = %v", err)
	}
	if configHits.Load() != 2 || modelHits.Load() != 2 {
		t.Errorf("requests = config %d, model %d, want 2 each", configHits.Load(), modelHits.Load())
	}
}

func TestFetchExternalRejectsUnknownType(t *testing.T) {
	client := NewClient(Config{}, testLogger())
	ext := &protocol.VoiceAssistantExternalWakeWord{ID: "x", ModelType: "openWakeWord", URL: "http://invalid/x.json"}

	_, err := client.FetchExternal(context.Background(), ext, t.TempDir())
	if !errors.Is(err, ErrUnsupportedModelType) {
		t.Errorf("FetchExternal() error = %v, want ErrUnsupportedModelType", err)
	}
}

func TestVerifyFile(t *testing.T) {
	data := []byte("cached-model")
	path := filepath.Join(t.TempDir(), "model.tflite")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		size    int64
		hash    string
		wantErr error
	}{
		{name: "match", size: int64(len(data)), hash: sha(data)},
		{name: "size differs", size: int64(len(data)) + 1, hash: sha(data), wantErr: ErrSizeMismatch},
		{name: "hash differs", size: int64(len(data)), hash: sha([]byte("cached-modeX")), wantErr: ErrHashMismatch},
		{name: "no size", size: 0, hash: sha(data), wantErr: ErrUnverifiable},
		{name: "no hash", size: int64(len(data)), hash: "", wantErr: ErrUnverifiable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyFile(path, tt.size, tt.hash)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("VerifyFile() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyFile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFetchExternalCacheCheck(t *testing.T) {
	model := []byte("tflite-model-data")
	config := []byte(`{"type": "micro", "wake_word": "Hey Jarvis", "model": "hey_jarvis.tflite", "micro": {"probability_cutoff": 0.9, "sliding_window_size": 4}}`)

	tests := []struct {
		name     string
		cached   []byte
		size     uint32
		hash     string
		wantHits int32
		wantErr  error
	}{
		{
			name:     "size and hash match",
			cached:   model,
			size:     uint32(len(model)),
			hash:     sha(model),
			wantHits: 0,
		},
		{
			name:     "same size different hash",
			cached:   []byte("tflite-model-datX"),
			size:     uint32(len(model)),
			hash:     sha(model),
			wantHits: 1,
		},
		{
			name:     "size differs",
			cached:   model,
			size:     uint32(len(model)) + 1,
			hash:     sha(model),
			wantHits: 1,
			wantErr:  ErrSizeMismatch,
		},
		{
			name:     "descriptor without size",
			cached:   []byte("stale"),
			size:     0,
			hash:     sha(model),
			wantHits: 1,
		},
		{
			name:     "descriptor without hash",
			cached:   []byte("tflite-model-datX"),
			size:     uint32(len(model)),
			hash:     "",
			wantHits: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var modelHits atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("/models/hey_jarvis.json", func(w http.ResponseWriter, r *http.Request) {
				w.Write(config)
			})
			mux.HandleFunc("/models/hey_jarvis.tflite", func(w http.ResponseWriter, r *http.Request) {
				modelHits.Add(1)
				w.Write(model)
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			dir := t.TempDir()
			extDir := filepath.Join(dir, ExternalDir)
			if err := os.MkdirAll(extDir, 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(extDir, "hey_jarvis.json"), config, 0o644); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(extDir, "hey_jarvis.tflite"), tt.cached, 0o644); err != nil {
				t.Fatal(err)
			}

			ext := &protocol.VoiceAssistantExternalWakeWord{
				ID:        "hey_jarvis",
				WakeWord:  "Hey Jarvis",
				ModelType: "micro",
				ModelSize: tt.size,
				ModelHash: tt.hash,
				URL:       server.URL + "/models/hey_jarvis.json",
			}

			client := NewClient(Config{Timeout: 5 * time.Second}, testLogger())
			_, err := client.FetchExternal(context.Background(), ext, dir)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("FetchExternal() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("FetchExternal() error = %v", err)
			}

			if got := modelHits.Load(); got != tt.wantHits {
				t.Errorf("model requests = %d, want %d", got, tt.wantHits)
			}
		})
	}
}
