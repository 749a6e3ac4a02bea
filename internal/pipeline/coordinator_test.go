package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/voice-satellite/internal/audio"
	"github.com/skypro1111/voice-satellite/internal/detector"
	"github.com/skypro1111/voice-satellite/internal/metrics"
	"github.com/skypro1111/voice-satellite/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeDetector activates on the frames listed in fire
type fakeDetector struct {
	id    string
	fire  map[int]bool
	err   error
	calls int
}

func (d *fakeDetector) ID() string            { return d.id }
func (d *fakeDetector) WakeWord() string      { return "phrase " + d.id }
func (d *fakeDetector) Kind() detector.Kind   { return detector.KindMicro }
func (d *fakeDetector) Stats() detector.Stats { return detector.Stats{ID: d.id} }
func (d *fakeDetector) Close() error          { return nil }

func (d *fakeDetector) ProcessFrame(frame []int16) (bool, error) {
	n := d.calls
	d.calls++
	if d.err != nil {
		return false, d.err
	}
	return d.fire[n], nil
}

type fakeSource struct {
	detectors map[string]*fakeDetector
	requests  [][]string
}

func (s *fakeSource) Detectors(ids []string) []detector.Detector {
	s.requests = append(s.requests, ids)
	var out []detector.Detector
	for _, id := range ids {
		if d, ok := s.detectors[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

type recorder struct {
	mu    sync.Mutex
	wakes []Activation
	stops int
	audio int
}

func (r *recorder) WakeDetected(a Activation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakes = append(r.wakes, a)
}

func (r *recorder) StopDetected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *recorder) SendAudio(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio++
}

type countingPoller struct {
	polls int
}

func (p *countingPoller) MaybePoll(now time.Time) bool {
	p.polls++
	return false
}

func newFrame() *audio.Frame {
	return &audio.Frame{Samples: make([]int16, 4), Data: make([]byte, 8)}
}

// fakeClock advances only when told to
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestCoordinator(state *session.State, src *fakeSource, stop detector.Detector, rec *recorder, config Config) (*Coordinator, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := NewCoordinator(config, state, src, stop, nil, rec, rec, testLogger())
	c.now = clock.now
	return c, clock
}

func TestForwardOnlyWhileStreaming(t *testing.T) {
	state := session.NewState(2*time.Second, []string{"okay_nabu"})
	src := &fakeSource{detectors: map[string]*fakeDetector{"okay_nabu": {id: "okay_nabu"}}}
	rec := &recorder{}
	c, _ := newTestCoordinator(state, src, nil, rec, Config{})

	c.ProcessFrame(newFrame())
	if rec.audio != 0 {
		t.Errorf("forwarded %d frames while idle", rec.audio)
	}

	state.SetStreaming(true)
	c.ProcessFrame(newFrame())
	c.ProcessFrame(newFrame())
	if rec.audio != 2 {
		t.Errorf("forwarded %d frames while streaming, want 2", rec.audio)
	}

	stats := c.GetStats()
	if stats.FramesProcessed != 3 || stats.FramesForwarded != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDetectionRunsWhileMuted(t *testing.T) {
	state := session.NewState(2*time.Second, []string{"okay_nabu"})
	state.SetSoftwareMute(true)
	src := &fakeSource{detectors: map[string]*fakeDetector{"okay_nabu": {id: "okay_nabu", fire: map[int]bool{0: true}}}}
	rec := &recorder{}
	c, _ := newTestCoordinator(state, src, nil, rec, Config{})

	c.ProcessFrame(newFrame())

	if len(rec.wakes) != 1 {
		t.Fatalf("wakes = %d, want 1 (muted wake must still be reported)", len(rec.wakes))
	}
	if rec.audio != 0 {
		t.Error("muted idle frame was forwarded")
	}
}

func TestRefractoryAcrossDetectors(t *testing.T) {
	state := session.NewState(2*time.Second, []string{"a", "b"})
	src := &fakeSource{detectors: map[string]*fakeDetector{
		"a": {id: "a", fire: map[int]bool{0: true}},
		"b": {id: "b", fire: map[int]bool{0: true}},
	}}
	rec := &recorder{}
	c, _ := newTestCoordinator(state, src, nil, rec, Config{})

	c.ProcessFrame(newFrame())

	if len(rec.wakes) != 1 {
		t.Errorf("wakes = %d, want 1 for two detectors in one window", len(rec.wakes))
	}
	if stats := c.GetStats(); stats.WakeRejected != 1 {
		t.Errorf("WakeRejected = %d, want 1", stats.WakeRejected)
	}
}

func TestRefractoryTimeline(t *testing.T) {
	// Activations at t=0, t=1.0 and t=2.1 with a 2s window: first and last accepted
	state := session.NewState(2*time.Second, []string{"okay_nabu"})
	src := &fakeSource{detectors: map[string]*fakeDetector{
		"okay_nabu": {id: "okay_nabu", fire: map[int]bool{0: true, 1: true, 2: true}},
	}}
	rec := &recorder{}
	c, clock := newTestCoordinator(state, src, nil, rec, Config{})
	start := clock.t

	for _, offset := range []time.Duration{0, time.Second, 2100 * time.Millisecond} {
		clock.t = start.Add(offset)
		c.ProcessFrame(newFrame())
	}

	if len(rec.wakes) != 2 {
		t.Fatalf("wakes = %d, want 2", len(rec.wakes))
	}
	if !rec.wakes[0].At.Equal(start) || !rec.wakes[1].At.Equal(start.Add(2100*time.Millisecond)) {
		t.Errorf("accepted at %v and %v", rec.wakes[0].At, rec.wakes[1].At)
	}
	if rec.wakes[0].WakeWord != "phrase okay_nabu" {
		t.Errorf("WakeWord = %q", rec.wakes[0].WakeWord)
	}
}

func TestStopOnlyWhenArmed(t *testing.T) {
	state := session.NewState(2*time.Second, nil)
	stop := &fakeDetector{id: "stop", fire: map[int]bool{0: true, 1: true}}
	rec := &recorder{}
	c, _ := newTestCoordinator(state, &fakeSource{}, stop, rec, Config{})

	c.ProcessFrame(newFrame())
	if rec.stops != 0 {
		t.Error("stop emitted while not armed")
	}

	state.SetStopArmed(true)
	c.ProcessFrame(newFrame())
	if rec.stops != 1 {
		t.Errorf("stops = %d, want 1", rec.stops)
	}

	// The stop detector is fed every frame regardless of arming
	if stop.calls != 2 {
		t.Errorf("stop detector saw %d frames, want 2", stop.calls)
	}
}

func TestStopIgnoresRefractory(t *testing.T) {
	state := session.NewState(2*time.Second, []string{"okay_nabu"})
	state.SetStopArmed(true)
	src := &fakeSource{detectors: map[string]*fakeDetector{"okay_nabu": {id: "okay_nabu", fire: map[int]bool{0: true}}}}
	stop := &fakeDetector{id: "stop", fire: map[int]bool{0: true}}
	rec := &recorder{}
	c, _ := newTestCoordinator(state, src, stop, rec, Config{})

	c.ProcessFrame(newFrame())

	if len(rec.wakes) != 1 || rec.stops != 1 {
		t.Errorf("wakes = %d, stops = %d; want 1 each", len(rec.wakes), rec.stops)
	}
}

func TestRebuildOnlyWhenChanged(t *testing.T) {
	state := session.NewState(2*time.Second, []string{"a"})
	src := &fakeSource{detectors: map[string]*fakeDetector{
		"a": {id: "a"},
		"b": {id: "b", fire: map[int]bool{0: true}},
	}}
	rec := &recorder{}
	c, _ := newTestCoordinator(state, src, nil, rec, Config{})

	c.ProcessFrame(newFrame())
	c.ProcessFrame(newFrame())
	if len(src.requests) != 1 {
		t.Fatalf("detector set built %d times, want 1", len(src.requests))
	}

	state.SetActiveWakeWords([]string{"b"})
	c.ProcessFrame(newFrame())

	if len(src.requests) != 2 {
		t.Fatalf("detector set built %d times after change, want 2", len(src.requests))
	}
	if len(rec.wakes) != 1 || rec.wakes[0].ID != "b" {
		t.Errorf("wakes = %+v, want one from b", rec.wakes)
	}
	if got := c.GetStats().ActiveDetectors; len(got) != 1 || got[0] != "b" {
		t.Errorf("ActiveDetectors = %v", got)
	}
}

func TestDetectorErrorContinues(t *testing.T) {
	state := session.NewState(2*time.Second, []string{"bad", "good"})
	src := &fakeSource{detectors: map[string]*fakeDetector{
		"bad":  {id: "bad", err: errors.New("boom")},
		"good": {id: "good", fire: map[int]bool{0: true}},
	}}
	rec := &recorder{}
	c, _ := newTestCoordinator(state, src, nil, rec, Config{})

	c.ProcessFrame(newFrame())

	if len(rec.wakes) != 1 || rec.wakes[0].ID != "good" {
		t.Errorf("wakes = %+v, want good detector to still fire", rec.wakes)
	}
	if c.GetStats().FrameErrors != 1 {
		t.Errorf("FrameErrors = %d, want 1", c.GetStats().FrameErrors)
	}
}

func TestDisableDuringTTS(t *testing.T) {
	state := session.NewState(2*time.Second, []string{"okay_nabu"})
	state.SetSpeaking(true)
	d := &fakeDetector{id: "okay_nabu", fire: map[int]bool{0: true}}
	src := &fakeSource{detectors: map[string]*fakeDetector{"okay_nabu": d}}
	rec := &recorder{}
	c, _ := newTestCoordinator(state, src, nil, rec, Config{DisableDuringTTS: true})

	c.ProcessFrame(newFrame())

	if len(rec.wakes) != 0 || d.calls != 0 {
		t.Errorf("wake detection ran during TTS: wakes=%d calls=%d", len(rec.wakes), d.calls)
	}
}

func TestMutePolledEveryFrame(t *testing.T) {
	state := session.NewState(2*time.Second, nil)
	poller := &countingPoller{}
	c := NewCoordinator(Config{}, state, &fakeSource{}, nil, poller, &recorder{}, nil, testLogger())

	for i := 0; i < 3; i++ {
		c.ProcessFrame(newFrame())
	}
	if poller.polls != 3 {
		t.Errorf("MaybePoll called %d times, want 3", poller.polls)
	}
}

func TestProcessFrameMetrics(t *testing.T) {
	state := session.NewState(2*time.Second, []string{"okay_nabu"})
	src := &fakeSource{detectors: map[string]*fakeDetector{"okay_nabu": {id: "okay_nabu", fire: map[int]bool{0: true}}}}
	rec := &recorder{}
	c, _ := newTestCoordinator(state, src, nil, rec, Config{})
	c.SetMetrics(metrics.NewMetrics(prometheus.NewRegistry()))

	c.ProcessFrame(newFrame())

	if len(rec.wakes) != 1 {
		t.Errorf("wakes = %d, want 1", len(rec.wakes))
	}
}

// scriptSource yields a fixed number of frames, then fails or blocks until stopped
type scriptSource struct {
	frames  int
	err     error
	stopped chan struct{}
	once    sync.Once
}

func (s *scriptSource) ReadFrame() (*audio.Frame, error) {
	if s.frames > 0 {
		s.frames--
		return newFrame(), nil
	}
	if s.err != nil {
		return nil, s.err
	}
	<-s.stopped
	return nil, io.EOF
}

func (s *scriptSource) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func TestRunCaptureFailure(t *testing.T) {
	state := session.NewState(2*time.Second, nil)
	c := NewCoordinator(Config{}, state, &fakeSource{}, nil, nil, &recorder{}, nil, testLogger())

	source := &scriptSource{frames: 3, err: errors.New("device gone"), stopped: make(chan struct{})}
	err := c.Run(context.Background(), source)

	if err == nil || !contains(err.Error(), "device gone") {
		t.Fatalf("Run() error = %v, want capture failure", err)
	}
	if got := c.GetStats().FramesProcessed; got != 3 {
		t.Errorf("FramesProcessed = %d, want 3", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	state := session.NewState(2*time.Second, nil)
	c := NewCoordinator(Config{}, state, &fakeSource{}, nil, nil, &recorder{}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptSource{frames: 1, stopped: make(chan struct{})}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, source) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
