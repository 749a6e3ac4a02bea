package satellite

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/voice-satellite/internal/audio/audiotest"
	"github.com/skypro1111/voice-satellite/internal/detector"
	"github.com/skypro1111/voice-satellite/internal/events"
	"github.com/skypro1111/voice-satellite/internal/mute"
	"github.com/skypro1111/voice-satellite/internal/pipeline"
	"github.com/skypro1111/voice-satellite/internal/protocol"
	"github.com/skypro1111/voice-satellite/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDetector struct {
	model detector.Model
}

func (f *fakeDetector) ID() string                         { return f.model.ID }
func (f *fakeDetector) WakeWord() string                   { return f.model.WakeWord }
func (f *fakeDetector) Kind() detector.Kind                { return f.model.Kind }
func (f *fakeDetector) ProcessFrame([]int16) (bool, error) { return false, nil }
func (f *fakeDetector) Stats() detector.Stats              { return detector.Stats{ID: f.model.ID} }
func (f *fakeDetector) Close() error                       { return nil }

type fakePrefs struct {
	mu    sync.Mutex
	names map[string]string
	saved [][]string
}

func (p *fakePrefs) SetActiveWakeWords(ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, append([]string(nil), ids...))
	return nil
}

func (p *fakePrefs) FriendlyName(id, fallback string) string {
	if name, ok := p.names[id]; ok {
		return name
	}
	return fallback
}

func (p *fakePrefs) last() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.saved) == 0 {
		return nil
	}
	return p.saved[len(p.saved)-1]
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeFetcher) FetchExternal(_ context.Context, ext *protocol.VoiceAssistantExternalWakeWord, _ string) (detector.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ext.ID)
	if f.fail[ext.ID] {
		return detector.Model{}, errors.New("HTTP error 404")
	}
	return detector.Model{ID: ext.ID, Kind: detector.KindMicro, WakeWord: ext.WakeWord}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type harness struct {
	t        *testing.T
	sat      *Satellite
	state    *session.State
	registry *detector.Registry
	tts      *audiotest.Player
	music    *audiotest.Player
	mute     *mute.Synchronizer
	mutePath string
	prefs    *fakePrefs
	fetcher  *fakeFetcher
	sub      *events.Subscription
	client   net.Conn
	msgs     chan protocol.Message
}

func newHarness(t *testing.T, tweak func(*Config)) *harness {
	t.Helper()

	catalog := &detector.Catalog{WakeWords: map[string]detector.Model{
		"okay_nabu":  {ID: "okay_nabu", Kind: detector.KindMicro, WakeWord: "Okay Nabu"},
		"hey_jarvis": {ID: "hey_jarvis", Kind: detector.KindOpenWakeWord, WakeWord: "Hey Jarvis"},
	}}
	registry := detector.NewRegistry(catalog, func(m detector.Model) (detector.Detector, error) {
		return &fakeDetector{model: m}, nil
	})
	if _, err := registry.Load("okay_nabu"); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		t:        t,
		state:    session.NewState(2*time.Second, []string{"okay_nabu"}),
		registry: registry,
		tts:      audiotest.NewPlayer(),
		music:    audiotest.NewPlayer(),
		mutePath: filepath.Join(t.TempDir(), "lvas_system_mute"),
		prefs:    &fakePrefs{names: map[string]string{"okay_nabu": "Nabu"}},
		fetcher:  &fakeFetcher{fail: map[string]bool{"bad": true}},
		msgs:     make(chan protocol.Message, 1024),
	}
	h.mute = mute.NewSynchronizer(h.mutePath, time.Second, h.state, func(muted bool) {
		h.sat.MuteChanged(muted)
	}, testLogger())

	bus := events.NewBus(256)
	h.sub = bus.Subscribe()

	cfg := Config{
		Name:               "test-satellite",
		Version:            "1.0.0",
		WakeupSound:        "wake.flac",
		TimerFinishedSound: "timer.flac",
		TimerRepeat:        10 * time.Millisecond,
		DownloadDir:        t.TempDir(),
	}
	if tweak != nil {
		tweak(&cfg)
	}

	sat, err := New(cfg, Deps{
		State:    h.state,
		Registry: registry,
		TTS:      h.tts,
		Music:    h.music,
		Mute:     h.mute,
		Prefs:    h.prefs,
		Fetcher:  h.fetcher,
		Events:   bus,
	}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.sat = sat

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sat.Run(ctx)
		close(done)
	}()

	client, server := net.Pipe()
	h.client = client
	sat.Attach(server)

	go func() {
		defer close(h.msgs)
		reader := bufio.NewReader(client)
		for {
			msg, err := protocol.ReadMessage(reader)
			if err != nil {
				return
			}
			h.msgs <- msg
		}
	}()

	t.Cleanup(func() {
		cancel()
		client.Close()
		<-done
	})

	h.sync()
	return h
}

func (h *harness) write(msgs ...protocol.Message) {
	h.t.Helper()
	for _, msg := range msgs {
		if _, err := h.client.Write(protocol.EncodeMessage(msg)); err != nil {
			h.t.Fatalf("failed to write %T: %v", msg, err)
		}
	}
}

// waitFor collects messages until match returns true, including the matching message
func (h *harness) waitFor(match func(protocol.Message) bool) []protocol.Message {
	h.t.Helper()
	var got []protocol.Message
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-h.msgs:
			if !ok {
				h.t.Fatal("hub connection closed")
			}
			got = append(got, msg)
			if match(msg) {
				return got
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for message, got %d others", len(got))
		}
	}
}

// sync returns every message sent before the loop answered a ping
func (h *harness) sync() []protocol.Message {
	h.t.Helper()
	h.write(&protocol.PingRequest{})
	got := h.waitFor(func(m protocol.Message) bool {
		_, ok := m.(*protocol.PingResponse)
		return ok
	})
	return got[:len(got)-1]
}

func (h *harness) wake(id, phrase string) {
	h.sat.WakeDetected(pipeline.Activation{ID: id, WakeWord: phrase, At: time.Now()})
}

func (h *harness) eventCount(t events.Type) int {
	n := 0
	for {
		select {
		case ev := <-h.sub.Events():
			if ev.Type == t {
				n++
			}
		default:
			return n
		}
	}
}

func ofType[T protocol.Message](msgs []protocol.Message) []T {
	var out []T
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func isType[T protocol.Message](m protocol.Message) bool {
	_, ok := m.(T)
	return ok
}

func voiceEvent(t protocol.VoiceAssistantEventType, kv ...string) *protocol.VoiceAssistantEventResponse {
	ev := &protocol.VoiceAssistantEventResponse{EventType: t}
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Data = append(ev.Data, protocol.EventData{Name: kv[i], Value: kv[i+1]})
	}
	return ev
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandshake(t *testing.T) {
	h := newHarness(t, nil)

	h.write(&protocol.HelloRequest{ClientInfo: "hub", APIVersionMajor: 1, APIVersionMinor: 10},
		&protocol.DeviceInfoRequest{},
		&protocol.ListEntitiesRequest{})
	msgs := h.sync()

	hello := ofType[*protocol.HelloResponse](msgs)
	if len(hello) != 1 || hello[0].Name != "test-satellite" || hello[0].APIVersionMinor != 10 {
		t.Fatalf("hello = %+v", hello)
	}

	info := ofType[*protocol.DeviceInfoResponse](msgs)
	if len(info) != 1 {
		t.Fatalf("device info responses = %d", len(info))
	}
	wantFlags := uint32(protocol.FeatureVoiceAssistant | protocol.FeatureAPIAudio |
		protocol.FeatureAnnounce | protocol.FeatureStartConversation | protocol.FeatureTimers)
	if info[0].VoiceAssistantFeatureFlags != wantFlags {
		t.Errorf("feature flags = %b, want %b", info[0].VoiceAssistantFeatureFlags, wantFlags)
	}

	if n := len(ofType[*protocol.ListEntitiesTextSensorResponse](msgs)); n != 3 {
		t.Errorf("text sensors = %d, want 3", n)
	}
	if n := len(ofType[*protocol.ListEntitiesButtonResponse](msgs)); n != 2 {
		t.Errorf("buttons = %d, want 2", n)
	}
	if n := len(ofType[*protocol.ListEntitiesDoneResponse](msgs)); n != 1 {
		t.Errorf("done markers = %d, want 1", n)
	}
}

func TestWakeStartsTurn(t *testing.T) {
	h := newHarness(t, nil)

	h.wake("okay_nabu", "Okay Nabu")
	msgs := h.sync()

	starts := ofType[*protocol.VoiceAssistantRequest](msgs)
	if len(starts) != 1 || !starts[0].Start {
		t.Fatalf("turn start requests = %+v", starts)
	}
	if starts[0].WakeWordPhrase != "Okay Nabu" || starts[0].ConversationID == "" {
		t.Errorf("request = %+v", starts[0])
	}

	sensors := ofType[*protocol.TextSensorStateResponse](msgs)
	if len(sensors) == 0 || sensors[0].State != "Nabu" {
		t.Errorf("assistant sensor = %+v, want friendly name", sensors)
	}

	if !h.state.Streaming() {
		t.Error("streaming not set")
	}
	if !h.music.Ducked() {
		t.Error("music not ducked")
	}
	if plays := h.tts.Plays(); len(plays) != 1 || plays[0][0] != "wake.flac" {
		t.Errorf("tts plays = %v, want wakeup chime", plays)
	}
	if got := h.sat.Status().Phase; got != "streaming" {
		t.Errorf("phase = %s", got)
	}
	if h.eventCount(events.WakeWordDetected) != 1 {
		t.Error("missing WAKE_WORD_DETECTED event")
	}
}

func TestRefractoryScenario(t *testing.T) {
	h := newHarness(t, nil)

	t0 := time.Unix(1700000000, 0)
	for _, offset := range []time.Duration{0, time.Second, 2100 * time.Millisecond} {
		now := t0.Add(offset)
		if h.state.Refractory.TryAccept(now) {
			h.sat.WakeDetected(pipeline.Activation{ID: "okay_nabu", WakeWord: "Okay Nabu", At: now})
		}
	}
	msgs := h.sync()

	starts := ofType[*protocol.VoiceAssistantRequest](msgs)
	starts = filterStarts(starts)
	if len(starts) != 2 {
		t.Fatalf("turn starts = %d, want 2", len(starts))
	}
	if starts[0].ConversationID == starts[1].ConversationID {
		t.Error("second wake reused the conversation id")
	}

	// the first turn was replaced, not left running beside the second
	if n := len(ofType[*protocol.VoiceAssistantAnnounceFinished](msgs)); n != 1 {
		t.Errorf("finished notifications = %d, want 1", n)
	}
}

func filterStarts(reqs []*protocol.VoiceAssistantRequest) []*protocol.VoiceAssistantRequest {
	var out []*protocol.VoiceAssistantRequest
	for _, r := range reqs {
		if r.Start {
			out = append(out, r)
		}
	}
	return out
}

func TestTTSPlayedOnce(t *testing.T) {
	h := newHarness(t, nil)

	h.wake("okay_nabu", "Okay Nabu")
	h.write(
		voiceEvent(protocol.EventRunStart),
		voiceEvent(protocol.EventSTTEnd, "text", "what time is it"),
		voiceEvent(protocol.EventIntentProgress, "tts_start_streaming", "1"),
		voiceEvent(protocol.EventTTSEnd, "url", "http://hub/tts.mp3"),
		voiceEvent(protocol.EventTTSEnd, "url", "http://hub/tts.mp3"),
		voiceEvent(protocol.EventRunEnd),
	)
	h.sync()

	plays := h.tts.Plays()
	if len(plays) != 2 || plays[1][0] != "http://hub/tts.mp3" {
		t.Fatalf("tts plays = %v, want chime then one response", plays)
	}
	if !h.state.StopArmed() {
		t.Error("stop not armed while responding")
	}
	if h.state.Streaming() {
		t.Error("streaming still set after STT end")
	}

	h.tts.Finish()
	h.waitFor(isType[*protocol.VoiceAssistantAnnounceFinished])
	h.sync()

	if h.state.StopArmed() {
		t.Error("stop still armed after turn finished")
	}
	if h.music.Ducked() {
		t.Error("music still ducked after turn finished")
	}
	if got := h.sat.Status().Phase; got != "idle" {
		t.Errorf("phase = %s, want idle", got)
	}
}

func TestContinuationChaining(t *testing.T) {
	h := newHarness(t, nil)

	h.wake("okay_nabu", "Okay Nabu")
	first := filterStarts(ofType[*protocol.VoiceAssistantRequest](h.sync()))

	h.write(
		voiceEvent(protocol.EventRunStart),
		voiceEvent(protocol.EventIntentEnd, "continue_conversation", "1"),
		voiceEvent(protocol.EventTTSEnd, "url", "http://hub/question.mp3"),
		voiceEvent(protocol.EventRunEnd),
	)
	h.sync()

	h.tts.Finish()
	msgs := h.waitFor(func(m protocol.Message) bool {
		r, ok := m.(*protocol.VoiceAssistantRequest)
		return ok && r.Start
	})

	if n := len(ofType[*protocol.VoiceAssistantAnnounceFinished](msgs)); n != 1 {
		t.Errorf("finished notifications = %d, want 1", n)
	}
	next := filterStarts(ofType[*protocol.VoiceAssistantRequest](msgs))
	if next[0].ConversationID != first[0].ConversationID {
		t.Errorf("continued turn conversation id = %q, want %q", next[0].ConversationID, first[0].ConversationID)
	}

	h.sync()
	plays := h.tts.Plays()
	if len(plays) != 3 || plays[2][0] != "wake.flac" {
		t.Errorf("tts plays = %v, want chime replayed", plays)
	}
	if !h.state.Streaming() || h.state.ContinueConversation() {
		t.Errorf("streaming = %v, continue = %v", h.state.Streaming(), h.state.ContinueConversation())
	}
}

func TestRunEndWithoutResponse(t *testing.T) {
	h := newHarness(t, nil)

	h.wake("okay_nabu", "Okay Nabu")
	h.write(voiceEvent(protocol.EventRunStart), voiceEvent(protocol.EventRunEnd))
	msgs := h.sync()

	if n := len(ofType[*protocol.VoiceAssistantAnnounceFinished](msgs)); n != 1 {
		t.Errorf("finished notifications = %d, want 1", n)
	}
	if h.state.Streaming() || h.music.Ducked() {
		t.Error("turn not cleaned up")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	h.wake("okay_nabu", "Okay Nabu")
	h.write(voiceEvent(protocol.EventRunStart), voiceEvent(protocol.EventTTSEnd, "url", "http://hub/long.mp3"))
	h.sync()

	h.sat.StopDetected()
	if err := h.sat.Stop(); err != nil {
		t.Fatal(err)
	}
	msgs := h.sync()

	if n := len(ofType[*protocol.VoiceAssistantAnnounceFinished](msgs)); n != 1 {
		t.Errorf("finished notifications = %d, want 1", n)
	}
	if h.state.StopArmed() || h.state.Speaking() {
		t.Error("stop left the response armed or speaking")
	}
	if stops, _, _ := h.tts.Counts(); stops < 1 {
		t.Error("tts player was not stopped")
	}

	// the stale completion of the stopped response must not finish anything
	h.tts.Finish()
	if n := len(ofType[*protocol.VoiceAssistantAnnounceFinished](h.sync())); n != 0 {
		t.Errorf("stale completion produced %d finished notifications", n)
	}
}

func TestTimerLoop(t *testing.T) {
	h := newHarness(t, nil)

	finished := &protocol.VoiceAssistantTimerEventResponse{EventType: protocol.TimerFinished, TimerID: "t1", Name: "pasta"}
	h.write(finished, finished)
	h.sync()

	if !h.state.TimerFinished() || !h.state.StopArmed() || !h.music.Ducked() {
		t.Fatal("timer finished did not arm stop and duck")
	}
	if h.tts.PlayCount() != 1 {
		t.Fatalf("timer plays = %d, want 1 for duplicate events", h.tts.PlayCount())
	}

	h.tts.Finish()
	eventually(t, func() bool { return h.tts.PlayCount() == 2 }, "timer repeat")
	h.tts.Finish()
	eventually(t, func() bool { return h.tts.PlayCount() == 3 }, "second timer repeat")

	h.sat.StopDetected()
	h.sync()

	if h.state.TimerFinished() || h.state.StopArmed() {
		t.Error("stop did not silence the timer")
	}
	if h.music.Ducked() {
		t.Error("music still ducked after timer stopped")
	}

	count := h.tts.PlayCount()
	time.Sleep(50 * time.Millisecond)
	if h.tts.PlayCount() != count {
		t.Error("timer kept repeating after stop")
	}
	if n := len(ofType[*protocol.VoiceAssistantAnnounceFinished](h.sync())); n != 0 {
		t.Errorf("timer stop sent %d finished notifications", n)
	}
}

func TestWakeStopsFinishedTimer(t *testing.T) {
	h := newHarness(t, nil)

	h.write(&protocol.VoiceAssistantTimerEventResponse{EventType: protocol.TimerFinished})
	h.sync()

	h.wake("okay_nabu", "Okay Nabu")
	msgs := h.sync()

	if h.state.TimerFinished() {
		t.Error("timer still ringing")
	}
	if n := len(ofType[*protocol.VoiceAssistantRequest](msgs)); n != 0 {
		t.Errorf("wake started %d turns while stopping timer", n)
	}
}

func TestTimerFinishedDuringResponse(t *testing.T) {
	h := newHarness(t, nil)

	h.wake("okay_nabu", "Okay Nabu")
	h.write(
		voiceEvent(protocol.EventRunStart),
		voiceEvent(protocol.EventTTSEnd, "url", "http://hub/tts.mp3"),
		voiceEvent(protocol.EventRunEnd),
	)
	h.sync()
	if got := h.sat.Status().Phase; got != "responding" {
		t.Fatalf("phase = %s, want responding", got)
	}

	h.write(&protocol.VoiceAssistantTimerEventResponse{EventType: protocol.TimerFinished, TimerID: "t1"})
	msgs := h.sync()

	if n := len(ofType[*protocol.VoiceAssistantAnnounceFinished](msgs)); n != 1 {
		t.Errorf("finished notifications = %d, want 1 for the interrupted turn", n)
	}
	if got := h.sat.Status().Phase; got != "idle" {
		t.Errorf("phase = %s, want idle", got)
	}
	plays := h.tts.Plays()
	if last := plays[len(plays)-1]; last[0] != "timer.flac" {
		t.Errorf("last play = %v, want timer sound", last)
	}
	if !h.state.TimerFinished() || !h.state.StopArmed() || !h.music.Ducked() {
		t.Fatal("timer not ringing after interrupting the turn")
	}

	if err := h.sat.Stop(); err != nil {
		t.Fatal(err)
	}
	h.sync()

	if h.state.TimerFinished() || h.state.StopArmed() {
		t.Error("stop left the timer ringing or stop armed")
	}
	if h.music.Ducked() {
		t.Error("music still ducked after timer stopped")
	}
	if got := h.sat.Status().Phase; got != "idle" {
		t.Errorf("phase = %s, want idle", got)
	}

	h.tts.Finish()
	if n := len(ofType[*protocol.VoiceAssistantAnnounceFinished](h.sync())); n != 0 {
		t.Errorf("stale completion produced %d finished notifications", n)
	}
}

func TestWakeReplacesActiveTurn(t *testing.T) {
	h := newHarness(t, nil)

	h.wake("okay_nabu", "Okay Nabu")
	first := filterStarts(ofType[*protocol.VoiceAssistantRequest](h.sync()))

	h.wake("okay_nabu", "Okay Nabu")
	msgs := h.sync()

	if n := len(ofType[*protocol.VoiceAssistantAnnounceFinished](msgs)); n != 1 {
		t.Errorf("finished notifications = %d, want 1", n)
	}
	next := filterStarts(ofType[*protocol.VoiceAssistantRequest](msgs))
	if len(first) != 1 || len(next) != 1 {
		t.Fatalf("turn starts = %d then %d, want 1 each", len(first), len(next))
	}
	if next[0].ConversationID == first[0].ConversationID {
		t.Error("replacement turn reused the conversation id")
	}
	if n := h.music.Unducks(); n != 0 {
		t.Errorf("music unducked %d times between turns", n)
	}
	if !h.music.Ducked() || !h.state.Streaming() {
		t.Error("replacement turn is not ducked and streaming")
	}
}

func TestAnnounceWithConversation(t *testing.T) {
	h := newHarness(t, nil)
	h.music.SetPlaying(true)

	h.write(&protocol.VoiceAssistantAnnounceRequest{
		MediaID:            "http://hub/announce.mp3",
		PreannounceMediaID: "http://hub/chime.mp3",
		Text:               "Dinner is ready",
		StartConversation:  true,
	})
	msgs := h.sync()

	plays := h.tts.Plays()
	if len(plays) != 1 || !reflect.DeepEqual(plays[0], []string{"http://hub/chime.mp3", "http://hub/announce.mp3"}) {
		t.Fatalf("announcement plays = %v", plays)
	}
	if _, pauses, _ := h.music.Counts(); pauses != 1 {
		t.Errorf("music pauses = %d, want 1", pauses)
	}
	states := ofType[*protocol.MediaPlayerStateResponse](msgs)
	if len(states) != 1 || states[0].State != protocol.MediaPlayerStatePlaying {
		t.Errorf("media player states = %+v", states)
	}
	if !h.state.StopArmed() || !h.state.ContinueConversation() {
		t.Error("announcement did not arm stop and conversation")
	}

	h.tts.Finish()
	msgs = h.waitFor(func(m protocol.Message) bool {
		r, ok := m.(*protocol.VoiceAssistantRequest)
		return ok && r.Start
	})

	if n := len(ofType[*protocol.VoiceAssistantAnnounceFinished](msgs)); n != 1 {
		t.Errorf("finished notifications = %d, want 1", n)
	}
	if _, _, resumes := h.music.Counts(); resumes != 1 {
		t.Errorf("music resumes = %d, want 1", resumes)
	}
}

func TestConfigurationResponse(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxActiveWakeWords = 3 })

	h.write(&protocol.VoiceAssistantConfigurationRequest{ExternalWakeWords: []protocol.VoiceAssistantExternalWakeWord{
		{ID: "ext", WakeWord: "Computer", ModelType: "micro"},
		{ID: "okay_nabu", WakeWord: "Okay Nabu", ModelType: "micro"},
		{ID: "oww", WakeWord: "Alexa", ModelType: "openWakeWord"},
	}})
	msgs := h.sync()

	resp := ofType[*protocol.VoiceAssistantConfigurationResponse](msgs)
	if len(resp) != 1 {
		t.Fatalf("configuration responses = %d", len(resp))
	}

	var ids []string
	for _, w := range resp[0].AvailableWakeWords {
		ids = append(ids, w.ID)
	}
	want := []string{"hey_jarvis", "okay_nabu", "ext"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("available = %v, want %v", ids, want)
	}
	if !reflect.DeepEqual(resp[0].ActiveWakeWords, []string{"okay_nabu"}) {
		t.Errorf("active = %v", resp[0].ActiveWakeWords)
	}
	if resp[0].MaxActiveWakeWords != 3 {
		t.Errorf("max active = %d", resp[0].MaxActiveWakeWords)
	}
}

func TestSetConfiguration(t *testing.T) {
	h := newHarness(t, nil)

	h.write(&protocol.VoiceAssistantConfigurationRequest{ExternalWakeWords: []protocol.VoiceAssistantExternalWakeWord{
		{ID: "ext", WakeWord: "Computer", ModelType: "micro"},
		{ID: "bad", WakeWord: "Broken", ModelType: "micro"},
	}})
	h.sync()

	tests := []struct {
		name      string
		requested []string
		want      []string
		fetches   []string
	}{
		{
			name:      "one new wake word per request, loaded ones kept",
			requested: []string{"hey_jarvis", "ext", "okay_nabu"},
			want:      []string{"hey_jarvis", "okay_nabu"},
		},
		{
			name:      "unknown id skipped, external fetched",
			requested: []string{"bogus", "ext"},
			want:      []string{"ext"},
			fetches:   []string{"ext"},
		},
		{
			name:      "failed fetch abandons only that id",
			requested: []string{"bad", "okay_nabu"},
			want:      []string{"okay_nabu"},
			fetches:   []string{"ext", "bad"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.write(&protocol.VoiceAssistantSetConfiguration{ActiveWakeWords: tt.requested})
			eventually(t, func() bool {
				return reflect.DeepEqual(h.state.ActiveWakeWords(), tt.want)
			}, "active wake words")

			eventually(t, func() bool {
				return sortedEqual(h.prefs.last(), tt.want)
			}, "saved preferences")

			if got := h.fetcher.Calls(); !reflect.DeepEqual(got, tt.fetches) {
				t.Errorf("fetches = %v, want %v", got, tt.fetches)
			}
		})
	}
}

func sortedEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int)
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func TestMuteConvergence(t *testing.T) {
	h := newHarness(t, nil)
	h.eventCount(events.Muted)

	if err := mute.Write(h.mutePath, true); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	h.mute.MaybePoll(now)
	h.mute.MaybePoll(now.Add(100 * time.Millisecond))
	h.mute.MaybePoll(now.Add(1100 * time.Millisecond))
	msgs := h.sync()

	if !h.state.SoftwareMute() {
		t.Fatal("external mute not reflected")
	}
	switches := ofType[*protocol.SwitchStateResponse](msgs)
	if len(switches) != 1 || !switches[0].State {
		t.Errorf("switch states = %+v, want one muted update", switches)
	}
	if n := h.eventCount(events.Muted); n != 1 {
		t.Errorf("MUTED events = %d, want 1", n)
	}
}

func TestHubMuteSwitchPersists(t *testing.T) {
	h := newHarness(t, nil)

	h.write(&protocol.SwitchCommandRequest{Key: h.sat.muteSwitch.Key(), State: true})
	msgs := h.sync()

	muted, err := mute.Read(h.mutePath)
	if err != nil || !muted {
		t.Fatalf("shared flag = %v, %v", muted, err)
	}
	if switches := ofType[*protocol.SwitchStateResponse](msgs); len(switches) != 1 || !switches[0].State {
		t.Errorf("switch states = %+v", switches)
	}
}

func TestWakeWhileMuted(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.mute.Set(true); err != nil {
		t.Fatal(err)
	}

	h.wake("okay_nabu", "Okay Nabu")
	msgs := h.sync()

	if n := len(ofType[*protocol.VoiceAssistantRequest](msgs)); n != 0 {
		t.Errorf("muted wake started %d turns", n)
	}
	if h.eventCount(events.WakeWordMuted) != 1 {
		t.Error("missing WAKE_WORD_MUTED event")
	}
}

func TestManualListenRestoresMute(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.mute.Set(true); err != nil {
		t.Fatal(err)
	}

	if err := h.sat.Listen(); err != nil {
		t.Fatal(err)
	}
	msgs := h.sync()

	if h.state.SoftwareMute() || !h.state.RestoreMuteAfterTurn() {
		t.Fatal("manual listen did not unmute transiently")
	}
	if n := len(filterStarts(ofType[*protocol.VoiceAssistantRequest](msgs))); n != 1 {
		t.Errorf("turn starts = %d, want 1", n)
	}

	h.write(voiceEvent(protocol.EventRunStart), voiceEvent(protocol.EventRunEnd))
	msgs = h.sync()

	if !h.state.SoftwareMute() || h.state.RestoreMuteAfterTurn() {
		t.Error("mute not restored after turn")
	}
	switches := ofType[*protocol.SwitchStateResponse](msgs)
	if len(switches) != 1 || !switches[0].State {
		t.Errorf("switch states after turn = %+v", switches)
	}
	if muted, _ := mute.Read(h.mutePath); !muted {
		t.Error("shared flag not restored")
	}
}

// pollFirstMute lets the shared flag poll observe the write before Set swaps the state
type pollFirstMute struct {
	inner *mute.Synchronizer
	path  string
}

func (m *pollFirstMute) Set(muted bool) (bool, error) {
	if err := mute.Write(m.path, muted); err != nil {
		return false, err
	}
	m.inner.Poll()
	return m.inner.Set(muted)
}

func TestManualListenRestoresMuteWhenPollWins(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.mute.Set(true); err != nil {
		t.Fatal(err)
	}
	h.sat.mute = &pollFirstMute{inner: h.mute, path: h.mutePath}

	if err := h.sat.Listen(); err != nil {
		t.Fatal(err)
	}
	h.sync()

	if h.state.SoftwareMute() || !h.state.RestoreMuteAfterTurn() {
		t.Fatal("manual listen did not record the mute to restore")
	}

	h.write(voiceEvent(protocol.EventRunStart), voiceEvent(protocol.EventRunEnd))
	h.sync()

	if !h.state.SoftwareMute() {
		t.Error("mute not restored after turn")
	}
	if muted, _ := mute.Read(h.mutePath); !muted {
		t.Error("shared flag not restored")
	}
}

func TestSendAudioOnlyWhileStreaming(t *testing.T) {
	h := newHarness(t, nil)

	h.sat.SendAudio([]byte{1, 2, 3, 4})
	if n := len(ofType[*protocol.VoiceAssistantAudio](h.sync())); n != 0 {
		t.Errorf("audio sent while idle: %d", n)
	}

	h.wake("okay_nabu", "Okay Nabu")
	h.sync()
	h.sat.SendAudio([]byte{1, 2, 3, 4})
	audio := ofType[*protocol.VoiceAssistantAudio](h.sync())
	if len(audio) != 1 || len(audio[0].Data) != 4 {
		t.Errorf("audio messages = %+v", audio)
	}
}

func TestDisconnectEndsTurn(t *testing.T) {
	h := newHarness(t, nil)

	h.wake("okay_nabu", "Okay Nabu")
	h.sync()
	h.client.Close()

	eventually(t, func() bool {
		st := h.sat.Status()
		return !st.Connected && st.Phase == "idle"
	}, "disconnect cleanup")

	if h.state.Streaming() || h.state.ContinueConversation() {
		t.Error("turn state left behind after disconnect")
	}
}
