package entity

import (
	"github.com/skypro1111/voice-satellite/internal/protocol"
)

// MaxTextLength is the longest text sensor value the hub accepts
const MaxTextLength = 250

// Entity is a hub-visible entity
type Entity interface {
	Key() uint32
	ObjectID() string
	// Describe returns the list-entities response
	Describe() protocol.Message
	// StateMessage returns the current state, or nil for stateless entities
	StateMessage() protocol.Message
}

// MediaPlayer is the satellite's media player
type MediaPlayer struct {
	info   protocol.EntityInfo
	state  protocol.MediaPlayerState
	volume float32
	muted  bool
}

func (m *MediaPlayer) Key() uint32      { return m.info.Key }
func (m *MediaPlayer) ObjectID() string { return m.info.ObjectID }

func (m *MediaPlayer) Describe() protocol.Message {
	return &protocol.ListEntitiesMediaPlayerResponse{EntityInfo: m.info, SupportsPause: true}
}

func (m *MediaPlayer) StateMessage() protocol.Message {
	return &protocol.MediaPlayerStateResponse{
		Key:    m.info.Key,
		State:  m.state,
		Volume: m.volume,
		Muted:  m.muted,
	}
}

// SetState updates the player state and returns the state message
func (m *MediaPlayer) SetState(state protocol.MediaPlayerState) protocol.Message {
	m.state = state
	return m.StateMessage()
}

// State returns the current player state
func (m *MediaPlayer) State() protocol.MediaPlayerState {
	return m.state
}

// SetVolume stores the volume in [0, 1] and returns the state message
func (m *MediaPlayer) SetVolume(volume float32) protocol.Message {
	if volume < 0 {
		volume = 0
	} else if volume > 1 {
		volume = 1
	}
	m.volume = volume
	return m.StateMessage()
}

// Volume returns the volume in [0, 1]
func (m *MediaPlayer) Volume() float32 {
	return m.volume
}

// SetMuted stores the mute state and returns the state message
func (m *MediaPlayer) SetMuted(muted bool) protocol.Message {
	m.muted = muted
	return m.StateMessage()
}

// TextSensor publishes a short text value
type TextSensor struct {
	info protocol.EntityInfo
	text string
}

func (t *TextSensor) Key() uint32      { return t.info.Key }
func (t *TextSensor) ObjectID() string { return t.info.ObjectID }

func (t *TextSensor) Describe() protocol.Message {
	return &protocol.ListEntitiesTextSensorResponse{EntityInfo: t.info}
}

func (t *TextSensor) StateMessage() protocol.Message {
	return &protocol.TextSensorStateResponse{Key: t.info.Key, State: t.text}
}

// Update sets the text, truncating it to MaxTextLength, and returns the state message
func (t *TextSensor) Update(text string) protocol.Message {
	t.text = Truncate(text)
	return t.StateMessage()
}

// Text returns the current text
func (t *TextSensor) Text() string {
	return t.text
}

// Truncate shortens text longer than MaxTextLength to 247 characters plus "..."
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxTextLength {
		return text
	}
	return string(runes[:MaxTextLength-3]) + "..."
}

// Switch is a boolean entity controlled by the hub
type Switch struct {
	info  protocol.EntityInfo
	state bool
}

func (s *Switch) Key() uint32      { return s.info.Key }
func (s *Switch) ObjectID() string { return s.info.ObjectID }

func (s *Switch) Describe() protocol.Message {
	return &protocol.ListEntitiesSwitchResponse{EntityInfo: s.info}
}

func (s *Switch) StateMessage() protocol.Message {
	return &protocol.SwitchStateResponse{Key: s.info.Key, State: s.state}
}

// SetState updates the switch and returns the state message
func (s *Switch) SetState(state bool) protocol.Message {
	s.state = state
	return s.StateMessage()
}

// State returns the switch position
func (s *Switch) State() bool {
	return s.state
}

// Button is a stateless pressable entity
type Button struct {
	info protocol.EntityInfo
}

func (b *Button) Key() uint32      { return b.info.Key }
func (b *Button) ObjectID() string { return b.info.ObjectID }

func (b *Button) Describe() protocol.Message {
	return &protocol.ListEntitiesButtonResponse{EntityInfo: b.info}
}

func (b *Button) StateMessage() protocol.Message { return nil }
