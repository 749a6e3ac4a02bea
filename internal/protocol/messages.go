package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message type identifiers
const (
	TypeHelloRequest                        = 1
	TypeHelloResponse                       = 2
	TypeConnectRequest                      = 3
	TypeConnectResponse                     = 4
	TypeDisconnectRequest                   = 5
	TypeDisconnectResponse                  = 6
	TypePingRequest                         = 7
	TypePingResponse                        = 8
	TypeDeviceInfoRequest                   = 9
	TypeDeviceInfoResponse                  = 10
	TypeListEntitiesRequest                 = 11
	TypeListEntitiesSwitchResponse          = 17
	TypeListEntitiesTextSensorResponse      = 18
	TypeListEntitiesDoneResponse            = 19
	TypeSubscribeStatesRequest              = 20
	TypeSwitchStateResponse                 = 26
	TypeTextSensorStateResponse             = 27
	TypeSwitchCommandRequest                = 33
	TypeSubscribeHomeAssistantStatesRequest = 38
	TypeListEntitiesButtonResponse          = 61
	TypeButtonCommandRequest                = 62
	TypeListEntitiesMediaPlayerResponse     = 63
	TypeMediaPlayerStateResponse            = 64
	TypeMediaPlayerCommandRequest           = 65
	TypeSubscribeVoiceAssistantRequest      = 89
	TypeVoiceAssistantRequest               = 90
	TypeVoiceAssistantResponse              = 91
	TypeVoiceAssistantEventResponse         = 92
	TypeVoiceAssistantAudio                 = 106
	TypeVoiceAssistantTimerEventResponse    = 115
	TypeVoiceAssistantAnnounceRequest       = 119
	TypeVoiceAssistantAnnounceFinished      = 120
	TypeVoiceAssistantConfigurationRequest  = 121
	TypeVoiceAssistantConfigurationResponse = 122
	TypeVoiceAssistantSetConfiguration      = 123
)

// API version reported in HelloResponse
const (
	APIVersionMajor = 1
	APIVersionMinor = 10
)

// Voice assistant feature flags reported in DeviceInfoResponse
const (
	FeatureVoiceAssistant    = 1 << 0
	FeatureSpeaker           = 1 << 1
	FeatureAPIAudio          = 1 << 2
	FeatureTimers            = 1 << 3
	FeatureAnnounce          = 1 << 4
	FeatureStartConversation = 1 << 5
)

// VoiceAssistantEventType enumerates pipeline events sent by the hub
type VoiceAssistantEventType uint32

const (
	EventError          VoiceAssistantEventType = 0
	EventRunStart       VoiceAssistantEventType = 1
	EventRunEnd         VoiceAssistantEventType = 2
	EventSTTStart       VoiceAssistantEventType = 3
	EventSTTEnd         VoiceAssistantEventType = 4
	EventIntentStart    VoiceAssistantEventType = 5
	EventIntentEnd      VoiceAssistantEventType = 6
	EventTTSStart       VoiceAssistantEventType = 7
	EventTTSEnd         VoiceAssistantEventType = 8
	EventWakeWordStart  VoiceAssistantEventType = 9
	EventWakeWordEnd    VoiceAssistantEventType = 10
	EventSTTVADStart    VoiceAssistantEventType = 11
	EventSTTVADEnd      VoiceAssistantEventType = 12
	EventTTSStreamStart VoiceAssistantEventType = 98
	EventTTSStreamEnd   VoiceAssistantEventType = 99
	EventIntentProgress VoiceAssistantEventType = 100
)

// String returns a human-readable event name
func (t VoiceAssistantEventType) String() string {
	switch t {
	case EventError:
		return "ERROR"
	case EventRunStart:
		return "RUN_START"
	case EventRunEnd:
		return "RUN_END"
	case EventSTTStart:
		return "STT_START"
	case EventSTTEnd:
		return "STT_END"
	case EventIntentStart:
		return "INTENT_START"
	case EventIntentEnd:
		return "INTENT_END"
	case EventTTSStart:
		return "TTS_START"
	case EventTTSEnd:
		return "TTS_END"
	case EventWakeWordStart:
		return "WAKE_WORD_START"
	case EventWakeWordEnd:
		return "WAKE_WORD_END"
	case EventSTTVADStart:
		return "STT_VAD_START"
	case EventSTTVADEnd:
		return "STT_VAD_END"
	case EventTTSStreamStart:
		return "TTS_STREAM_START"
	case EventTTSStreamEnd:
		return "TTS_STREAM_END"
	case EventIntentProgress:
		return "INTENT_PROGRESS"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(t))
	}
}

// TimerEventType enumerates timer lifecycle events
type TimerEventType uint32

const (
	TimerStarted   TimerEventType = 0
	TimerUpdated   TimerEventType = 1
	TimerCancelled TimerEventType = 2
	TimerFinished  TimerEventType = 3
)

// String returns a human-readable timer event name
func (t TimerEventType) String() string {
	switch t {
	case TimerStarted:
		return "STARTED"
	case TimerUpdated:
		return "UPDATED"
	case TimerCancelled:
		return "CANCELLED"
	case TimerFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(t))
	}
}

// MediaPlayerState enumerates media player states
type MediaPlayerState uint32

const (
	MediaPlayerStateNone    MediaPlayerState = 0
	MediaPlayerStateIdle    MediaPlayerState = 1
	MediaPlayerStatePlaying MediaPlayerState = 2
	MediaPlayerStatePaused  MediaPlayerState = 3
)

// MediaPlayerCommand enumerates media player commands
type MediaPlayerCommand uint32

const (
	MediaPlayerCommandPlay   MediaPlayerCommand = 0
	MediaPlayerCommandPause  MediaPlayerCommand = 1
	MediaPlayerCommandStop   MediaPlayerCommand = 2
	MediaPlayerCommandMute   MediaPlayerCommand = 3
	MediaPlayerCommandUnmute MediaPlayerCommand = 4
)

// Message is implemented by every wire message
type Message interface {
	MessageType() uint32
	Marshal() []byte
	Unmarshal(b []byte) error
}

// Unknown holds a message type the satellite does not handle
type Unknown struct {
	Type    uint32
	Payload []byte
}

func (m *Unknown) MessageType() uint32 { return m.Type }
func (m *Unknown) Marshal() []byte { return m.Payload }
func (m *Unknown) Unmarshal(b []byte) error {
	m.Payload = append([]byte(nil), b...)
	return nil
}

var registry = map[uint32]func() Message{
	TypeHelloRequest:                        func() Message { return &HelloRequest{} },
	TypeHelloResponse:                       func() Message { return &HelloResponse{} },
	TypeConnectRequest:                      func() Message { return &ConnectRequest{} },
	TypeConnectResponse:                     func() Message { return &ConnectResponse{} },
	TypeDisconnectRequest:                   func() Message { return &DisconnectRequest{} },
	TypeDisconnectResponse:                  func() Message { return &DisconnectResponse{} },
	TypePingRequest:                         func() Message { return &PingRequest{} },
	TypePingResponse:                        func() Message { return &PingResponse{} },
	TypeDeviceInfoRequest:                   func() Message { return &DeviceInfoRequest{} },
	TypeDeviceInfoResponse:                  func() Message { return &DeviceInfoResponse{} },
	TypeListEntitiesRequest:                 func() Message { return &ListEntitiesRequest{} },
	TypeListEntitiesSwitchResponse:          func() Message { return &ListEntitiesSwitchResponse{} },
	TypeListEntitiesTextSensorResponse:      func() Message { return &ListEntitiesTextSensorResponse{} },
	TypeListEntitiesDoneResponse:            func() Message { return &ListEntitiesDoneResponse{} },
	TypeSubscribeStatesRequest:              func() Message { return &SubscribeStatesRequest{} },
	TypeSwitchStateResponse:                 func() Message { return &SwitchStateResponse{} },
	TypeTextSensorStateResponse:             func() Message { return &TextSensorStateResponse{} },
	TypeSwitchCommandRequest:                func() Message { return &SwitchCommandRequest{} },
	TypeSubscribeHomeAssistantStatesRequest: func() Message { return &SubscribeHomeAssistantStatesRequest{} },
	TypeListEntitiesButtonResponse:          func() Message { return &ListEntitiesButtonResponse{} },
	TypeButtonCommandRequest:                func() Message { return &ButtonCommandRequest{} },
	TypeListEntitiesMediaPlayerResponse:     func() Message { return &ListEntitiesMediaPlayerResponse{} },
	TypeMediaPlayerStateResponse:            func() Message { return &MediaPlayerStateResponse{} },
	TypeMediaPlayerCommandRequest:           func() Message { return &MediaPlayerCommandRequest{} },
	TypeSubscribeVoiceAssistantRequest:      func() Message { return &SubscribeVoiceAssistantRequest{} },
	TypeVoiceAssistantRequest:               func() Message { return &VoiceAssistantRequest{} },
	TypeVoiceAssistantResponse:              func() Message { return &VoiceAssistantResponse{} },
	TypeVoiceAssistantEventResponse:         func() Message { return &VoiceAssistantEventResponse{} },
	TypeVoiceAssistantAudio:                 func() Message { return &VoiceAssistantAudio{} },
	TypeVoiceAssistantTimerEventResponse:    func() Message { return &VoiceAssistantTimerEventResponse{} },
	TypeVoiceAssistantAnnounceRequest:       func() Message { return &VoiceAssistantAnnounceRequest{} },
	TypeVoiceAssistantAnnounceFinished:      func() Message { return &VoiceAssistantAnnounceFinished{} },
	TypeVoiceAssistantConfigurationRequest:  func() Message { return &VoiceAssistantConfigurationRequest{} },
	TypeVoiceAssistantConfigurationResponse: func() Message { return &VoiceAssistantConfigurationResponse{} },
	TypeVoiceAssistantSetConfiguration:      func() Message { return &VoiceAssistantSetConfiguration{} },
}

// Decode builds the message for msgType from its payload.
// Unregistered types decode to *Unknown.
func Decode(msgType uint32, payload []byte) (Message, error) {
	newMsg, ok := registry[msgType]
	if !ok {
		return &Unknown{Type: msgType, Payload: append([]byte(nil), payload...)}, nil
	}

	msg := newMsg()
	if err := msg.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("failed to decode message type %d: %w", msgType, err)
	}

	return msg, nil
}

// Empty messages

type DisconnectRequest struct{}
type DisconnectResponse struct{}
type PingRequest struct{}
type PingResponse struct{}
type DeviceInfoRequest struct{}
type ListEntitiesRequest struct{}
type ListEntitiesDoneResponse struct{}
type SubscribeStatesRequest struct{}
type SubscribeHomeAssistantStatesRequest struct{}

func (*DisconnectRequest) MessageType() uint32 { return TypeDisconnectRequest }
func (*DisconnectRequest) Marshal() []byte { return nil }
func (*DisconnectRequest) Unmarshal(b []byte) error { return skipFields(b) }

func (*DisconnectResponse) MessageType() uint32 { return TypeDisconnectResponse }
func (*DisconnectResponse) Marshal() []byte { return nil }
func (*DisconnectResponse) Unmarshal(b []byte) error { return skipFields(b) }

func (*PingRequest) MessageType() uint32 { return TypePingRequest }
func (*PingRequest) Marshal() []byte { return nil }
func (*PingRequest) Unmarshal(b []byte) error { return skipFields(b) }

func (*PingResponse) MessageType() uint32 { return TypePingResponse }
func (*PingResponse) Marshal() []byte { return nil }
func (*PingResponse) Unmarshal(b []byte) error { return skipFields(b) }

func (*DeviceInfoRequest) MessageType() uint32 { return TypeDeviceInfoRequest }
func (*DeviceInfoRequest) Marshal() []byte { return nil }
func (*DeviceInfoRequest) Unmarshal(b []byte) error { return skipFields(b) }

func (*ListEntitiesRequest) MessageType() uint32 { return TypeListEntitiesRequest }
func (*ListEntitiesRequest) Marshal() []byte { return nil }
func (*ListEntitiesRequest) Unmarshal(b []byte) error { return skipFields(b) }

func (*ListEntitiesDoneResponse) MessageType() uint32 { return TypeListEntitiesDoneResponse }
func (*ListEntitiesDoneResponse) Marshal() []byte { return nil }
func (*ListEntitiesDoneResponse) Unmarshal(b []byte) error { return skipFields(b) }

func (*SubscribeStatesRequest) MessageType() uint32 { return TypeSubscribeStatesRequest }
func (*SubscribeStatesRequest) Marshal() []byte { return nil }
func (*SubscribeStatesRequest) Unmarshal(b []byte) error { return skipFields(b) }

func (*SubscribeHomeAssistantStatesRequest) MessageType() uint32 {
	return TypeSubscribeHomeAssistantStatesRequest
}
func (*SubscribeHomeAssistantStatesRequest) Marshal() []byte { return nil }
func (*SubscribeHomeAssistantStatesRequest) Unmarshal(b []byte) error { return skipFields(b) }

// HelloRequest opens the API handshake
type HelloRequest struct {
	ClientInfo      string
	APIVersionMajor uint32
	APIVersionMinor uint32
}

func (m *HelloRequest) MessageType() uint32 { return TypeHelloRequest }

func (m *HelloRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.ClientInfo)
	e.uint32(2, m.APIVersionMajor)
	e.uint32(3, m.APIVersionMinor)
	return e.b
}

func (m *HelloRequest) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.ClientInfo = f.string()
		case 2:
			m.APIVersionMajor = f.uint32()
		case 3:
			m.APIVersionMinor = f.uint32()
		}
		return nil
	})
}

// HelloResponse answers HelloRequest with the satellite identity
type HelloResponse struct {
	APIVersionMajor uint32
	APIVersionMinor uint32
	ServerInfo      string
	Name            string
}

func (m *HelloResponse) MessageType() uint32 { return TypeHelloResponse }

func (m *HelloResponse) Marshal() []byte {
	var e encoder
	e.uint32(1, m.APIVersionMajor)
	e.uint32(2, m.APIVersionMinor)
	e.string(3, m.ServerInfo)
	e.string(4, m.Name)
	return e.b
}

func (m *HelloResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.APIVersionMajor = f.uint32()
		case 2:
			m.APIVersionMinor = f.uint32()
		case 3:
			m.ServerInfo = f.string()
		case 4:
			m.Name = f.string()
		}
		return nil
	})
}

// ConnectRequest authenticates the client
type ConnectRequest struct {
	Password string
}

func (m *ConnectRequest) MessageType() uint32 { return TypeConnectRequest }

func (m *ConnectRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Password)
	return e.b
}

func (m *ConnectRequest) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		if f.num == 1 {
			m.Password = f.string()
		}
		return nil
	})
}

// ConnectResponse reports whether the password was accepted
type ConnectResponse struct {
	InvalidPassword bool
}

func (m *ConnectResponse) MessageType() uint32 { return TypeConnectResponse }

func (m *ConnectResponse) Marshal() []byte {
	var e encoder
	e.bool(1, m.InvalidPassword)
	return e.b
}

func (m *ConnectResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		if f.num == 1 {
			m.InvalidPassword = f.bool()
		}
		return nil
	})
}

// DeviceInfoResponse describes the satellite
type DeviceInfoResponse struct {
	UsesPassword               bool
	Name                       string
	MACAddress                 string
	ESPHomeVersion             string
	CompilationTime            string
	Model                      string
	ProjectName                string
	ProjectVersion             string
	Manufacturer               string
	FriendlyName               string
	VoiceAssistantFeatureFlags uint32
}

func (m *DeviceInfoResponse) MessageType() uint32 { return TypeDeviceInfoResponse }

func (m *DeviceInfoResponse) Marshal() []byte {
	var e encoder
	e.bool(1, m.UsesPassword)
	e.string(2, m.Name)
	e.string(3, m.MACAddress)
	e.string(4, m.ESPHomeVersion)
	e.string(5, m.CompilationTime)
	e.string(6, m.Model)
	e.string(8, m.ProjectName)
	e.string(9, m.ProjectVersion)
	e.string(12, m.Manufacturer)
	e.string(13, m.FriendlyName)
	e.uint32(17, m.VoiceAssistantFeatureFlags)
	return e.b
}

func (m *DeviceInfoResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.UsesPassword = f.bool()
		case 2:
			m.Name = f.string()
		case 3:
			m.MACAddress = f.string()
		case 4:
			m.ESPHomeVersion = f.string()
		case 5:
			m.CompilationTime = f.string()
		case 6:
			m.Model = f.string()
		case 8:
			m.ProjectName = f.string()
		case 9:
			m.ProjectVersion = f.string()
		case 12:
			m.Manufacturer = f.string()
		case 13:
			m.FriendlyName = f.string()
		case 17:
			m.VoiceAssistantFeatureFlags = f.uint32()
		}
		return nil
	})
}

// EntityInfo holds the fields shared by every ListEntities response
type EntityInfo struct {
	ObjectID       string
	Key            uint32
	Name           string
	UniqueID       string
	Icon           string
	EntityCategory uint32
}

func (i *EntityInfo) encode(e *encoder, categoryField protowire.Number) {
	e.string(1, i.ObjectID)
	e.fixed32(2, i.Key)
	e.string(3, i.Name)
	e.string(4, i.UniqueID)
	e.string(5, i.Icon)
	e.uint32(categoryField, i.EntityCategory)
}

func (i *EntityInfo) decode(f field, categoryField protowire.Number) bool {
	switch f.num {
	case 1:
		i.ObjectID = f.string()
	case 2:
		i.Key = f.fixed32
	case 3:
		i.Name = f.string()
	case 4:
		i.UniqueID = f.string()
	case 5:
		i.Icon = f.string()
	case categoryField:
		i.EntityCategory = f.uint32()
	default:
		return false
	}
	return true
}

// ListEntitiesSwitchResponse describes a switch entity
type ListEntitiesSwitchResponse struct {
	EntityInfo
}

func (m *ListEntitiesSwitchResponse) MessageType() uint32 { return TypeListEntitiesSwitchResponse }

func (m *ListEntitiesSwitchResponse) Marshal() []byte {
	var e encoder
	m.encode(&e, 8)
	return e.b
}

func (m *ListEntitiesSwitchResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		m.decode(f, 8)
		return nil
	})
}

// ListEntitiesTextSensorResponse describes a text sensor entity
type ListEntitiesTextSensorResponse struct {
	EntityInfo
}

func (m *ListEntitiesTextSensorResponse) MessageType() uint32 {
	return TypeListEntitiesTextSensorResponse
}

func (m *ListEntitiesTextSensorResponse) Marshal() []byte {
	var e encoder
	m.encode(&e, 7)
	return e.b
}

func (m *ListEntitiesTextSensorResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		m.decode(f, 7)
		return nil
	})
}

// ListEntitiesButtonResponse describes a button entity
type ListEntitiesButtonResponse struct {
	EntityInfo
}

func (m *ListEntitiesButtonResponse) MessageType() uint32 { return TypeListEntitiesButtonResponse }

func (m *ListEntitiesButtonResponse) Marshal() []byte {
	var e encoder
	m.encode(&e, 7)
	return e.b
}

func (m *ListEntitiesButtonResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		m.decode(f, 7)
		return nil
	})
}

// ListEntitiesMediaPlayerResponse describes the media player entity
type ListEntitiesMediaPlayerResponse struct {
	EntityInfo
	SupportsPause bool
}

func (m *ListEntitiesMediaPlayerResponse) MessageType() uint32 {
	return TypeListEntitiesMediaPlayerResponse
}

func (m *ListEntitiesMediaPlayerResponse) Marshal() []byte {
	var e encoder
	m.encode(&e, 7)
	e.bool(8, m.SupportsPause)
	return e.b
}

func (m *ListEntitiesMediaPlayerResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		if !m.decode(f, 7) && f.num == 8 {
			m.SupportsPause = f.bool()
		}
		return nil
	})
}

// SwitchStateResponse reports a switch state
type SwitchStateResponse struct {
	Key   uint32
	State bool
}

func (m *SwitchStateResponse) MessageType() uint32 { return TypeSwitchStateResponse }

func (m *SwitchStateResponse) Marshal() []byte {
	var e encoder
	e.fixed32(1, m.Key)
	e.bool(2, m.State)
	return e.b
}

func (m *SwitchStateResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.Key = f.fixed32
		case 2:
			m.State = f.bool()
		}
		return nil
	})
}

// SwitchCommandRequest asks the satellite to change a switch
type SwitchCommandRequest struct {
	Key   uint32
	State bool
}

func (m *SwitchCommandRequest) MessageType() uint32 { return TypeSwitchCommandRequest }

func (m *SwitchCommandRequest) Marshal() []byte {
	var e encoder
	e.fixed32(1, m.Key)
	e.bool(2, m.State)
	return e.b
}

func (m *SwitchCommandRequest) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.Key = f.fixed32
		case 2:
			m.State = f.bool()
		}
		return nil
	})
}

// TextSensorStateResponse reports a text sensor value
type TextSensorStateResponse struct {
	Key          uint32
	State        string
	MissingState bool
}

func (m *TextSensorStateResponse) MessageType() uint32 { return TypeTextSensorStateResponse }

func (m *TextSensorStateResponse) Marshal() []byte {
	var e encoder
	e.fixed32(1, m.Key)
	e.string(2, m.State)
	e.bool(3, m.MissingState)
	return e.b
}

func (m *TextSensorStateResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.Key = f.fixed32
		case 2:
			m.State = f.string()
		case 3:
			m.MissingState = f.bool()
		}
		return nil
	})
}

// ButtonCommandRequest presses a button
type ButtonCommandRequest struct {
	Key uint32
}

func (m *ButtonCommandRequest) MessageType() uint32 { return TypeButtonCommandRequest }

func (m *ButtonCommandRequest) Marshal() []byte {
	var e encoder
	e.fixed32(1, m.Key)
	return e.b
}

func (m *ButtonCommandRequest) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		if f.num == 1 {
			m.Key = f.fixed32
		}
		return nil
	})
}

// MediaPlayerStateResponse reports the media player state
type MediaPlayerStateResponse struct {
	Key    uint32
	State  MediaPlayerState
	Volume float32
	Muted  bool
}

func (m *MediaPlayerStateResponse) MessageType() uint32 { return TypeMediaPlayerStateResponse }

func (m *MediaPlayerStateResponse) Marshal() []byte {
	var e encoder
	e.fixed32(1, m.Key)
	e.uint32(2, uint32(m.State))
	e.float32(3, m.Volume)
	e.bool(4, m.Muted)
	return e.b
}

func (m *MediaPlayerStateResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.Key = f.fixed32
		case 2:
			m.State = MediaPlayerState(f.uint32())
		case 3:
			m.Volume = f.float32()
		case 4:
			m.Muted = f.bool()
		}
		return nil
	})
}

// MediaPlayerCommandRequest controls the media player
type MediaPlayerCommandRequest struct {
	Key             uint32
	HasCommand      bool
	Command         MediaPlayerCommand
	HasVolume       bool
	Volume          float32
	HasMediaURL     bool
	MediaURL        string
	HasAnnouncement bool
	Announcement    bool
}

func (m *MediaPlayerCommandRequest) MessageType() uint32 { return TypeMediaPlayerCommandRequest }

func (m *MediaPlayerCommandRequest) Marshal() []byte {
	var e encoder
	e.fixed32(1, m.Key)
	e.bool(2, m.HasCommand)
	e.uint32(3, uint32(m.Command))
	e.bool(4, m.HasVolume)
	e.float32(5, m.Volume)
	e.bool(6, m.HasMediaURL)
	e.string(7, m.MediaURL)
	e.bool(8, m.HasAnnouncement)
	e.bool(9, m.Announcement)
	return e.b
}

func (m *MediaPlayerCommandRequest) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.Key = f.fixed32
		case 2:
			m.HasCommand = f.bool()
		case 3:
			m.Command = MediaPlayerCommand(f.uint32())
		case 4:
			m.HasVolume = f.bool()
		case 5:
			m.Volume = f.float32()
		case 6:
			m.HasMediaURL = f.bool()
		case 7:
			m.MediaURL = f.string()
		case 8:
			m.HasAnnouncement = f.bool()
		case 9:
			m.Announcement = f.bool()
		}
		return nil
	})
}

// SubscribeVoiceAssistantRequest subscribes the hub to voice assistant requests
type SubscribeVoiceAssistantRequest struct {
	Subscribe bool
	Flags     uint32
}

func (m *SubscribeVoiceAssistantRequest) MessageType() uint32 {
	return TypeSubscribeVoiceAssistantRequest
}

func (m *SubscribeVoiceAssistantRequest) Marshal() []byte {
	var e encoder
	e.bool(1, m.Subscribe)
	e.uint32(2, m.Flags)
	return e.b
}

func (m *SubscribeVoiceAssistantRequest) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.Subscribe = f.bool()
		case 2:
			m.Flags = f.uint32()
		}
		return nil
	})
}

// VoiceAssistantRequest starts (or stops) a pipeline run on the hub
type VoiceAssistantRequest struct {
	Start          bool
	ConversationID string
	Flags          uint32
	WakeWordPhrase string
}

func (m *VoiceAssistantRequest) MessageType() uint32 { return TypeVoiceAssistantRequest }

func (m *VoiceAssistantRequest) Marshal() []byte {
	var e encoder
	e.bool(1, m.Start)
	e.string(2, m.ConversationID)
	e.uint32(3, m.Flags)
	e.string(5, m.WakeWordPhrase)
	return e.b
}

func (m *VoiceAssistantRequest) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.Start = f.bool()
		case 2:
			m.ConversationID = f.string()
		case 3:
			m.Flags = f.uint32()
		case 5:
			m.WakeWordPhrase = f.string()
		}
		return nil
	})
}

// VoiceAssistantResponse acknowledges a VoiceAssistantRequest
type VoiceAssistantResponse struct {
	Port  uint32
	Error bool
}

func (m *VoiceAssistantResponse) MessageType() uint32 { return TypeVoiceAssistantResponse }

func (m *VoiceAssistantResponse) Marshal() []byte {
	var e encoder
	e.uint32(1, m.Port)
	e.bool(2, m.Error)
	return e.b
}

func (m *VoiceAssistantResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.Port = f.uint32()
		case 2:
			m.Error = f.bool()
		}
		return nil
	})
}

// EventData is a single name/value pair attached to a pipeline event
type EventData struct {
	Name  string
	Value string
}

// VoiceAssistantEventResponse carries a pipeline event from the hub
type VoiceAssistantEventResponse struct {
	EventType VoiceAssistantEventType
	Data      []EventData
}

// Get returns the value for name, or "" when absent
func (m *VoiceAssistantEventResponse) Get(name string) string {
	for _, d := range m.Data {
		if d.Name == name {
			return d.Value
		}
	}
	return ""
}

func (m *VoiceAssistantEventResponse) MessageType() uint32 { return TypeVoiceAssistantEventResponse }

func (m *VoiceAssistantEventResponse) Marshal() []byte {
	var e encoder
	e.uint32(1, uint32(m.EventType))
	for _, d := range m.Data {
		var sub encoder
		sub.string(1, d.Name)
		sub.string(2, d.Value)
		e.message(2, sub.b)
	}
	return e.b
}

func (m *VoiceAssistantEventResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.EventType = VoiceAssistantEventType(f.uint32())
		case 2:
			var d EventData
			err := parseFields(f.bytes, func(sf field) error {
				switch sf.num {
				case 1:
					d.Name = sf.string()
				case 2:
					d.Value = sf.string()
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("event data: %w", err)
			}
			m.Data = append(m.Data, d)
		}
		return nil
	})
}

// VoiceAssistantAudio carries one chunk of microphone audio
type VoiceAssistantAudio struct {
	Data []byte
	End  bool
}

func (m *VoiceAssistantAudio) MessageType() uint32 { return TypeVoiceAssistantAudio }

func (m *VoiceAssistantAudio) Marshal() []byte {
	var e encoder
	e.bytes(1, m.Data)
	e.bool(2, m.End)
	return e.b
}

func (m *VoiceAssistantAudio) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.Data = f.bytes
		case 2:
			m.End = f.bool()
		}
		return nil
	})
}

// VoiceAssistantTimerEventResponse reports a timer lifecycle event
type VoiceAssistantTimerEventResponse struct {
	EventType    TimerEventType
	TimerID      string
	Name         string
	TotalSeconds uint32
	SecondsLeft  uint32
	IsActive     bool
}

func (m *VoiceAssistantTimerEventResponse) MessageType() uint32 {
	return TypeVoiceAssistantTimerEventResponse
}

func (m *VoiceAssistantTimerEventResponse) Marshal() []byte {
	var e encoder
	e.uint32(1, uint32(m.EventType))
	e.string(2, m.TimerID)
	e.string(3, m.Name)
	e.uint32(4, m.TotalSeconds)
	e.uint32(5, m.SecondsLeft)
	e.bool(6, m.IsActive)
	return e.b
}

func (m *VoiceAssistantTimerEventResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.EventType = TimerEventType(f.uint32())
		case 2:
			m.TimerID = f.string()
		case 3:
			m.Name = f.string()
		case 4:
			m.TotalSeconds = f.uint32()
		case 5:
			m.SecondsLeft = f.uint32()
		case 6:
			m.IsActive = f.bool()
		}
		return nil
	})
}

// VoiceAssistantAnnounceRequest asks the satellite to play an announcement
type VoiceAssistantAnnounceRequest struct {
	MediaID            string
	Text               string
	PreannounceMediaID string
	StartConversation  bool
}

func (m *VoiceAssistantAnnounceRequest) MessageType() uint32 {
	return TypeVoiceAssistantAnnounceRequest
}

func (m *VoiceAssistantAnnounceRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.MediaID)
	e.string(2, m.Text)
	e.string(3, m.PreannounceMediaID)
	e.bool(4, m.StartConversation)
	return e.b
}

func (m *VoiceAssistantAnnounceRequest) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.MediaID = f.string()
		case 2:
			m.Text = f.string()
		case 3:
			m.PreannounceMediaID = f.string()
		case 4:
			m.StartConversation = f.bool()
		}
		return nil
	})
}

// VoiceAssistantAnnounceFinished tells the hub a response or announcement is done
type VoiceAssistantAnnounceFinished struct {
	Success bool
}

func (m *VoiceAssistantAnnounceFinished) MessageType() uint32 {
	return TypeVoiceAssistantAnnounceFinished
}

func (m *VoiceAssistantAnnounceFinished) Marshal() []byte {
	var e encoder
	e.bool(1, m.Success)
	return e.b
}

func (m *VoiceAssistantAnnounceFinished) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		if f.num == 1 {
			m.Success = f.bool()
		}
		return nil
	})
}

// VoiceAssistantWakeWord describes an available wake word
type VoiceAssistantWakeWord struct {
	ID               string
	WakeWord         string
	TrainedLanguages []string
}

func (w *VoiceAssistantWakeWord) marshal() []byte {
	var e encoder
	e.string(1, w.ID)
	e.string(2, w.WakeWord)
	e.strings(3, w.TrainedLanguages)
	return e.b
}

func (w *VoiceAssistantWakeWord) unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			w.ID = f.string()
		case 2:
			w.WakeWord = f.string()
		case 3:
			w.TrainedLanguages = append(w.TrainedLanguages, f.string())
		}
		return nil
	})
}

// VoiceAssistantExternalWakeWord describes a wake word the satellite may download
type VoiceAssistantExternalWakeWord struct {
	ID               string
	WakeWord         string
	TrainedLanguages []string
	ModelType        string
	ModelSize        uint32
	ModelHash        string
	URL              string
}

func (w *VoiceAssistantExternalWakeWord) marshal() []byte {
	var e encoder
	e.string(1, w.ID)
	e.string(2, w.WakeWord)
	e.strings(3, w.TrainedLanguages)
	e.string(4, w.ModelType)
	e.uint32(5, w.ModelSize)
	e.string(6, w.ModelHash)
	e.string(7, w.URL)
	return e.b
}

func (w *VoiceAssistantExternalWakeWord) unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			w.ID = f.string()
		case 2:
			w.WakeWord = f.string()
		case 3:
			w.TrainedLanguages = append(w.TrainedLanguages, f.string())
		case 4:
			w.ModelType = f.string()
		case 5:
			w.ModelSize = f.uint32()
		case 6:
			w.ModelHash = f.string()
		case 7:
			w.URL = f.string()
		}
		return nil
	})
}

// VoiceAssistantConfigurationRequest asks for the wake word configuration
type VoiceAssistantConfigurationRequest struct {
	ExternalWakeWords []VoiceAssistantExternalWakeWord
}

func (m *VoiceAssistantConfigurationRequest) MessageType() uint32 {
	return TypeVoiceAssistantConfigurationRequest
}

func (m *VoiceAssistantConfigurationRequest) Marshal() []byte {
	var e encoder
	for i := range m.ExternalWakeWords {
		e.message(1, m.ExternalWakeWords[i].marshal())
	}
	return e.b
}

func (m *VoiceAssistantConfigurationRequest) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		var w VoiceAssistantExternalWakeWord
		if err := w.unmarshal(f.bytes); err != nil {
			return fmt.Errorf("external wake word: %w", err)
		}
		m.ExternalWakeWords = append(m.ExternalWakeWords, w)
		return nil
	})
}

// VoiceAssistantConfigurationResponse reports available and active wake words
type VoiceAssistantConfigurationResponse struct {
	AvailableWakeWords []VoiceAssistantWakeWord
	ActiveWakeWords    []string
	MaxActiveWakeWords uint32
}

func (m *VoiceAssistantConfigurationResponse) MessageType() uint32 {
	return TypeVoiceAssistantConfigurationResponse
}

func (m *VoiceAssistantConfigurationResponse) Marshal() []byte {
	var e encoder
	for i := range m.AvailableWakeWords {
		e.message(1, m.AvailableWakeWords[i].marshal())
	}
	e.strings(2, m.ActiveWakeWords)
	e.uint32(3, m.MaxActiveWakeWords)
	return e.b
}

func (m *VoiceAssistantConfigurationResponse) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case 1:
			var w VoiceAssistantWakeWord
			if err := w.unmarshal(f.bytes); err != nil {
				return fmt.Errorf("wake word: %w", err)
			}
			m.AvailableWakeWords = append(m.AvailableWakeWords, w)
		case 2:
			m.ActiveWakeWords = append(m.ActiveWakeWords, f.string())
		case 3:
			m.MaxActiveWakeWords = f.uint32()
		}
		return nil
	})
}

// VoiceAssistantSetConfiguration selects the active wake words
type VoiceAssistantSetConfiguration struct {
	ActiveWakeWords []string
}

func (m *VoiceAssistantSetConfiguration) MessageType() uint32 {
	return TypeVoiceAssistantSetConfiguration
}

func (m *VoiceAssistantSetConfiguration) Marshal() []byte {
	var e encoder
	e.strings(1, m.ActiveWakeWords)
	return e.b
}

func (m *VoiceAssistantSetConfiguration) Unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		if f.num == 1 {
			m.ActiveWakeWords = append(m.ActiveWakeWords, f.string())
		}
		return nil
	})
}
