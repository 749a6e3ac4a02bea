package entity

import (
	"github.com/skypro1111/voice-satellite/internal/protocol"
)

// Set holds entities in registration order and assigns their keys
type Set struct {
	deviceName string
	entities   []Entity
	byKey      map[uint32]Entity
	nextKey    uint32
}

// NewSet creates an empty entity set; unique ids are prefixed with deviceName
func NewSet(deviceName string) *Set {
	return &Set{
		deviceName: deviceName,
		byKey:      make(map[uint32]Entity),
		nextKey:    1,
	}
}

func (s *Set) info(objectID, name, icon string) protocol.EntityInfo {
	key := s.nextKey
	s.nextKey++
	return protocol.EntityInfo{
		ObjectID: objectID,
		Key:      key,
		Name:     name,
		UniqueID: s.deviceName + "_" + objectID,
		Icon:     icon,
	}
}

func (s *Set) add(e Entity) {
	s.entities = append(s.entities, e)
	s.byKey[e.Key()] = e
}

// AddMediaPlayer registers a media player at the given volume in [0, 1]
func (s *Set) AddMediaPlayer(objectID, name string, volume float32) *MediaPlayer {
	m := &MediaPlayer{
		info:   s.info(objectID, name, ""),
		state:  protocol.MediaPlayerStateIdle,
		volume: volume,
	}
	s.add(m)
	return m
}

// AddTextSensor registers a text sensor
func (s *Set) AddTextSensor(objectID, name, icon string) *TextSensor {
	t := &TextSensor{info: s.info(objectID, name, icon)}
	s.add(t)
	return t
}

// AddSwitch registers a switch
func (s *Set) AddSwitch(objectID, name, icon string, initial bool) *Switch {
	sw := &Switch{info: s.info(objectID, name, icon), state: initial}
	s.add(sw)
	return sw
}

// AddButton registers a button
func (s *Set) AddButton(objectID, name, icon string) *Button {
	b := &Button{info: s.info(objectID, name, icon)}
	s.add(b)
	return b
}

// Lookup finds an entity by key
func (s *Set) Lookup(key uint32) (Entity, bool) {
	e, ok := s.byKey[key]
	return e, ok
}

// Entities returns every entity in registration order
func (s *Set) Entities() []Entity {
	return append([]Entity(nil), s.entities...)
}

// Describe returns list-entities responses for every entity, followed by the done marker
func (s *Set) Describe() []protocol.Message {
	msgs := make([]protocol.Message, 0, len(s.entities)+1)
	for _, e := range s.entities {
		msgs = append(msgs, e.Describe())
	}
	return append(msgs, &protocol.ListEntitiesDoneResponse{})
}

// States returns state messages for every stateful entity
func (s *Set) States() []protocol.Message {
	var msgs []protocol.Message
	for _, e := range s.entities {
		if msg := e.StateMessage(); msg != nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}
