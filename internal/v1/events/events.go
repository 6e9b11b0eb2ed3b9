// Package events defines the JSON wire protocol spoken on a room socket:
// the frame envelope, the event-type catalog, and the typed payloads the
// game handlers decode into.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// Frame is the envelope of every WebSocket message, in both directions.
// Data is event-specific; PlayerName identifies the acting player on
// outbound frames and is overwritten with the socket identity on inbound
// ones.
type Frame struct {
	EventType  string          `json:"event_type"`
	Data       json.RawMessage `json:"data,omitempty"`
	PlayerName string          `json:"player_name,omitempty"`
}

// Inbound client event types.
const (
	EventSeatChange      = "seat_change"
	EventSeatCountChange = "seat_count_change"
	EventColorChange     = "color_change"
	EventRoleChange      = "role_change"
	EventPlayerKicked    = "player_kicked"
	EventCombatState     = "combat_state"

	EventDicePrompt          = "dice_prompt"
	EventInitiativePromptAll = "initiative_prompt_all"
	EventDicePromptClear     = "dice_prompt_clear"
	EventDiceRoll            = "dice_roll"

	EventClearSystemMessages = "clear_system_messages"
	EventClearAllMessages    = "clear_all_messages"

	EventRemoteAudioPlay   = "remote_audio_play"
	EventRemoteAudioResume = "remote_audio_resume"
	EventRemoteAudioBatch  = "remote_audio_batch"

	EventMapLoad         = "map_load"
	EventMapClear        = "map_clear"
	EventMapConfigUpdate = "map_config_update"
	EventMapRequest      = "map_request"
)

// Outbound-only server event types.
const (
	EventPlayerConnected        = "player_connected"
	EventPlayerDisconnected     = "player_disconnected"
	EventLobbyUpdate            = "lobby_update"
	EventAdventureLogRemoved    = "adventure_log_removed"
	EventPlayerDisplaced        = "player_displaced"
	EventPlayerCharacterChanged = "player_character_changed"
	EventSystemMessagesCleared  = "system_messages_cleared"
	EventAllMessagesCleared     = "all_messages_cleared"
	EventError                  = "error"
)

// New builds an outbound frame, marshaling the payload into Data.
func New(eventType string, payload any) (Frame, error) {
	frame := Frame{EventType: eventType}
	if payload == nil {
		return frame, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	frame.Data = data
	return frame, nil
}

// WithPlayer stamps the acting player onto a frame.
func (f Frame) WithPlayer(player types.PlayerNameType) Frame {
	f.PlayerName = string(player)
	return f
}

// Encode serializes the frame for a socket write.
func (f Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.EventType, err)
	}
	return data, nil
}

// Decode parses a raw inbound message. A missing event_type is rejected so
// the dispatcher can drop the frame without a table lookup.
func Decode(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	if frame.EventType == "" {
		return Frame{}, fmt.Errorf("frame missing event_type")
	}
	return frame, nil
}

// DecodeData unmarshals the event-specific payload into v.
func (f Frame) DecodeData(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame carries no data", f.EventType)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", f.EventType, err)
	}
	return nil
}

// EncodeError builds the error frame sent back to an offending socket. The
// data field is the bare human-readable message.
func EncodeError(msg string) []byte {
	data, _ := json.Marshal(msg)
	raw, _ := json.Marshal(Frame{EventType: EventError, Data: data})
	return raw
}
