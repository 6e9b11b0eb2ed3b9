package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// --- Seats, roles, combat ---

// SeatChangeData carries the complete new seat layout for a room.
type SeatChangeData struct {
	SeatLayout []string `json:"seat_layout"`
}

// DisplacedPlayer names a player pushed to the lobby by a seat-count shrink.
// Field casing follows the control-plane contract.
type DisplacedPlayer struct {
	PlayerName string `json:"playerName"`
	SeatID     int    `json:"seatId"`
}

// SeatCountChangeData re-announces a seat-count change made on the control
// plane; the HTTP handler has already validated bounds and displacements.
type SeatCountChangeData struct {
	MaxPlayers       int               `json:"max_players"`
	SeatLayout       []string          `json:"seat_layout,omitempty"`
	DisplacedPlayers []DisplacedPlayer `json:"displaced_players,omitempty"`
}

// PlayerDisplacedData is unicast to a player who lost their seat.
type PlayerDisplacedData struct {
	PlayerName    string `json:"playerName"`
	SeatID        int    `json:"seatId"`
	NewMaxPlayers int    `json:"new_max_players"`
}

// ColorChangeData recolors a single seat.
type ColorChangeData struct {
	SeatIndex int    `json:"seat_index"`
	Color     string `json:"color"`
}

// Role-change actions.
const (
	RoleActionAddModerator    = "add_moderator"
	RoleActionRemoveModerator = "remove_moderator"
	RoleActionSetDM           = "set_dm"
	RoleActionUnsetDM         = "unset_dm"
)

// RoleChangeData mutates room roles.
type RoleChangeData struct {
	Action       string `json:"action"`
	TargetPlayer string `json:"target_player"`
}

// Validate checks the action verb and target.
func (d RoleChangeData) Validate() error {
	switch d.Action {
	case RoleActionAddModerator, RoleActionRemoveModerator, RoleActionSetDM, RoleActionUnsetDM:
	default:
		return fmt.Errorf("unknown role action %q", d.Action)
	}
	if d.TargetPlayer == "" {
		return errors.New("role change requires target_player")
	}
	return nil
}

// PlayerKickedData removes a player from the room.
type PlayerKickedData struct {
	TargetPlayer string `json:"target_player"`
	Reason       string `json:"reason,omitempty"`
}

// CombatStateData toggles the room-wide combat flag.
type CombatStateData struct {
	InCombat bool `json:"in_combat"`
}

// --- Prompt / roll lifecycle ---

// DicePromptData asks a single player for a roll.
type DicePromptData struct {
	PromptedPlayer string `json:"prompted_player"`
	RollType       string `json:"roll_type"`
	PromptID       string `json:"prompt_id"`
}

// InitiativePromptAllData asks every listed player for initiative at once.
// PromptID is minted server-side and present only on the broadcast.
type InitiativePromptAllData struct {
	TargetPlayers []string `json:"target_players"`
	RollType      string   `json:"roll_type,omitempty"`
	PromptID      string   `json:"prompt_id,omitempty"`
}

// DicePromptClearData withdraws a pending prompt. ClearAll removes the
// initiative prompt that named every player.
type DicePromptClearData struct {
	PromptID string `json:"prompt_id,omitempty"`
	ClearAll bool   `json:"clear_all,omitempty"`
}

// DiceRollData is a resolved roll. Message is built server-side; clients
// render it verbatim. A zero Modifier is treated as absent.
type DiceRollData struct {
	Player       string `json:"player,omitempty"`
	DiceNotation string `json:"diceNotation"`
	Results      []int  `json:"results,omitempty"`
	Modifier     int    `json:"modifier,omitempty"`
	Total        int    `json:"total"`
	Advantage    string `json:"advantage,omitempty"`
	Context      string `json:"context,omitempty"`
	PromptID     string `json:"prompt_id,omitempty"`
	Message      string `json:"message,omitempty"`
}

// --- Audio ---

// AudioTrack is one channel assignment in a remote_audio_play event.
type AudioTrack struct {
	ChannelID string   `json:"channelId"`
	Filename  string   `json:"filename"`
	AssetID   string   `json:"asset_id,omitempty"`
	S3URL     string   `json:"s3_url,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	Looping   *bool    `json:"looping,omitempty"`
}

// RemoteAudioPlayData starts playback on one or more channels.
type RemoteAudioPlayData struct {
	Tracks      []AudioTrack `json:"tracks"`
	TriggeredBy string       `json:"triggered_by,omitempty"`
}

// Validate rejects empty or underspecified track lists.
func (d RemoteAudioPlayData) Validate() error {
	if len(d.Tracks) == 0 {
		return errors.New("remote_audio_play requires at least one track")
	}
	for _, track := range d.Tracks {
		if track.ChannelID == "" {
			return errors.New("track missing channelId")
		}
		if track.Filename == "" {
			return fmt.Errorf("track %q missing filename", track.ChannelID)
		}
		if track.Volume != nil {
			if *track.Volume < types.MinChannelVolume || *track.Volume > types.MaxChannelVolume {
				return fmt.Errorf("track %q volume %.2f out of range", track.ChannelID, *track.Volume)
			}
		}
	}
	return nil
}

// RemoteAudioResumeData resumes paused channels, either an explicit list or
// a single channel named by track_type.
type RemoteAudioResumeData struct {
	Tracks      []string `json:"tracks,omitempty"`
	TrackType   string   `json:"track_type,omitempty"`
	TriggeredBy string   `json:"triggered_by,omitempty"`
}

// ChannelIDs merges the two addressing forms.
func (d RemoteAudioResumeData) ChannelIDs() []string {
	if len(d.Tracks) > 0 {
		return d.Tracks
	}
	if d.TrackType != "" {
		return []string{d.TrackType}
	}
	return nil
}

// Audio batch operation verbs.
const (
	AudioOpPlay   = "play"
	AudioOpStop   = "stop"
	AudioOpPause  = "pause"
	AudioOpResume = "resume"
	AudioOpVolume = "volume"
	AudioOpLoop   = "loop"
	AudioOpLoad   = "load"
)

// AudioBatchOperation is one step of a remote_audio_batch scene change.
type AudioBatchOperation struct {
	TrackID   string   `json:"trackId"`
	Operation string   `json:"operation"`
	Filename  string   `json:"filename,omitempty"`
	AssetID   string   `json:"asset_id,omitempty"`
	S3URL     string   `json:"s3_url,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	Looping   *bool    `json:"looping,omitempty"`
}

// Validate checks the operation carries the parameters its verb requires.
func (op AudioBatchOperation) Validate() error {
	if op.TrackID == "" {
		return errors.New("batch operation missing trackId")
	}
	switch op.Operation {
	case AudioOpPlay, AudioOpLoad:
		if op.Filename == "" {
			return fmt.Errorf("%s on %q requires filename", op.Operation, op.TrackID)
		}
	case AudioOpVolume:
		if op.Volume == nil {
			return fmt.Errorf("volume on %q requires volume", op.TrackID)
		}
	case AudioOpLoop:
		if op.Looping == nil {
			return fmt.Errorf("loop on %q requires looping", op.TrackID)
		}
	case AudioOpStop, AudioOpPause, AudioOpResume:
	default:
		return fmt.Errorf("unknown audio operation %q", op.Operation)
	}
	if op.Volume != nil {
		if *op.Volume < types.MinChannelVolume || *op.Volume > types.MaxChannelVolume {
			return fmt.Errorf("volume %.2f on %q out of range", *op.Volume, op.TrackID)
		}
	}
	return nil
}

// RemoteAudioBatchData applies several operations as one scene change.
// Clients receive the whole batch in a single broadcast.
type RemoteAudioBatchData struct {
	Operations   []AudioBatchOperation `json:"operations"`
	FadeDuration *float64              `json:"fade_duration,omitempty"`
	TriggeredBy  string                `json:"triggered_by,omitempty"`
}

// Validate checks every operation before any is applied.
func (d RemoteAudioBatchData) Validate() error {
	if len(d.Operations) == 0 {
		return errors.New("remote_audio_batch requires at least one operation")
	}
	for i, op := range d.Operations {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}

// AudioStateBroadcast mirrors the post-batch channel states back to clients
// alongside the operations that produced them.
type AudioStateBroadcast struct {
	Operations   []AudioBatchOperation         `json:"operations"`
	AudioState   map[string]types.AudioChannel `json:"audio_state"`
	FadeDuration *float64                      `json:"fade_duration,omitempty"`
	TriggeredBy  string                        `json:"triggered_by,omitempty"`
}

// --- Map ---

// MapLoadData wraps the map document a DM pushes to the room.
type MapLoadData struct {
	MapData types.ActiveMap `json:"map_data"`
}

// MapConfigUpdateData is a partial map-config patch. The Set flags record
// JSON key presence so an explicit null clears a field while an omitted key
// leaves it untouched.
type MapConfigUpdateData struct {
	Filename string
	Grid     *types.GridConfig
	SetGrid  bool
	Image    json.RawMessage
	SetImage bool
}

func (d *MapConfigUpdateData) UnmarshalJSON(raw []byte) error {
	var probe struct {
		Filename string          `json:"filename"`
		Grid     json.RawMessage `json:"grid_config"`
		Image    json.RawMessage `json:"map_image_config"`
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &keys); err != nil {
		return err
	}
	d.Filename = probe.Filename
	if _, present := keys["grid_config"]; present {
		d.SetGrid = true
		if !isJSONNull(probe.Grid) {
			var grid types.GridConfig
			if err := json.Unmarshal(probe.Grid, &grid); err != nil {
				return fmt.Errorf("grid_config: %w", err)
			}
			d.Grid = &grid
		}
	}
	if _, present := keys["map_image_config"]; present {
		d.SetImage = true
		if !isJSONNull(probe.Image) {
			d.Image = probe.Image
		}
	}
	return nil
}

// MarshalJSON re-emits only the keys that were set, preserving explicit
// nulls for the rebroadcast to clients.
func (d MapConfigUpdateData) MarshalJSON() ([]byte, error) {
	out := map[string]any{"filename": d.Filename}
	if d.SetGrid {
		if d.Grid != nil {
			out["grid_config"] = d.Grid
		} else {
			out["grid_config"] = nil
		}
	}
	if d.SetImage {
		if d.Image != nil {
			out["map_image_config"] = d.Image
		} else {
			out["map_image_config"] = nil
		}
	}
	return json.Marshal(out)
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// --- Presence, lobby, log bookkeeping ---

// PresenceData announces a connection state change.
type PresenceData struct {
	PlayerName string `json:"player_name"`
}

// LobbyPlayer is one roster entry in a lobby update.
type LobbyPlayer struct {
	PlayerName string                     `json:"player_name"`
	Status     types.ConnectionStatusType `json:"status"`
}

// LobbyUpdateData carries the connected-but-unseated roster.
type LobbyUpdateData struct {
	Players []LobbyPlayer `json:"players"`
}

// AdventureLogRemovedData tells clients to drop a rendered log entry.
type AdventureLogRemovedData struct {
	PromptID string `json:"prompt_id"`
}

// MessagesClearedData reports a bulk adventure-log deletion.
type MessagesClearedData struct {
	Count     int    `json:"count"`
	ClearedBy string `json:"cleared_by,omitempty"`
}

// PlayerCharacterChangedData announces a character-sheet update.
type PlayerCharacterChangedData struct {
	PlayerName    string          `json:"player_name"`
	CharacterName string          `json:"character_name,omitempty"`
	Sheet         json.RawMessage `json:"sheet,omitempty"`
}
