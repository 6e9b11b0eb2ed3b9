package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"k8s.io/utils/set"
)

// --- Core Domain Types ---

// RoomIdType represents a unique identifier for a game room.
type RoomIdType string

// PlayerNameType represents the normalized (lowercased) name of a player.
type PlayerNameType string

// RoleType defines the different roles a player can hold in a room.
type RoleType string

// LogIdType is the microsecond-resolution identifier of an adventure log entry.
type LogIdType int64

// PromptIdType identifies a pending dice prompt.
type PromptIdType string

// PlaybackStateType is the lifecycle state of an audio channel.
type PlaybackStateType string

// DisplayType names what the shared room screen is currently showing.
type DisplayType string

// ConnectionStatusType is the presence state of a (room, player) pair.
type ConnectionStatusType string

// Role constants define the room hierarchy.
const (
	RoleTypeHost      RoleType = "host"      // Room creator, implicit moderator
	RoleTypeModerator RoleType = "moderator" // Elevated players
	RoleTypeDM        RoleType = "dm"        // Dungeon master
	RoleTypePlayer    RoleType = "player"    // Default seat holder
)

const (
	PlaybackPlaying PlaybackStateType = "playing"
	PlaybackPaused  PlaybackStateType = "paused"
	PlaybackStopped PlaybackStateType = "stopped"
)

const (
	DisplayTypeMap  DisplayType = "map"
	DisplayTypeNone DisplayType = ""
)

const (
	ConnectionStatusConnected     ConnectionStatusType = "connected"
	ConnectionStatusDisconnecting ConnectionStatusType = "disconnecting"
)

// SeatEmpty is the sentinel value marking an unoccupied seat in a layout.
const SeatEmpty = "empty"

// Seat count bounds for a room.
const (
	MinSeats = 1
	MaxSeats = 8
)

// Volume bounds for an audio channel. The ceiling is above unity so the DM
// can boost quiet source files.
const (
	MinChannelVolume = 0.0
	MaxChannelVolume = 1.3
)

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// NormalizePlayerName lowercases and trims a raw player name. Every ingress
// path (WebSocket accept, event payloads, HTTP bodies) must pass names
// through here before comparing or persisting them.
func NormalizePlayerName(raw string) PlayerNameType {
	return PlayerNameType(strings.ToLower(strings.TrimSpace(raw)))
}

// ValidateHexColor checks the #RRGGBB seat color format.
func ValidateHexColor(color string) error {
	if !hexColorPattern.MatchString(color) {
		return fmt.Errorf("invalid color format %q: must match #RRGGBB", color)
	}
	return nil
}

// ValidateMaxPlayers bounds-checks a requested seat count.
func ValidateMaxPlayers(n int) error {
	if n < MinSeats || n > MaxSeats {
		return fmt.Errorf("max_players must be between %d and %d, got %d", MinSeats, MaxSeats, n)
	}
	return nil
}

// --- Persisted Documents ---

// Room is the persisted game-room document.
type Room struct {
	ID            RoomIdType                `json:"id"`
	MaxPlayers    int                       `json:"max_players"`
	SeatLayout    []string                  `json:"seat_layout"`
	SeatColors    map[string]string         `json:"seat_colors"`
	RoomHost      string                    `json:"room_host"`
	DungeonMaster string                    `json:"dungeon_master"`
	Moderators    []string                  `json:"moderators"`
	AudioState    map[string]AudioChannel   `json:"audio_state"`
	Characters    map[string]CharacterSheet `json:"characters,omitempty"`
	ActiveDisplay DisplayType               `json:"active_display"`
	InCombat      bool                      `json:"in_combat"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// IsHost reports whether the named player created the room.
func (r *Room) IsHost(player PlayerNameType) bool {
	return r.RoomHost != "" && NormalizePlayerName(r.RoomHost) == player
}

// IsModerator reports whether the named player holds moderator powers.
// The host is always a moderator, listed or not.
func (r *Room) IsModerator(player PlayerNameType) bool {
	if r.IsHost(player) {
		return true
	}
	mods := set.New[string]()
	for _, m := range r.Moderators {
		mods.Insert(string(NormalizePlayerName(m)))
	}
	return mods.Has(string(player))
}

// IsDM reports whether the named player is the current dungeon master.
func (r *Room) IsDM(player PlayerNameType) bool {
	return r.DungeonMaster != "" && NormalizePlayerName(r.DungeonMaster) == player
}

// RolesOf lists every role the named player currently holds.
func (r *Room) RolesOf(player PlayerNameType) []RoleType {
	roles := []RoleType{}
	if r.IsHost(player) {
		roles = append(roles, RoleTypeHost)
	}
	if r.IsModerator(player) {
		roles = append(roles, RoleTypeModerator)
	}
	if r.IsDM(player) {
		roles = append(roles, RoleTypeDM)
	}
	if len(roles) == 0 {
		roles = append(roles, RoleTypePlayer)
	}
	return roles
}

// SeatedPlayers returns the non-empty seat entries in order.
func (r *Room) SeatedPlayers() []string {
	players := []string{}
	for _, seat := range r.SeatLayout {
		if seat != SeatEmpty && seat != "" {
			players = append(players, seat)
		}
	}
	return players
}

// EmptySeatLayout builds a layout of n unoccupied seats.
func EmptySeatLayout(n int) []string {
	layout := make([]string, n)
	for i := range layout {
		layout[i] = SeatEmpty
	}
	return layout
}

// AudioChannel is one named audio track inside a room's audio_state map.
// Timing fields are wall-clock epoch seconds: StartedAt is present iff the
// channel is playing, PausedElapsed (seconds into the track) iff paused.
type AudioChannel struct {
	Filename      string            `json:"filename"`
	AssetID       string            `json:"asset_id,omitempty"`
	S3URL         string            `json:"s3_url,omitempty"`
	Volume        float64           `json:"volume"`
	Looping       bool              `json:"looping"`
	PlaybackState PlaybackStateType `json:"playback_state"`
	StartedAt     *float64          `json:"started_at,omitempty"`
	PausedElapsed *float64          `json:"paused_elapsed,omitempty"`
}

// EpochSeconds converts a time to the wall-clock-seconds representation the
// audio timing fields use. Millisecond precision is retained.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000.0
}

// Play marks the channel playing from now. Any paused offset is discarded;
// late joiners derive their seek position from StartedAt.
func (c *AudioChannel) Play(now time.Time) {
	startedAt := EpochSeconds(now)
	c.PlaybackState = PlaybackPlaying
	c.StartedAt = &startedAt
	c.PausedElapsed = nil
}

// Pause freezes the channel, capturing the seconds elapsed since playback
// began. Pausing a channel that is not playing is a no-op.
func (c *AudioChannel) Pause(now time.Time) {
	if c.PlaybackState != PlaybackPlaying || c.StartedAt == nil {
		return
	}
	elapsed := EpochSeconds(now) - *c.StartedAt
	if elapsed < 0 {
		elapsed = 0
	}
	c.PlaybackState = PlaybackPaused
	c.PausedElapsed = &elapsed
	c.StartedAt = nil
}

// Resume restarts a paused channel, back-dating StartedAt by the paused
// offset so clients seek to the right position. Resuming a channel that is
// not paused is a no-op.
func (c *AudioChannel) Resume(now time.Time) {
	if c.PlaybackState != PlaybackPaused || c.PausedElapsed == nil {
		return
	}
	startedAt := EpochSeconds(now) - *c.PausedElapsed
	c.PlaybackState = PlaybackPlaying
	c.StartedAt = &startedAt
	c.PausedElapsed = nil
}

// Stop halts the channel and clears both timing fields.
func (c *AudioChannel) Stop() {
	c.PlaybackState = PlaybackStopped
	c.StartedAt = nil
	c.PausedElapsed = nil
}

// Load points the channel at a new track, stopped.
func (c *AudioChannel) Load(filename, assetID, s3URL string) {
	c.Filename = filename
	c.AssetID = assetID
	c.S3URL = s3URL
	c.Stop()
}

// SetVolume bounds-checks and applies a volume change.
func (c *AudioChannel) SetVolume(v float64) error {
	if v < MinChannelVolume || v > MaxChannelVolume {
		return fmt.Errorf("volume %.2f out of range [%.1f, %.1f]", v, MinChannelVolume, MaxChannelVolume)
	}
	c.Volume = v
	return nil
}

// CharacterSheet is the per-player character record stored on the room
// document. Sheet carries the client-defined stat block verbatim.
type CharacterSheet struct {
	CharacterName string          `json:"character_name"`
	Sheet         json.RawMessage `json:"sheet,omitempty"`
}

// GridConfig is the DM-aligned grid overlay for a battle map.
type GridConfig struct {
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Opacity float64 `json:"opacity"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// ActiveMap is one persisted battle map, keyed by (room, filename). At most
// one map per room carries Active=true. MapImageConfig is a client-defined
// positioning record stored verbatim.
type ActiveMap struct {
	RoomID           RoomIdType      `json:"room_id"`
	Filename         string          `json:"filename"`
	OriginalFilename string          `json:"original_filename,omitempty"`
	FilePath         string          `json:"file_path,omitempty"`
	GridConfig       *GridConfig     `json:"grid_config,omitempty"`
	MapImageConfig   json.RawMessage `json:"map_image_config,omitempty"`
	UploadedBy       string          `json:"uploaded_by,omitempty"`
	Active           bool            `json:"active"`
	UpdatedAt        time.Time       `json:"updated_at,omitempty"`
}

// LogEntry is one adventure log line. LogID values are strictly increasing
// within a room.
type LogEntry struct {
	LogID      LogIdType      `json:"log_id"`
	RoomID     RoomIdType     `json:"room_id"`
	Message    string         `json:"message"`
	Type       string         `json:"type"`
	PlayerName PlayerNameType `json:"player_name,omitempty"`
	PromptID   PromptIdType   `json:"prompt_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Adventure log entry types.
const (
	LogTypeSystem        = "system"
	LogTypePlayerRoll    = "player-roll"
	LogTypeDungeonMaster = "dungeon-master"
	LogTypeDicePrompt    = "dice-prompt"
	LogTypePartyUpdated  = "party_updated"
)

// LogStats summarizes a room's current log window.
type LogStats struct {
	TotalLogs int        `json:"total_logs"`
	Types     []string   `json:"types"`
	Players   []string   `json:"players"`
	Oldest    *time.Time `json:"oldest_timestamp,omitempty"`
	Newest    *time.Time `json:"newest_timestamp,omitempty"`
}

// SessionStats is the read-only session summary served by the control plane.
type SessionStats struct {
	DurationMinutes int `json:"duration_minutes"`
	TotalLogs       int `json:"total_logs"`
	MaxPlayers      int `json:"max_players"`
}

// ValidateSeatColors checks every entry of a seat-color update.
func ValidateSeatColors(colors map[string]string) error {
	for seat, color := range colors {
		if err := ValidateHexColor(color); err != nil {
			return fmt.Errorf("seat %s: %w", seat, err)
		}
	}
	return nil
}

// NormalizeSeatLayout lowercases occupied entries and maps blanks to the
// empty-seat sentinel.
func NormalizeSeatLayout(layout []string) []string {
	out := make([]string, len(layout))
	for i, seat := range layout {
		name := string(NormalizePlayerName(seat))
		if name == "" || name == SeatEmpty {
			out[i] = SeatEmpty
			continue
		}
		out[i] = name
	}
	return out
}

// ErrSeatLayoutTooLong is returned when a layout exceeds the room's seat count.
var ErrSeatLayoutTooLong = errors.New("seat layout exceeds max_players")

// FitSeatLayout validates a submitted layout against the seat count and pads
// it with empty seats up to maxPlayers.
func FitSeatLayout(layout []string, maxPlayers int) ([]string, error) {
	if len(layout) > maxPlayers {
		return nil, fmt.Errorf("%w: %d > %d", ErrSeatLayoutTooLong, len(layout), maxPlayers)
	}
	fitted := NormalizeSeatLayout(layout)
	for len(fitted) < maxPlayers {
		fitted = append(fitted, SeatEmpty)
	}
	return fitted, nil
}

// --- Shared Interfaces ---

// ClientInterface defines the behavior required from a WebSocket client.
// This allows the game package to interact with clients without depending
// on the transport package.
type ClientInterface interface {
	GetRoomId() RoomIdType
	GetPlayerName() PlayerNameType
	SendRaw(data []byte)
	Disconnect()
}

// RoomChannel is the per-room fan-out handle handed to event handlers and
// HTTP routes. Implemented by the transport connection manager.
type RoomChannel interface {
	RoomId() RoomIdType
	Broadcast(ctx context.Context, data []byte)
	SendToPlayer(ctx context.Context, player PlayerNameType, data []byte) bool
	BroadcastLobbyUpdate(ctx context.Context)
	SetPartyStatus(player PlayerNameType, inParty bool)
	SyncPartyFromSeats(ctx context.Context, seats []string)
	ConnectedPlayers() []PlayerNameType
	// DisconnectPlayer closes the player's sockets and drops them from
	// presence immediately, skipping the reconnect grace period.
	DisconnectPlayer(ctx context.Context, player PlayerNameType)
	CloseRoom(reason string)
}

// GameRouter receives connection lifecycle callbacks and decoded frames
// from the transport layer.
type GameRouter interface {
	HandleConnect(ctx context.Context, client ClientInterface, room RoomChannel)
	Route(ctx context.Context, client ClientInterface, room RoomChannel, raw []byte)
	HandleDisconnect(ctx context.Context, client ClientInterface, room RoomChannel)
}

// Notifier lets the HTTP control plane reach live room connections.
type Notifier interface {
	Room(roomId RoomIdType) RoomChannel
}
