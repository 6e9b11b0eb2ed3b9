package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/metrics"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// diceFollowupDelay paces log-removal broadcasts behind a resolved roll so
// every client renders the roll before the prompt entry disappears.
const diceFollowupDelay = 500 * time.Millisecond

// AudioURLRefresher re-signs expiring asset URLs through the site service.
// A nil refresher disables refresh; playback falls back to stored URLs.
type AudioURLRefresher interface {
	RefreshAudioURL(ctx context.Context, assetID string) (string, error)
}

// Request is one decoded frame bound to the connection that sent it. Player
// is the socket's authoritative identity; payload player fields are display
// data and never grant authority.
type Request struct {
	Client types.ClientInterface
	Room   types.RoomChannel
	Frame  events.Frame
	Player types.PlayerNameType
}

// RoomId is a convenience accessor for the connection's room.
func (r *Request) RoomId() types.RoomIdType {
	return r.Client.GetRoomId()
}

// HandlerResult describes what to broadcast after a handler succeeds.
// Primary goes out first; LogRemoval and PromptClear follow, paced by the
// dice follow-up delay when the trigger was a roll; LobbyUpdate re-announces
// the lobby roster last.
type HandlerResult struct {
	Primary     *events.Frame
	LogRemoval  *events.Frame
	PromptClear *events.Frame
	LobbyUpdate bool
}

// HandlerFunc processes one inbound frame.
type HandlerFunc func(ctx context.Context, req *Request) (HandlerResult, error)

// Dispatcher routes decoded frames to their handlers and fans results out to
// the room. It implements types.GameRouter; one instance serves every room,
// per-connection ordering comes from each connection's single read loop.
type Dispatcher struct {
	rooms    *RoomService
	maps     *MapService
	logs     *AdventureLogService
	assets   AudioURLRefresher
	handlers map[string]HandlerFunc

	// followupDelay is diceFollowupDelay in production, zero in tests.
	followupDelay time.Duration
	now           func() time.Time

	// initiativeMu guards the minted initiative prompt id per room so
	// clear_all can find the group entry without the client echoing the id.
	initiativeMu      sync.Mutex
	initiativePrompts map[types.RoomIdType]types.PromptIdType
}

func NewDispatcher(rooms *RoomService, maps *MapService, logs *AdventureLogService, assets AudioURLRefresher) *Dispatcher {
	d := &Dispatcher{
		rooms:             rooms,
		maps:              maps,
		logs:              logs,
		assets:            assets,
		followupDelay:     diceFollowupDelay,
		now:               time.Now,
		initiativePrompts: map[types.RoomIdType]types.PromptIdType{},
	}
	d.handlers = map[string]HandlerFunc{
		events.EventSeatChange:      d.handleSeatChange,
		events.EventSeatCountChange: d.handleSeatCountChange,
		events.EventPlayerDisplaced: d.handlePlayerDisplaced,
		events.EventColorChange:     d.handleColorChange,
		events.EventRoleChange:      d.handleRoleChange,
		events.EventPlayerKicked:    d.handlePlayerKicked,
		events.EventCombatState:     d.handleCombatState,

		events.EventDicePrompt:          d.handleDicePrompt,
		events.EventInitiativePromptAll: d.handleInitiativePromptAll,
		events.EventDicePromptClear:     d.handleDicePromptClear,
		events.EventDiceRoll:            d.handleDiceRoll,

		events.EventClearSystemMessages: d.handleClearSystemMessages,
		events.EventClearAllMessages:    d.handleClearAllMessages,

		events.EventRemoteAudioPlay:   d.handleRemoteAudioPlay,
		events.EventRemoteAudioResume: d.handleRemoteAudioResume,
		events.EventRemoteAudioBatch:  d.handleRemoteAudioBatch,

		events.EventMapLoad:         d.handleMapLoad,
		events.EventMapClear:        d.handleMapClear,
		events.EventMapConfigUpdate: d.handleMapConfigUpdate,
		events.EventMapRequest:      d.handleMapRequest,
	}
	return d
}

// Route decodes and dispatches one raw frame. Malformed frames and unknown
// event types are dropped with a log line; handler errors go back to the
// sender as an error frame, never to the room.
func (d *Dispatcher) Route(ctx context.Context, client types.ClientInterface, room types.RoomChannel, raw []byte) {
	frame, err := events.Decode(raw)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues("malformed", "dropped").Inc()
		logging.Warn(ctx, "Dropping malformed frame",
			zap.String("player_name", string(client.GetPlayerName())),
			zap.Error(err))
		return
	}
	handler, ok := d.handlers[frame.EventType]
	if !ok {
		metrics.WebsocketEvents.WithLabelValues(frame.EventType, "unknown").Inc()
		logging.Warn(ctx, "Dropping unknown event type",
			zap.String("event_type", frame.EventType),
			zap.String("player_name", string(client.GetPlayerName())))
		return
	}
	req := &Request{
		Client: client,
		Room:   room,
		Frame:  frame,
		Player: types.NormalizePlayerName(string(client.GetPlayerName())),
	}
	result, err := d.invoke(ctx, handler, req)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues(frame.EventType, "error").Inc()
		logging.Warn(ctx, "Event handler failed",
			zap.String("event_type", frame.EventType),
			zap.String("player_name", string(req.Player)),
			zap.Error(err))
		client.SendRaw(events.EncodeError(err.Error()))
		return
	}
	metrics.WebsocketEvents.WithLabelValues(frame.EventType, "ok").Inc()
	d.emit(ctx, room, frame.EventType, result)
}

// invoke runs the handler with panic recovery. A panicking handler must not
// take down the connection's read loop.
func (d *Dispatcher) invoke(ctx context.Context, handler HandlerFunc, req *Request) (result HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(ctx, "⚠️ Event handler panicked",
				zap.String("event_type", req.Frame.EventType),
				zap.String("player_name", string(req.Player)),
				zap.Any("panic", r))
			result = HandlerResult{}
			err = validationf("internal error handling %s", req.Frame.EventType)
		}
	}()
	return handler(ctx, req)
}

// emit broadcasts a handler's results in order.
func (d *Dispatcher) emit(ctx context.Context, room types.RoomChannel, eventType string, result HandlerResult) {
	if result.Primary != nil {
		d.broadcastFrame(ctx, room, *result.Primary)
	}
	if result.LogRemoval != nil || result.PromptClear != nil {
		if eventType == events.EventDiceRoll && d.followupDelay > 0 {
			time.Sleep(d.followupDelay)
		}
		if result.LogRemoval != nil {
			d.broadcastFrame(ctx, room, *result.LogRemoval)
		}
		if result.PromptClear != nil {
			d.broadcastFrame(ctx, room, *result.PromptClear)
		}
	}
	if result.LobbyUpdate {
		room.BroadcastLobbyUpdate(ctx)
	}
}

func (d *Dispatcher) broadcastFrame(ctx context.Context, room types.RoomChannel, frame events.Frame) {
	data, err := frame.Encode()
	if err != nil {
		logging.Error(ctx, "Failed to encode broadcast frame",
			zap.String("event_type", frame.EventType),
			zap.Error(err))
		return
	}
	room.Broadcast(ctx, data)
}

// unicastFrame sends a frame to one player; reports whether they were
// connected to receive it.
func (d *Dispatcher) unicastFrame(ctx context.Context, room types.RoomChannel, player types.PlayerNameType, frame events.Frame) bool {
	data, err := frame.Encode()
	if err != nil {
		logging.Error(ctx, "Failed to encode unicast frame",
			zap.String("event_type", frame.EventType),
			zap.Error(err))
		return false
	}
	return room.SendToPlayer(ctx, player, data)
}
