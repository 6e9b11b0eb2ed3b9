package game

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

const initiativePromptPrefix = "initiative-"

func (d *Dispatcher) trackInitiativePrompt(roomId types.RoomIdType, promptId types.PromptIdType) {
	d.initiativeMu.Lock()
	defer d.initiativeMu.Unlock()
	d.initiativePrompts[roomId] = promptId
}

// takeInitiativePrompt returns and forgets the room's pending initiative
// prompt id. Falls back to empty when none is tracked.
func (d *Dispatcher) takeInitiativePrompt(roomId types.RoomIdType) types.PromptIdType {
	d.initiativeMu.Lock()
	defer d.initiativeMu.Unlock()
	id := d.initiativePrompts[roomId]
	delete(d.initiativePrompts, roomId)
	return id
}

// isInitiativePrompt reports whether the id belongs to a group initiative
// prompt. Those are shared across targets, so an individual roll must not
// delete the entry; only clear_all does.
func (d *Dispatcher) isInitiativePrompt(roomId types.RoomIdType, promptId types.PromptIdType) bool {
	if strings.HasPrefix(string(promptId), initiativePromptPrefix) {
		return true
	}
	d.initiativeMu.Lock()
	defer d.initiativeMu.Unlock()
	return d.initiativePrompts[roomId] == promptId
}

// handleDicePrompt records a single-target roll request in the adventure log
// and broadcasts it.
func (d *Dispatcher) handleDicePrompt(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.DicePromptData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("dice_prompt: %v", err)
	}
	if data.PromptedPlayer == "" || data.RollType == "" || data.PromptID == "" {
		return HandlerResult{}, validationf("dice_prompt requires prompted_player, roll_type and prompt_id")
	}
	target := types.NormalizePlayerName(data.PromptedPlayer)
	message := fmt.Sprintf("%s is prompted to roll %s", target, data.RollType)
	if _, err := d.logs.AddEntry(ctx, req.RoomId(), message, types.LogTypeDicePrompt, target, types.PromptIdType(data.PromptID)); err != nil {
		return HandlerResult{}, err
	}
	frame, err := events.New(events.EventDicePrompt, data)
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}

// handleInitiativePromptAll mints one shared prompt id, writes a single log
// entry naming every target, and broadcasts the prompt.
func (d *Dispatcher) handleInitiativePromptAll(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.InitiativePromptAllData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("initiative_prompt_all: %v", err)
	}
	if len(data.TargetPlayers) == 0 {
		return HandlerResult{}, validationf("initiative_prompt_all requires target_players")
	}
	targets := make([]string, 0, len(data.TargetPlayers))
	for _, target := range data.TargetPlayers {
		if name := string(types.NormalizePlayerName(target)); name != "" {
			targets = append(targets, name)
		}
	}
	if len(targets) == 0 {
		return HandlerResult{}, validationf("initiative_prompt_all requires target_players")
	}
	if data.RollType == "" {
		data.RollType = "initiative"
	}
	promptId := types.PromptIdType(initiativePromptPrefix + uuid.NewString())
	message := fmt.Sprintf("Initiative requested from %s", strings.Join(targets, ", "))
	if _, err := d.logs.AddEntry(ctx, req.RoomId(), message, types.LogTypeDicePrompt, req.Player, promptId); err != nil {
		return HandlerResult{}, err
	}
	d.trackInitiativePrompt(req.RoomId(), promptId)

	data.TargetPlayers = targets
	data.PromptID = string(promptId)
	frame, err := events.New(events.EventInitiativePromptAll, data)
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}

// handleDiceRoll formats and logs a resolved roll. A roll bound to a
// single-target prompt also deletes the prompt entry and queues the
// log-removal and prompt-clear follow-ups; group initiative prompts stay
// until cleared explicitly.
func (d *Dispatcher) handleDiceRoll(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.DiceRollData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("dice_roll: %v", err)
	}
	if data.DiceNotation == "" {
		return HandlerResult{}, validationf("dice_roll requires diceNotation")
	}
	roller := types.NormalizePlayerName(data.Player)
	if roller == "" {
		roller = req.Player
	}
	data.Player = string(roller)
	data.Message = events.FormatRollMessage(data)

	if _, err := d.logs.AddEntry(ctx, req.RoomId(), data.Message, types.LogTypePlayerRoll, roller, ""); err != nil {
		return HandlerResult{}, err
	}

	frame, err := events.New(events.EventDiceRoll, data)
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(roller)
	result := HandlerResult{Primary: &frame}

	promptId := types.PromptIdType(data.PromptID)
	if promptId == "" || d.isInitiativePrompt(req.RoomId(), promptId) {
		return result, nil
	}

	removed, err := d.logs.RemoveByPromptId(ctx, req.RoomId(), promptId)
	if err != nil {
		logging.Warn(ctx, "Failed to remove resolved prompt entry",
			zap.String("room_id", string(req.RoomId())),
			zap.String("prompt_id", string(promptId)),
			zap.Error(err))
		return result, nil
	}
	logging.Debug(ctx, "Prompt resolved by roll",
		zap.String("prompt_id", string(promptId)),
		zap.Int64("removed", removed))

	removal, err := events.New(events.EventAdventureLogRemoved, events.AdventureLogRemovedData{PromptID: string(promptId)})
	if err != nil {
		return result, nil
	}
	promptClear, err := events.New(events.EventDicePromptClear, events.DicePromptClearData{PromptID: string(promptId)})
	if err != nil {
		return result, nil
	}
	result.LogRemoval = &removal
	result.PromptClear = &promptClear
	return result, nil
}

// handleDicePromptClear withdraws a pending prompt. clear_all resolves to
// the room's tracked initiative prompt so the client need not echo the
// server-minted id.
func (d *Dispatcher) handleDicePromptClear(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.DicePromptClearData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("dice_prompt_clear: %v", err)
	}
	promptId := types.PromptIdType(data.PromptID)
	if data.ClearAll {
		if tracked := d.takeInitiativePrompt(req.RoomId()); tracked != "" {
			promptId = tracked
		}
	}
	if promptId == "" {
		return HandlerResult{}, validationf("dice_prompt_clear requires prompt_id or clear_all")
	}

	removed, err := d.logs.RemoveByPromptId(ctx, req.RoomId(), promptId)
	if err != nil {
		return HandlerResult{}, err
	}

	data.PromptID = string(promptId)
	frame, err := events.New(events.EventDicePromptClear, data)
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	result := HandlerResult{Primary: &frame}
	if removed > 0 {
		removal, err := events.New(events.EventAdventureLogRemoved, events.AdventureLogRemovedData{PromptID: string(promptId)})
		if err == nil {
			result.LogRemoval = &removal
		}
	}
	return result, nil
}
