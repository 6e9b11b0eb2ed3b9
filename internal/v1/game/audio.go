package game

import (
	"context"

	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// handleRemoteAudioPlay starts playback on the named channels. Persistence is
// best-effort: a store failure is logged and the broadcast still goes out, so
// a flaky database never silences the table.
func (d *Dispatcher) handleRemoteAudioPlay(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.RemoteAudioPlayData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("remote_audio_play: %v", err)
	}
	if err := data.Validate(); err != nil {
		return HandlerResult{}, validationf("%v", err)
	}
	if data.TriggeredBy == "" {
		data.TriggeredBy = string(req.Player)
	}

	room, err := d.rooms.GetRoom(ctx, req.RoomId())
	if err != nil {
		return HandlerResult{}, err
	}
	state := room.AudioState
	if state == nil {
		state = map[string]types.AudioChannel{}
	}

	now := d.now()
	for _, track := range data.Tracks {
		channel := state[track.ChannelID]
		channel.Filename = track.Filename
		if track.AssetID != "" {
			channel.AssetID = track.AssetID
		}
		if track.S3URL != "" {
			channel.S3URL = track.S3URL
		}
		if track.Volume != nil {
			channel.Volume = *track.Volume
		}
		if track.Looping != nil {
			channel.Looping = *track.Looping
		}
		channel.Play(now)
		state[track.ChannelID] = channel

		if err := d.rooms.UpdateAudioChannel(ctx, req.RoomId(), track.ChannelID, channel); err != nil {
			logging.Warn(ctx, "⚠️ Audio play persisted partially, broadcasting anyway",
				zap.String("room_id", string(req.RoomId())),
				zap.String("channel_id", track.ChannelID),
				zap.Error(err))
		}
	}

	frame, err := events.New(events.EventRemoteAudioPlay, map[string]any{
		"tracks":       data.Tracks,
		"audio_state":  state,
		"triggered_by": data.TriggeredBy,
	})
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}

// handleRemoteAudioResume restarts paused channels, back-dating started_at by
// the paused offset. Stored presigned URLs may have expired while paused, so
// each resumed channel's s3_url is refreshed through the assets client when
// one is configured.
func (d *Dispatcher) handleRemoteAudioResume(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.RemoteAudioResumeData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("remote_audio_resume: %v", err)
	}
	channelIds := data.ChannelIDs()
	if len(channelIds) == 0 {
		return HandlerResult{}, validationf("remote_audio_resume requires tracks or track_type")
	}
	if data.TriggeredBy == "" {
		data.TriggeredBy = string(req.Player)
	}

	room, err := d.rooms.GetRoom(ctx, req.RoomId())
	if err != nil {
		return HandlerResult{}, err
	}
	state := room.AudioState
	if state == nil {
		state = map[string]types.AudioChannel{}
	}

	now := d.now()
	for _, channelId := range channelIds {
		channel, ok := state[channelId]
		if !ok {
			logging.Warn(ctx, "Resume on unknown audio channel",
				zap.String("room_id", string(req.RoomId())),
				zap.String("channel_id", channelId))
			continue
		}
		channel.Resume(now)
		if channel.AssetID != "" && d.assets != nil {
			if url, err := d.assets.RefreshAudioURL(ctx, channel.AssetID); err != nil {
				logging.Warn(ctx, "Audio URL refresh failed, keeping stored URL",
					zap.String("asset_id", channel.AssetID),
					zap.Error(err))
			} else if url != "" {
				channel.S3URL = url
			}
		}
		state[channelId] = channel

		if err := d.rooms.UpdateAudioChannel(ctx, req.RoomId(), channelId, channel); err != nil {
			logging.Warn(ctx, "⚠️ Audio resume persisted partially, broadcasting anyway",
				zap.String("room_id", string(req.RoomId())),
				zap.String("channel_id", channelId),
				zap.Error(err))
		}
	}

	frame, err := events.New(events.EventRemoteAudioResume, map[string]any{
		"tracks":       channelIds,
		"audio_state":  state,
		"triggered_by": data.TriggeredBy,
	})
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}

// handleRemoteAudioBatch validates every operation, applies them in order
// against a single fetched audio state, persists the result in one write, and
// emits one broadcast so clients run the batch as a single scene change.
func (d *Dispatcher) handleRemoteAudioBatch(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.RemoteAudioBatchData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("remote_audio_batch: %v", err)
	}
	if err := data.Validate(); err != nil {
		return HandlerResult{}, validationf("%v", err)
	}
	if data.TriggeredBy == "" {
		data.TriggeredBy = string(req.Player)
	}

	room, err := d.rooms.GetRoom(ctx, req.RoomId())
	if err != nil {
		return HandlerResult{}, err
	}
	state := room.AudioState
	if state == nil {
		state = map[string]types.AudioChannel{}
	}

	now := d.now()
	for _, op := range data.Operations {
		channel := state[op.TrackID]
		switch op.Operation {
		case events.AudioOpPlay:
			channel.Load(op.Filename, op.AssetID, op.S3URL)
			applyChannelOptions(&channel, op)
			channel.Play(now)
		case events.AudioOpLoad:
			channel.Load(op.Filename, op.AssetID, op.S3URL)
			applyChannelOptions(&channel, op)
		case events.AudioOpStop:
			channel.Stop()
		case events.AudioOpPause:
			channel.Pause(now)
		case events.AudioOpResume:
			channel.Resume(now)
		case events.AudioOpVolume:
			applyChannelOptions(&channel, op)
		case events.AudioOpLoop:
			applyChannelOptions(&channel, op)
		}
		state[op.TrackID] = channel
	}

	if err := d.rooms.ReplaceAudioState(ctx, req.RoomId(), state); err != nil {
		logging.Warn(ctx, "⚠️ Audio batch persisted partially, broadcasting anyway",
			zap.String("room_id", string(req.RoomId())),
			zap.Int("operations", len(data.Operations)),
			zap.Error(err))
	}

	frame, err := events.New(events.EventRemoteAudioBatch, events.AudioStateBroadcast{
		Operations:   data.Operations,
		AudioState:   state,
		FadeDuration: data.FadeDuration,
		TriggeredBy:  data.TriggeredBy,
	})
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}

// applyChannelOptions applies the optional volume and looping parameters of a
// batch operation. Bounds were already validated.
func applyChannelOptions(channel *types.AudioChannel, op events.AudioBatchOperation) {
	if op.Volume != nil {
		channel.Volume = *op.Volume
	}
	if op.Looping != nil {
		channel.Looping = *op.Looping
	}
}
