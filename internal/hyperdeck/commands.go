// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package hyperdeck

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/varbooth/varbooth/internal/dispatch"
	"github.com/varbooth/varbooth/internal/metrics"
	"github.com/varbooth/varbooth/internal/model"
	"github.com/varbooth/varbooth/internal/retry"
)

// command is one unit of work for the executor. Commands run strictly in
// submission order; the recorder misbehaves when requests interleave.
type command struct {
	name string
	run  func(ctx context.Context) error
}

// RunCommands drains the command queue until ctx is canceled.
func (c *Client) RunCommands(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.commands:
			c.execute(ctx, cmd)
		}
	}
}

func (c *Client) execute(ctx context.Context, cmd command) {
	start := c.clock.Now()
	policy := retry.Policy{
		Interval:    c.cfg.CommandRetryDelay,
		MaxAttempts: c.cfg.CommandAttempts,
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, policy.Do(ctx, c.clock, func() error {
			return cmd.run(ctx)
		})
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.log.Error().Err(err).Str("command", cmd.name).Msg("recorder command failed")
	}
	metrics.DeviceCommands.WithLabelValues(cmd.name, outcome).Inc()
	metrics.DeviceCommandDuration.WithLabelValues(cmd.name).
		Observe(c.clock.Now().Sub(start).Seconds())
}

// enqueue submits a command without blocking the caller. A full queue
// means the recorder is wedged; dropping is better than stalling the
// match cycle.
func (c *Client) enqueue(name string, run func(ctx context.Context) error) {
	select {
	case c.commands <- command{name: name, run: run}:
	default:
		c.log.Error().Str("command", name).Msg("recorder command queue full, dropping")
		metrics.DeviceCommands.WithLabelValues(name, "dropped").Inc()
	}
}

// ShowLiveView switches the recorder output to the live input feed.
func (c *Client) ShowLiveView() {
	c.enqueue("show_live_view", func(ctx context.Context) error {
		body := struct {
			Mode model.TransportMode `json:"mode"`
		}{Mode: model.TransportInputPreview}
		return c.do(ctx, http.MethodPut, "/transports/0", body)
	})
}

// StartRecording starts capturing a new clip under the given name.
func (c *Client) StartRecording(clipName string) {
	c.enqueue("start_recording", func(ctx context.Context) error {
		body := struct {
			ClipName string `json:"clipName,omitempty"`
		}{ClipName: clipName}
		if err := c.do(ctx, http.MethodPost, "/transports/0/record", body); err != nil {
			return err
		}
		metrics.RecordingsStarted.Inc()
		c.log.Info().Str("clip_name", clipName).Msg("recording started")
		return nil
	})
}

// StopRecording stops the capture, waits for the recorder to finalize the
// clip, and publishes the clip id for the given match.
func (c *Client) StopRecording(varID string) {
	c.enqueue("stop_recording", func(ctx context.Context) error {
		if err := c.do(ctx, http.MethodPost, "/transports/0/stop", nil); err != nil {
			return err
		}
		c.log.Info().Str("var_id", varID).Msg("recording stopped")

		clip, err := c.awaitFinalizedClip(ctx)
		if err != nil {
			return err
		}

		c.mu.Lock()
		c.clips[clip.ClipUniqueID] = clip
		c.mu.Unlock()

		c.log.Info().
			Str("var_id", varID).
			Int("clip_id", clip.ClipUniqueID).
			Int("frames", clip.FrameCount).
			Msg("clip finalized")
		c.publish(dispatch.KindClipFinalized, ClipFinalized{
			VarID:    varID,
			ClipID:   clip.ClipUniqueID,
			FilePath: clip.FilePath,
		})
		return nil
	})
}

// awaitFinalizedClip polls the current clip endpoint until the recorder
// reports finalized metadata or the timeout elapses. Right after a stop
// the endpoint returns an empty body; the clip id appears once the file
// is closed out.
func (c *Client) awaitFinalizedClip(ctx context.Context) (model.Clip, error) {
	deadline := c.clock.Now().Add(c.cfg.ClipPollTimeout)
	for {
		if c.clock.Now().After(deadline) {
			return model.Clip{}, fmt.Errorf("clip not finalized within %s", c.cfg.ClipPollTimeout)
		}

		var resp struct {
			Clip *model.Clip `json:"clip"`
		}
		err := c.getJSON(ctx, "/transports/0/clip", &resp)
		if err == nil && resp.Clip != nil && resp.Clip.ClipUniqueID != 0 {
			return *resp.Clip, nil
		}
		if err != nil {
			c.log.Debug().Err(err).Msg("clip poll failed, retrying")
		}

		if err := retry.Sleep(ctx, c.clock, c.cfg.ClipPollInterval); err != nil {
			return model.Clip{}, err
		}
	}
}

// WarpToClip parks playback at time_sec within the given clip, paused.
func (c *Client) WarpToClip(clipID int, timeSec float64) {
	c.enqueue("warp_to_clip", func(ctx context.Context) error {
		c.mu.RLock()
		clip, hasClip := c.clips[clipID]
		c.mu.RUnlock()
		if !hasClip {
			return fmt.Errorf("%w: %d", ErrClipNotFound, clipID)
		}

		timeFrames := int(timeSec * clip.VideoFormat.FrameRate)
		position := c.timelinePosition(clipID, timeFrames)

		body := model.PlaybackState{
			Type:       model.PlaybackJog,
			Loop:       false,
			SingleClip: true,
			Speed:      0,
			Position:   position,
		}
		if err := c.do(ctx, http.MethodPut, "/transports/0/playback", body); err != nil {
			return err
		}
		// The first request loads the clip but lands on its start; the
		// repeat actually applies the position.
		return c.do(ctx, http.MethodPut, "/transports/0/playback", body)
	})
}

// timelinePosition maps a frame offset within a clip onto the playback
// timeline, clamped to the clip's extent. An unknown clip warps to the
// start of the timeline.
func (c *Client) timelinePosition(clipID, timeFrames int) int {
	c.mu.RLock()
	entry, ok := c.timeline[clipID]
	c.mu.RUnlock()
	if !ok {
		c.log.Error().Int("clip_id", clipID).
			Msg("clip missing from timeline, warping to timeline start")
		return 0
	}

	frameInClip := timeFrames
	if frameInClip < entry.ClipIn {
		frameInClip = entry.ClipIn
	}
	if last := entry.ClipIn + entry.FrameCount - 1; frameInClip > last {
		frameInClip = last
	}
	return entry.TimelineIn + frameInClip - entry.ClipIn
}

// do issues one JSON request against the control API and checks the
// response status.
func (c *Client) do(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL(path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(path), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) apiURL(path string) string {
	return "http://" + c.cfg.Address + apiBasePath + path
}
