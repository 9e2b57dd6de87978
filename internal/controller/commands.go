// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package controller

import (
	"github.com/goccy/go-json"

	"github.com/varbooth/varbooth/internal/dispatch"
	"github.com/varbooth/varbooth/internal/metrics"
	"github.com/varbooth/varbooth/internal/model"
	"github.com/varbooth/varbooth/internal/store"
)

// Client command names accepted on the websocket interface.
const (
	CmdLoadMatch    = "load_match"
	CmdWarpToTime   = "warp_to_time"
	CmdWarpToEvent  = "warp_to_event"
	CmdAddVarReview = "add_var_review"
	CmdExitReview   = "exit_review"
	CmdUpdateEvent  = "update_event"
	CmdRemoveEvent  = "remove_event"
)

// handleClientCommand executes one operator command. Malformed or unknown
// commands are dropped with a warning; they must never wedge the loop.
func (c *Controller) handleClientCommand(cmd dispatch.ClientCommand) {
	var err error
	switch cmd.Command {
	case CmdLoadMatch:
		var data struct {
			VarID string `json:"var_id"`
		}
		if err = json.Unmarshal(cmd.Data, &data); err == nil {
			c.loadMatch(data.VarID)
		}

	case CmdWarpToTime:
		var data struct {
			TimeSec float64 `json:"time_sec"`
		}
		if err = json.Unmarshal(cmd.Data, &data); err == nil {
			c.warpToTime(data.TimeSec)
		}

	case CmdWarpToEvent:
		var data struct {
			EventID string `json:"event_id"`
		}
		if err = json.Unmarshal(cmd.Data, &data); err == nil {
			c.warpToEvent(data.EventID)
		}

	case CmdAddVarReview:
		var data struct {
			Alliance    model.Alliance     `json:"alliance,omitempty"`
			TeamIndex   *int               `json:"team_index,omitempty"`
			Reason      string             `json:"reason,omitempty"`
			Coordinates *model.Coordinates `json:"coordinates,omitempty"`
		}
		if err = json.Unmarshal(cmd.Data, &data); err == nil {
			c.addVarReview(data.Alliance, data.TeamIndex, data.Reason, data.Coordinates)
		}

	case CmdExitReview:
		c.exitReview()

	case CmdUpdateEvent:
		var data struct {
			EventID     string             `json:"event_id"`
			TimeSec     *float64           `json:"time_sec,omitempty"`
			Alliance    *model.Alliance    `json:"alliance,omitempty"`
			TeamIndex   *int               `json:"team_index,omitempty"`
			Reason      *string            `json:"reason,omitempty"`
			Coordinates *model.Coordinates `json:"coordinates,omitempty"`
		}
		if err = json.Unmarshal(cmd.Data, &data); err == nil {
			c.updateEvent(data.EventID, store.EventUpdate{
				TimeSec:     data.TimeSec,
				Alliance:    data.Alliance,
				TeamIndex:   data.TeamIndex,
				Reason:      data.Reason,
				Coordinates: data.Coordinates,
			})
		}

	case CmdRemoveEvent:
		var data struct {
			EventID string `json:"event_id"`
		}
		if err = json.Unmarshal(cmd.Data, &data); err == nil {
			c.removeEvent(data.EventID)
		}

	default:
		metrics.CommandsDropped.WithLabelValues("unknown").Inc()
		c.log.Warn().Str("command", cmd.Command).Msg("unknown client command dropped")
		return
	}

	if err != nil {
		metrics.CommandsDropped.WithLabelValues("malformed").Inc()
		c.log.Warn().Err(err).Str("command", cmd.Command).Msg("malformed client command dropped")
	}
}

// loadMatch puts a stored match on screen for manual review.
func (c *Controller) loadMatch(varID string) {
	match, err := c.store.Get(varID)
	if err != nil {
		c.log.Warn().Err(err).Str("var_id", varID).Msg("load_match for unknown match")
		return
	}

	// Review starts at the first event, or the clip start when the match
	// has none.
	cursor := 0.0
	if events, err := c.store.ListSorted(varID); err == nil && len(events) > 0 {
		cursor = events[0].TimeSec
	}

	c.mu.Lock()
	c.state = model.StateManualReview
	c.selected = varID
	c.cursor = cursor
	c.mu.Unlock()

	c.log.Info().Str("var_id", varID).Msg("loading match for review")
	if match.ClipID != nil && c.device.HasPlayableClip(*match.ClipID) {
		c.device.WarpToClip(*match.ClipID, cursor)
	} else {
		c.log.Warn().Str("var_id", varID).Msg("no playable clip for match")
	}

	c.notify(EventControllerStatus)
	c.notify(EventCurrentMatchData)
}

// warpToTime moves the review cursor to an absolute clip time.
func (c *Controller) warpToTime(timeSec float64) {
	c.mu.Lock()
	if c.state == model.StateLive {
		c.mu.Unlock()
		c.log.Warn().Msg("warp_to_time outside review, ignoring")
		return
	}
	if timeSec < 0 {
		timeSec = 0
	}
	c.cursor = timeSec
	varID := c.selected
	c.mu.Unlock()

	c.warpDevice(varID, timeSec)
	c.notify(EventControllerStatus)
}

// warpToEvent moves the review cursor to a review event's time.
func (c *Controller) warpToEvent(eventID string) {
	c.mu.RLock()
	state := c.state
	varID := c.selected
	c.mu.RUnlock()
	if state == model.StateLive {
		c.log.Warn().Msg("warp_to_event outside review, ignoring")
		return
	}

	events, err := c.store.ListSorted(varID)
	if err != nil {
		c.log.Warn().Err(err).Str("var_id", varID).Msg("warp_to_event for unknown match")
		return
	}
	for _, ev := range events {
		if ev.ID == eventID {
			c.mu.Lock()
			c.cursor = ev.TimeSec
			c.mu.Unlock()
			c.warpDevice(varID, ev.TimeSec)
			c.notify(EventControllerStatus)
			return
		}
	}
	c.log.Warn().Str("event_id", eventID).Msg("warp_to_event for unknown event")
}

func (c *Controller) warpDevice(varID string, timeSec float64) {
	match, err := c.store.Get(varID)
	if err != nil || match.ClipID == nil {
		return
	}
	c.device.WarpToClip(*match.ClipID, timeSec)
}

// addVarReview marks an operator review event at the point under review.
// The device's playback position wins over the stored cursor when the
// clip is loaded, so scrubbing on the recorder marks where the operator
// actually is.
func (c *Controller) addVarReview(alliance model.Alliance, teamIndex *int, reason string, coords *model.Coordinates) {
	c.mu.RLock()
	state := c.state
	varID := c.selected
	cursor := c.cursor
	c.mu.RUnlock()
	if state == model.StateLive {
		c.log.Warn().Msg("add_var_review outside review, ignoring")
		return
	}

	timeSec := cursor
	if match, err := c.store.Get(varID); err == nil && match.ClipID != nil {
		if c.device.HasPlayableClip(*match.ClipID) {
			timeSec = c.device.TimeWithinClip(*match.ClipID)
		}
	}

	if _, err := c.store.AddEvent(varID, model.ReviewEvent{
		Kind:        model.EventVarReview,
		TimeSec:     timeSec,
		Alliance:    alliance,
		TeamIndex:   teamIndex,
		Reason:      reason,
		Coordinates: coords,
	}); err != nil {
		c.log.Error().Err(err).Str("var_id", varID).Msg("failed to add var review event")
	}
}

// exitReview returns to the live feed.
func (c *Controller) exitReview() {
	c.mu.Lock()
	if c.state == model.StateLive {
		c.mu.Unlock()
		return
	}
	c.state = model.StateLive
	c.selected = ""
	c.cursor = 0
	c.mu.Unlock()

	c.device.ShowLiveView()
	c.log.Info().Msg("review ended, back to live view")
	c.notify(EventControllerStatus)
	c.notify(EventCurrentMatchData)
}

// updateEvent applies a partial edit to a review event on the selected
// match.
func (c *Controller) updateEvent(eventID string, upd store.EventUpdate) {
	c.mu.RLock()
	varID := c.selected
	c.mu.RUnlock()
	if varID == "" {
		c.log.Warn().Msg("update_event with no match selected, ignoring")
		return
	}
	if err := c.store.UpdateEvent(varID, eventID, upd); err != nil {
		c.log.Warn().Err(err).Str("event_id", eventID).Msg("update_event failed")
	}
}

// removeEvent deletes a review event from the selected match.
func (c *Controller) removeEvent(eventID string) {
	c.mu.RLock()
	varID := c.selected
	c.mu.RUnlock()
	if varID == "" {
		c.log.Warn().Msg("remove_event with no match selected, ignoring")
		return
	}
	if err := c.store.RemoveEvent(varID, eventID); err != nil {
		c.log.Warn().Err(err).Str("event_id", eventID).Msg("remove_event failed")
	}
}
