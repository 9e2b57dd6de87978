// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package controller

import (
	"github.com/varbooth/varbooth/internal/model"
)

// CurrentMatchData is the current_match_data event payload: the arena's
// loaded match plus the recorded match under review, when there is one.
type CurrentMatchData struct {
	ArenaMatch model.MatchLoad      `json:"arena_match"`
	Timing     model.MatchTiming    `json:"timing"`
	Match      *model.RecordedMatch `json:"match,omitempty"`
}

// Status snapshots the controller's workflow state.
func (c *Controller) Status() model.ControllerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return model.ControllerStatus{
		State:           c.state,
		SelectedMatchID: c.selected,
		Recording:       c.recording,
		RealtimeData:    c.state == model.StateLive,
		CursorTimeSec:   c.cursor,
	}
}

// MatchData snapshots the current_match_data payload. The review events
// come back sorted for display.
func (c *Controller) MatchData() CurrentMatchData {
	c.mu.RLock()
	data := CurrentMatchData{
		ArenaMatch: c.matchLoad,
		Timing:     c.timing,
	}
	varID := c.selected
	if varID == "" {
		varID = c.current
	}
	c.mu.RUnlock()

	if varID != "" {
		if match, err := c.store.Get(varID); err == nil {
			if sorted, err := c.store.ListSorted(varID); err == nil {
				match.Events = sorted
			}
			data.Match = &match
		}
	}
	return data
}

// MatchTime snapshots the arena's latest time report as a UI sample.
func (c *Controller) MatchTime() model.MatchTimeSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matchTime.Sample()
}

// RealtimeScore snapshots the last known live score.
func (c *Controller) RealtimeScore() model.RealtimeScore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.realtimeScore
}

// ScoringStatus snapshots the arena's scoring readiness flags.
func (c *Controller) ScoringStatus() model.ScoringStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scoringStatus
}

// MatchList snapshots the stored match summaries, newest first.
func (c *Controller) MatchList() []model.MatchSummary {
	return c.store.Summaries()
}

// ArenaMatches snapshots the arena's schedules and results by match type.
func (c *Controller) ArenaMatches() map[string][]model.Match {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]model.Match, len(c.arenaMatches))
	for k, v := range c.arenaMatches {
		out[k] = v
	}
	return out
}

// ArenaConnection snapshots the arena link state.
func (c *Controller) ArenaConnection() model.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return model.ConnectionStatus{Connected: c.arenaUp}
}

// HyperdeckConnection snapshots the recorder link state.
func (c *Controller) HyperdeckConnection() model.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return model.ConnectionStatus{Connected: c.deviceUp}
}

// HyperdeckStatus snapshots the recorder state, resolving the playback
// position against the clip under review.
func (c *Controller) HyperdeckStatus() model.HyperdeckStatus {
	c.mu.RLock()
	varID := c.selected
	c.mu.RUnlock()

	clipID := 0
	if varID != "" {
		if match, err := c.store.Get(varID); err == nil && match.ClipID != nil {
			clipID = *match.ClipID
		}
	}
	return c.device.Status(clipID)
}
