// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package controller

import (
	"fmt"
	"time"

	"github.com/varbooth/varbooth/internal/dispatch"
	"github.com/varbooth/varbooth/internal/model"
	"github.com/varbooth/varbooth/internal/retry"
)

// handleMatchReady fires when the arena reports it can start a match.
// Any pending timers for a previous match are stale at this point; the
// booth returns to the live feed regardless of what it was doing.
func (c *Controller) handleMatchReady() {
	c.mu.Lock()
	loadedID := c.matchLoad.Match.ID
	staleVars := make([]string, 0, len(c.timers))
	for varID := range c.timers {
		if m, err := c.store.Get(varID); err == nil && m.ArenaMatchID == loadedID {
			continue
		}
		staleVars = append(staleVars, varID)
	}
	c.mu.Unlock()

	for _, varID := range staleVars {
		c.cancelTimers(varID)
	}

	c.mu.Lock()
	wasReviewing := c.state != model.StateLive
	c.state = model.StateLive
	c.selected = ""
	c.cursor = 0
	c.mu.Unlock()

	c.device.ShowLiveView()
	if wasReviewing {
		c.log.Info().Msg("arena ready, returning to live view")
	}
	c.notify(EventControllerStatus)
}

// handleMatchStarted begins recording a fresh RecordedMatch. Starting a
// new recording implicitly finalizes any prior active one.
func (c *Controller) handleMatchStarted() {
	c.unloadCurrentMatch()

	c.mu.Lock()
	varID := c.newVarID()
	arenaMatchID := c.matchLoad.Match.ID
	c.current = varID
	c.recording = true
	c.startedAt = c.clock.Now()
	c.state = model.StateLive
	c.selected = ""
	c.cursor = 0
	c.mu.Unlock()

	c.log.Info().Str("var_id", varID).Int("arena_match_id", arenaMatchID).
		Msg("match started, recording")

	c.device.StartRecording(varID)
	if err := c.store.Create(model.RecordedMatch{
		VarID:        varID,
		ArenaMatchID: arenaMatchID,
		ClipFileName: varID,
		CreatedAt:    c.clock.Now(),
	}); err != nil {
		c.log.Error().Err(err).Str("var_id", varID).Msg("failed to create match record")
	}
	c.notify(EventControllerStatus)
}

// newVarID derives a unique recording id from the loaded arena match.
// Callers hold c.mu.
func (c *Controller) newVarID() string {
	base := c.matchLoad.Match.ShortName
	if base == "" {
		base = "match"
	}
	if c.matchLoad.IsReplay {
		base += "_replay"
	}

	varID := base
	for seq := 1; c.store.Has(varID); seq++ {
		varID = fmt.Sprintf("%s_%d", base, seq)
	}
	return varID
}

// handleAutoEnded schedules the auto scoring snapshot. The event is added
// when the timer fires so a superseding match cancels it cleanly.
func (c *Controller) handleAutoEnded() {
	c.mu.RLock()
	varID := c.current
	recording := c.recording
	c.mu.RUnlock()
	if !recording {
		c.log.Debug().Msg("auto period ended while not recording, ignoring")
		return
	}
	c.scheduleTimer(varID, timerAutoScoring, c.cfg.AutoScoringDelay)
}

// handleMatchEnded schedules the endgame scoring snapshot and the delayed
// recording stop.
func (c *Controller) handleMatchEnded() {
	c.mu.RLock()
	varID := c.current
	recording := c.recording
	c.mu.RUnlock()
	if !recording {
		c.log.Debug().Msg("match ended while not recording, ignoring")
		return
	}
	c.scheduleTimer(varID, timerEndgameScoring, c.cfg.EndgameScoringDelay)
	c.scheduleTimer(varID, timerStopRecording, c.cfg.EndgameScoringDelay+c.cfg.RecordingExtraTime)
}

// handleMatchCommitted fires when scores are committed at the scoring
// table. The just-played match is done; unload it unless the operator is
// off reviewing some other match.
func (c *Controller) handleMatchCommitted() {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state == model.StateManualReview {
		c.log.Debug().Msg("reviewing a different match, ignoring commit")
		return
	}

	c.unloadCurrentMatch()

	c.mu.Lock()
	c.state = model.StateLive
	c.selected = ""
	c.cursor = 0
	c.mu.Unlock()

	c.device.ShowLiveView()
	c.notify(EventControllerStatus)
}

// handleHrReview records a head referee review request against the
// currently recording match.
func (c *Controller) handleHrReview(review model.HrReview) {
	c.mu.RLock()
	varID := c.current
	recording := c.recording
	load := c.matchLoad
	c.mu.RUnlock()
	if !recording || varID == "" {
		c.log.Warn().Msg("hr review requested with no recording in progress")
		return
	}

	timeSec := review.TimeSec
	if timeSec <= 0 {
		timeSec = c.currentMatchTime()
	}

	ev := model.ReviewEvent{
		Kind:     model.EventHrReview,
		TimeSec:  timeSec,
		Alliance: review.Alliance,
		Reason:   review.Reason,
	}
	if idx, ok := teamIndex(load.Match, review.Alliance, review.TeamID); ok {
		ev.TeamIndex = &idx
	}

	if _, err := c.store.AddEvent(varID, ev); err != nil {
		c.log.Error().Err(err).Str("var_id", varID).Msg("failed to add hr review event")
	}
}

// teamIndex resolves a team number to its 0-based lineup slot on the
// given alliance.
func teamIndex(m model.Match, alliance model.Alliance, teamID int) (int, bool) {
	if teamID == 0 {
		return 0, false
	}
	var lineup [3]int
	switch alliance {
	case model.AllianceRed:
		lineup = [3]int{m.Red1, m.Red2, m.Red3}
	case model.AllianceBlue:
		lineup = [3]int{m.Blue1, m.Blue2, m.Blue3}
	default:
		return 0, false
	}
	for i, team := range lineup {
		if team == teamID {
			return i, true
		}
	}
	return 0, false
}

// handleTimerFired executes a workflow timer. The (var_id, action) entry
// must still be live in the timer table; cancellation removes entries, so
// a stale firing that raced its cancellation is dropped here.
func (c *Controller) handleTimerFired(fired TimerFired) {
	c.mu.Lock()
	actions, ok := c.timers[fired.VarID]
	if ok {
		_, ok = actions[fired.Action]
	}
	if !ok {
		c.mu.Unlock()
		c.log.Debug().Str("var_id", fired.VarID).Str("action", fired.Action).
			Msg("stale timer firing dropped")
		return
	}
	delete(actions, fired.Action)
	if len(actions) == 0 {
		delete(c.timers, fired.VarID)
	}
	c.mu.Unlock()

	switch fired.Action {
	case timerAutoScoring:
		c.addScoringEvent(fired.VarID, model.EventAutoScoring)
	case timerEndgameScoring:
		c.addScoringEvent(fired.VarID, model.EventEndgameScoring)
	case timerStopRecording:
		c.finalizeRecording(fired.VarID)
	default:
		c.log.Warn().Str("action", fired.Action).Msg("unknown timer action")
	}
}

// addScoringEvent marks an automatic scoring snapshot at the current
// match time.
func (c *Controller) addScoringEvent(varID string, kind model.EventKind) {
	c.mu.RLock()
	live := c.recording && c.current == varID
	c.mu.RUnlock()
	if !live {
		return
	}
	if _, err := c.store.AddEvent(varID, model.ReviewEvent{
		Kind:    kind,
		TimeSec: c.currentMatchTime(),
	}); err != nil {
		c.log.Error().Err(err).Str("var_id", varID).Msg("failed to add scoring event")
	}
}

// finalizeRecording stops the recorder and moves into post-match review,
// parked at the auto scoring snapshot. The warp itself happens when the
// recorder reports the finalized clip.
func (c *Controller) finalizeRecording(varID string) {
	c.mu.Lock()
	if !c.recording || c.current != varID {
		c.mu.Unlock()
		c.log.Debug().Str("var_id", varID).Msg("not recording this match, nothing to finalize")
		return
	}
	c.recording = false
	c.state = model.StatePostMatchReview
	c.selected = varID
	c.cursor = c.reviewStartTime(varID)
	c.mu.Unlock()

	c.log.Info().Str("var_id", varID).Msg("match over, stopping recording for review")
	c.device.StopRecording(varID)
	c.notify(EventControllerStatus)
	c.notify(EventCurrentMatchData)
}

// reviewStartTime picks where review begins: the auto scoring snapshot if
// one exists, else the clip start.
func (c *Controller) reviewStartTime(varID string) float64 {
	events, err := c.store.ListSorted(varID)
	if err != nil {
		return 0
	}
	for _, ev := range events {
		if ev.Kind == model.EventAutoScoring {
			return ev.TimeSec
		}
	}
	return 0
}

// handleClipFinalized ties the recorder's clip to its match and warps to
// the review cursor if that match is on screen.
func (c *Controller) handleClipFinalized(varID string, clipID int) {
	if err := c.store.SetClip(varID, clipID); err != nil {
		c.log.Error().Err(err).Str("var_id", varID).Msg("failed to record clip id")
	}

	c.mu.RLock()
	onScreen := c.selected == varID && c.state != model.StateLive
	cursor := c.cursor
	c.mu.RUnlock()

	if onScreen {
		c.device.WarpToClip(clipID, cursor)
	}
	c.notify(EventHyperdeckStatus)
}

// unloadCurrentMatch closes out the active recording, if any.
func (c *Controller) unloadCurrentMatch() {
	c.mu.Lock()
	varID := c.current
	wasRecording := c.recording
	c.current = ""
	c.recording = false
	c.mu.Unlock()

	if varID == "" {
		return
	}
	c.cancelTimers(varID)
	if wasRecording {
		c.log.Info().Str("var_id", varID).Msg("unloading match, stopping recording")
		c.device.StopRecording(varID)
		c.device.ShowLiveView()
	}
}

// scheduleTimer arms a workflow timer. The callback publishes back into
// the dispatch queue, so the effect runs serialized with everything else.
func (c *Controller) scheduleTimer(varID, action string, delaySec float64) {
	delay := time.Duration(delaySec * float64(time.Second))

	c.mu.Lock()
	defer c.mu.Unlock()
	actions, ok := c.timers[varID]
	if !ok {
		actions = make(map[string]retry.Timer)
		c.timers[varID] = actions
	}
	if old, ok := actions[action]; ok {
		old.Stop()
	}
	actions[action] = c.clock.AfterFunc(delay, func() {
		if err := c.queue.Publish(dispatch.KindTimerFired, TimerFired{VarID: varID, Action: action}); err != nil {
			c.log.Error().Err(err).Str("var_id", varID).Str("action", action).
				Msg("failed to publish timer firing")
		}
	})
}

// cancelTimers stops and forgets every pending timer for a match.
func (c *Controller) cancelTimers(varID string) {
	c.mu.Lock()
	actions := c.timers[varID]
	delete(c.timers, varID)
	c.mu.Unlock()

	for action, t := range actions {
		t.Stop()
		c.log.Debug().Str("var_id", varID).Str("action", action).Msg("timer cancelled")
	}
}

// currentMatchTime is seconds since recording started, clamped at zero.
func (c *Controller) currentMatchTime() float64 {
	c.mu.RLock()
	startedAt := c.startedAt
	c.mu.RUnlock()
	if startedAt.IsZero() {
		return 0
	}
	elapsed := c.clock.Now().Sub(startedAt).Seconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
