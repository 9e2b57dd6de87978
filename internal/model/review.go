// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

// Package model defines the domain types shared across VARBooth: recorded
// matches and their review events, arena wire messages, and the recorder
// status shapes pushed to UI clients.
package model

import (
	"time"
)

// Alliance identifies one side of the field.
type Alliance string

const (
	AllianceRed  Alliance = "red"
	AllianceBlue Alliance = "blue"
)

// EventKind classifies a review event.
type EventKind string

const (
	// EventAutoScoring marks the automatic scoring checkpoint after the
	// autonomous period ends.
	EventAutoScoring EventKind = "auto_scoring"
	// EventEndgameScoring marks the automatic scoring checkpoint after the
	// match ends.
	EventEndgameScoring EventKind = "endgame_scoring"
	// EventVarReview is an operator-added review marker.
	EventVarReview EventKind = "var_review"
	// EventHrReview is a review requested by the head referee.
	EventHrReview EventKind = "hr_review"
	// EventRobotDisconnect marks a reported robot connection loss.
	EventRobotDisconnect EventKind = "robot_disconnect"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventAutoScoring, EventEndgameScoring, EventVarReview, EventHrReview, EventRobotDisconnect:
		return true
	}
	return false
}

// Coordinates is an optional field position attached to a review event.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ReviewEvent is a timestamped marker in a recorded match. Identity is ID;
// display indices are derived from sorted order and never stored.
type ReviewEvent struct {
	ID          string       `json:"id"`
	Kind        EventKind    `json:"kind"`
	TimeSec     float64      `json:"time_sec"`
	Alliance    Alliance     `json:"alliance,omitempty"`
	TeamIndex   *int         `json:"team_index,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// RecordedMatch is one distinct play of a match captured on the recorder.
// A replay of the same arena match gets a fresh VarID.
type RecordedMatch struct {
	VarID        string        `json:"var_id"`
	ArenaMatchID int           `json:"arena_match_id"`
	ClipID       *int          `json:"clip_id,omitempty"`
	ClipFileName string        `json:"clip_file_name"`
	CreatedAt    time.Time     `json:"created_at"`
	Events       []ReviewEvent `json:"events"`
}

// MatchSummary is the match_list entry pushed to UI clients.
type MatchSummary struct {
	VarID        string    `json:"var_id"`
	ArenaMatchID int       `json:"arena_match_id"`
	ClipFileName string    `json:"clip_file_name"`
	CreatedAt    time.Time `json:"created_at"`
	EventCount   int       `json:"event_count"`
}

// Summary derives the match_list entry for m.
func (m *RecordedMatch) Summary() MatchSummary {
	return MatchSummary{
		VarID:        m.VarID,
		ArenaMatchID: m.ArenaMatchID,
		ClipFileName: m.ClipFileName,
		CreatedAt:    m.CreatedAt,
		EventCount:   len(m.Events),
	}
}

// ControllerState names the orchestrator's workflow state.
type ControllerState string

const (
	// StateLive means the orchestrator tracks the realtime arena feed.
	StateLive ControllerState = "live"
	// StatePostMatchReview is entered automatically after a match ends.
	StatePostMatchReview ControllerState = "post_match_review"
	// StateManualReview is entered when an operator loads a stored match.
	StateManualReview ControllerState = "manual_review"
)

// ControllerStatus is the orchestrator's own mode, pushed to UI clients as
// the controller_status event.
type ControllerStatus struct {
	State           ControllerState `json:"state"`
	SelectedMatchID string          `json:"selected_match_id,omitempty"`
	Recording       bool            `json:"recording"`
	RealtimeData    bool            `json:"realtime_data"`
	CursorTimeSec   float64         `json:"cursor_time_sec"`
}
