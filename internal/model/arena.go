// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package model

import (
	"github.com/goccy/go-json"
)

// MatchType classifies a match within the event schedule.
type MatchType int

const (
	MatchTypeTest MatchType = iota
	MatchTypePractice
	MatchTypeQualification
	MatchTypePlayoff
)

// MatchStatus is the play status of a scheduled match.
type MatchStatus int

const (
	MatchScheduled MatchStatus = iota
	MatchHidden
	MatchRedWon
	MatchBlueWon
	MatchTie
)

// MatchState is the arena's match play cycle state as sent on the wire.
type MatchState int

const (
	MatchStatePreMatch MatchState = iota
	MatchStateStartMatch
	MatchStateWarmup
	MatchStateAuto
	MatchStatePause
	MatchStateTeleop
	MatchStatePostMatch
	MatchStateTimeoutActive
	MatchStatePostTimeout
)

// MatchPhase is the phase reported to UI clients in a MatchTimeSample.
// The transient StartMatch wire state maps to PreMatch.
type MatchPhase string

const (
	PhasePreMatch      MatchPhase = "pre_match"
	PhaseWarmup        MatchPhase = "warmup"
	PhaseAuto          MatchPhase = "auto"
	PhasePause         MatchPhase = "pause"
	PhaseTeleop        MatchPhase = "teleop"
	PhasePostMatch     MatchPhase = "post_match"
	PhaseTimeoutActive MatchPhase = "timeout_active"
	PhasePostTimeout   MatchPhase = "post_timeout"
)

// Phase maps a wire MatchState to its UI phase.
func (s MatchState) Phase() MatchPhase {
	switch s {
	case MatchStateWarmup:
		return PhaseWarmup
	case MatchStateAuto:
		return PhaseAuto
	case MatchStatePause:
		return PhasePause
	case MatchStateTeleop:
		return PhaseTeleop
	case MatchStatePostMatch:
		return PhasePostMatch
	case MatchStateTimeoutActive:
		return PhaseTimeoutActive
	case MatchStatePostTimeout:
		return PhasePostTimeout
	default:
		return PhasePreMatch
	}
}

// Match is the arena's schedule data for one match.
type Match struct {
	ID        int         `json:"Id"`
	Type      MatchType   `json:"Type"`
	TypeOrder int         `json:"TypeOrder"`
	LongName  string      `json:"LongName"`
	ShortName string      `json:"ShortName"`
	Red1      int         `json:"Red1"`
	Red2      int         `json:"Red2"`
	Red3      int         `json:"Red3"`
	Blue1     int         `json:"Blue1"`
	Blue2     int         `json:"Blue2"`
	Blue3     int         `json:"Blue3"`
	Status    MatchStatus `json:"Status"`
}

// Team is a participating team as reported by the arena.
type Team struct {
	ID int `json:"Id"`
}

// MatchLoad is the matchLoad message body: the currently loaded match.
type MatchLoad struct {
	Match    Match            `json:"Match"`
	IsReplay bool             `json:"IsReplay"`
	Teams    map[string]*Team `json:"Teams"`
}

// MatchTiming is the fixed per-event period configuration, immutable after
// load.
type MatchTiming struct {
	WarmupDurationSec           int `json:"WarmupDurationSec"`
	AutoDurationSec             int `json:"AutoDurationSec"`
	PauseDurationSec            int `json:"PauseDurationSec"`
	TeleopDurationSec           int `json:"TeleopDurationSec"`
	TimeoutDurationSec          int `json:"TimeoutDurationSec"`
	WarningRemainingDurationSec int `json:"WarningRemainingDurationSec"`
}

// DefaultMatchTiming mirrors the arena's standard period lengths, used until
// the first matchTiming message arrives.
func DefaultMatchTiming() MatchTiming {
	return MatchTiming{
		WarmupDurationSec:           0,
		AutoDurationSec:             15,
		PauseDurationSec:            3,
		TeleopDurationSec:           135,
		TimeoutDurationSec:          60,
		WarningRemainingDurationSec: 20,
	}
}

// MatchTime is the matchTime message body: the play cycle state plus the
// elapsed time within it.
type MatchTime struct {
	MatchState   MatchState `json:"MatchState"`
	MatchTimeSec float64    `json:"MatchTimeSec"`
}

// MatchTimeSample is the current_match_time event pushed to UI clients.
// Elapsed time is monotonic within a phase and resets on phase change.
type MatchTimeSample struct {
	Phase      MatchPhase `json:"phase"`
	ElapsedSec float64    `json:"elapsed_sec"`
}

// Sample maps the wire message to its UI representation.
func (t MatchTime) Sample() MatchTimeSample {
	return MatchTimeSample{Phase: t.MatchState.Phase(), ElapsedSec: t.MatchTimeSec}
}

// AllianceScore is one alliance's side of the realtime score. Game-specific
// scoring internals stay opaque to this core and ride along as raw JSON.
type AllianceScore struct {
	Points int               `json:"points"`
	Cards  map[string]string `json:"cards"`
	Raw    json.RawMessage   `json:"raw,omitempty"`
}

// RealtimeScore is the realtime_score event pushed to UI clients.
type RealtimeScore struct {
	Red  AllianceScore `json:"red"`
	Blue AllianceScore `json:"blue"`
}

// PlaceholderRealtimeScore is the value served before the first score
// arrives, so subscribe snapshots are never empty.
func PlaceholderRealtimeScore() RealtimeScore {
	return RealtimeScore{
		Red:  AllianceScore{Cards: map[string]string{}},
		Blue: AllianceScore{Cards: map[string]string{}},
	}
}

// ArenaStatus is the arenaStatus message body.
type ArenaStatus struct {
	CanStartMatch bool `json:"CanStartMatch"`
}

// HrReview is the hrReview message body sent on the VAR-specific arena
// endpoint when the head referee flags a moment for review.
type HrReview struct {
	TimeSec  float64  `json:"TimeSec"`
	Alliance Alliance `json:"Alliance,omitempty"`
	TeamID   int      `json:"TeamId,omitempty"`
	Reason   string   `json:"Reason,omitempty"`
}

// ScoringStatus is the scoringStatus message body, tracking which scoring
// parties have committed their numbers for the loaded match.
type ScoringStatus struct {
	RefereeScoreReady bool `json:"RefereeScoreReady"`
	RedScoreReady     bool `json:"RedScoreReady"`
	BlueScoreReady    bool `json:"BlueScoreReady"`
}

// ConnectionStatus is the payload of the *_connection events.
type ConnectionStatus struct {
	Connected bool `json:"connected"`
}
