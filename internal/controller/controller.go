// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

// Package controller is the match cycle state machine. It consumes the
// dispatch queue as the sole writer of authoritative state, drives the
// recorder through the match workflow, materializes review events, and
// tells the client bus which event types to re-push.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/varbooth/varbooth/internal/dispatch"
	"github.com/varbooth/varbooth/internal/logging"
	"github.com/varbooth/varbooth/internal/model"
	"github.com/varbooth/varbooth/internal/retry"
	"github.com/varbooth/varbooth/internal/store"
)

// Event type names pushed to UI clients.
const (
	EventControllerStatus    = "controller_status"
	EventCurrentMatchData    = "current_match_data"
	EventCurrentMatchTime    = "current_match_time"
	EventRealtimeScore       = "realtime_score"
	EventScoringStatus       = "scoring_status"
	EventMatchList           = "match_list"
	EventArenaMatches        = "arena_matches"
	EventArenaConnection     = "arena_connection"
	EventHyperdeckConnection = "hyperdeck_connection"
	EventHyperdeckStatus     = "hyperdeck_status"
)

// Timer actions carried in timer_fired envelopes.
const (
	timerAutoScoring    = "auto_scoring"
	timerEndgameScoring = "endgame_scoring"
	timerStopRecording  = "stop_recording"
)

// Device is the recorder surface the state machine drives. Command
// methods are asynchronous; results come back through the dispatch queue.
type Device interface {
	Connected() bool
	Recording() bool
	HasPlayableClip(clipID int) bool
	TimeWithinClip(clipID int) float64
	Status(clipID int) model.HyperdeckStatus

	ShowLiveView()
	StartRecording(clipName string)
	StopRecording(varID string)
	WarpToClip(clipID int, timeSec float64)
}

// TimerFired is the payload of timer_fired envelopes. Timers route back
// through the queue so their effects are serialized with everything else.
type TimerFired struct {
	VarID  string `json:"var_id"`
	Action string `json:"action"`
}

// Config tunes the automatic review workflow, in seconds of match time.
type Config struct {
	AutoScoringDelay    float64
	EndgameScoringDelay float64
	RecordingExtraTime  float64
}

// Controller is the match cycle state machine.
type Controller struct {
	cfg    Config
	queue  *dispatch.Queue
	store  *store.Store
	device Device
	clock  retry.Clock
	log    zerolog.Logger

	// notify asks the client bus to re-push an event type. Set before Run.
	notify func(eventType string)

	mu        sync.RWMutex
	state     model.ControllerState
	current   string // var_id being recorded, or just finished
	selected  string // var_id under review
	recording bool
	cursor    float64
	startedAt time.Time // wall time recording started

	matchLoad     model.MatchLoad
	timing        model.MatchTiming
	matchTime     model.MatchTime
	realtimeScore model.RealtimeScore
	scoringStatus model.ScoringStatus
	arenaUp       bool
	deviceUp      bool
	arenaMatches  map[string][]model.Match

	// timers holds pending workflow timers by var_id and action. An entry
	// present here is live; cancellation removes the entry, so a fired
	// envelope for a removed entry is stale and dropped.
	timers map[string]map[string]retry.Timer
}

// New creates the controller. The store's change notifications must be
// routed back to this controller via OnStoreChange.
func New(cfg Config, queue *dispatch.Queue, st *store.Store, device Device, clock retry.Clock) *Controller {
	return &Controller{
		cfg:           cfg,
		queue:         queue,
		store:         st,
		device:        device,
		clock:         clock,
		log:           logging.Component("controller"),
		notify:        func(string) {},
		state:         model.StateLive,
		timing:        model.DefaultMatchTiming(),
		realtimeScore: model.PlaceholderRealtimeScore(),
		arenaMatches:  make(map[string][]model.Match),
		timers:        make(map[string]map[string]retry.Timer),
	}
}

// SetNotifier installs the client bus callback. Must be called before Run.
func (c *Controller) SetNotifier(fn func(eventType string)) {
	c.notify = fn
}

// OnStoreChange is the review event store's change listener. The store is
// only mutated from the controller goroutine, so this runs serialized.
func (c *Controller) OnStoreChange(varID string) {
	c.notify(EventMatchList)
	c.mu.RLock()
	relevant := varID == c.selected || varID == c.current
	c.mu.RUnlock()
	if relevant {
		c.notify(EventCurrentMatchData)
	}
}

// Serve consumes the dispatch queue until ctx is canceled.
func (c *Controller) Serve(ctx context.Context) error {
	envelopes, err := c.queue.Subscribe(ctx)
	if err != nil {
		return err
	}
	c.log.Info().Msg("controller running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-envelopes:
			if !ok {
				return ctx.Err()
			}
			c.handle(env)
		}
	}
}

func (c *Controller) handle(env dispatch.Envelope) {
	switch env.Kind {
	case dispatch.KindArenaConnection:
		var status model.ConnectionStatus
		if !c.decode(env, &status) {
			return
		}
		c.mu.Lock()
		c.arenaUp = status.Connected
		c.mu.Unlock()
		c.notify(EventArenaConnection)

	case dispatch.KindArenaMatchLoad:
		var load model.MatchLoad
		if !c.decode(env, &load) {
			return
		}
		c.mu.Lock()
		c.matchLoad = load
		c.mu.Unlock()
		c.notify(EventCurrentMatchData)

	case dispatch.KindArenaTiming:
		var timing model.MatchTiming
		if !c.decode(env, &timing) {
			return
		}
		c.mu.Lock()
		c.timing = timing
		c.mu.Unlock()
		c.notify(EventCurrentMatchData)

	case dispatch.KindArenaMatchTime:
		var mt model.MatchTime
		if !c.decode(env, &mt) {
			return
		}
		c.mu.Lock()
		c.matchTime = mt
		c.mu.Unlock()
		c.notify(EventCurrentMatchTime)

	case dispatch.KindArenaRealtimeScore:
		var score model.RealtimeScore
		if !c.decode(env, &score) {
			return
		}
		c.mu.Lock()
		c.realtimeScore = score
		c.mu.Unlock()
		c.notify(EventRealtimeScore)

	case dispatch.KindArenaScoringStatus:
		var status model.ScoringStatus
		if !c.decode(env, &status) {
			return
		}
		c.mu.Lock()
		c.scoringStatus = status
		c.mu.Unlock()
		c.notify(EventScoringStatus)

	case dispatch.KindArenaStatus:
		var status model.ArenaStatus
		if !c.decode(env, &status) {
			return
		}
		if status.CanStartMatch {
			c.handleMatchReady()
		}

	case dispatch.KindArenaMatchResults:
		var results struct {
			Matches map[string][]model.Match `json:"matches"`
		}
		if !c.decode(env, &results) {
			return
		}
		c.mu.Lock()
		c.arenaMatches = results.Matches
		c.mu.Unlock()
		c.notify(EventArenaMatches)

	case dispatch.KindArenaHrReview:
		var review model.HrReview
		if !c.decode(env, &review) {
			return
		}
		c.handleHrReview(review)

	case dispatch.KindMatchStarted:
		c.handleMatchStarted()

	case dispatch.KindAutoEnded:
		c.handleAutoEnded()

	case dispatch.KindTeleopStarted:
		// Phase change only; the matchTime stream already covers the UI.

	case dispatch.KindMatchEnded:
		c.handleMatchEnded()

	case dispatch.KindMatchCommitted:
		c.handleMatchCommitted()

	case dispatch.KindTimerFired:
		var fired TimerFired
		if !c.decode(env, &fired) {
			return
		}
		c.handleTimerFired(fired)

	case dispatch.KindDeviceConnection:
		var status model.ConnectionStatus
		if !c.decode(env, &status) {
			return
		}
		c.mu.Lock()
		c.deviceUp = status.Connected
		c.mu.Unlock()
		c.notify(EventHyperdeckConnection)

	case dispatch.KindDeviceStatus:
		c.notify(EventHyperdeckStatus)

	case dispatch.KindClipFinalized:
		var clip struct {
			VarID    string `json:"var_id"`
			ClipID   int    `json:"clip_id"`
			FilePath string `json:"file_path"`
		}
		if !c.decode(env, &clip) {
			return
		}
		c.handleClipFinalized(clip.VarID, clip.ClipID)

	case dispatch.KindClientCommand:
		var cmd dispatch.ClientCommand
		if !c.decode(env, &cmd) {
			return
		}
		c.handleClientCommand(cmd)

	default:
		c.log.Warn().Str("kind", env.Kind).Msg("unknown dispatch envelope")
	}
}

func (c *Controller) decode(env dispatch.Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		c.log.Warn().Err(err).Str("kind", env.Kind).Msg("malformed envelope payload")
		return false
	}
	return true
}

// String identifies the controller in the supervision tree.
func (c *Controller) String() string {
	return "controller"
}
