// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package arena

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/varbooth/varbooth/internal/dispatch"
	"github.com/varbooth/varbooth/internal/model"
)

// notification is the arena's websocket frame shape.
type notification struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleMessage decodes one arena frame and publishes the matching
// dispatch envelopes. Unknown message types are ignored; the arena sends
// plenty the booth does not care about.
func (c *Client) handleMessage(conn *websocket.Conn, data []byte) {
	var n notification
	if err := json.Unmarshal(data, &n); err != nil {
		c.log.Warn().Err(err).Msg("malformed arena message")
		return
	}

	switch n.Type {
	case "ping":
		if err := conn.WriteJSON(notification{Type: "pong"}); err != nil {
			c.log.Warn().Err(err).Msg("arena pong failed")
		}

	case "matchLoad":
		var load model.MatchLoad
		if !c.decode(n, &load) {
			return
		}
		c.hasState = false
		c.publish(dispatch.KindArenaMatchLoad, load)

	case "matchTiming":
		var timing model.MatchTiming
		if !c.decode(n, &timing) {
			return
		}
		c.publish(dispatch.KindArenaTiming, timing)

	case "matchTime":
		var mt model.MatchTime
		if !c.decode(n, &mt) {
			return
		}
		c.publish(dispatch.KindArenaMatchTime, mt)
		c.deriveLifecycle(mt)

	case "realtimeScore":
		var score model.RealtimeScore
		if !c.decode(n, &score) {
			return
		}
		c.publish(dispatch.KindArenaRealtimeScore, score)

	case "arenaStatus":
		var status model.ArenaStatus
		if !c.decode(n, &status) {
			return
		}
		c.publish(dispatch.KindArenaStatus, status)

	case "scoringStatus":
		var status model.ScoringStatus
		if !c.decode(n, &status) {
			return
		}
		c.publish(dispatch.KindArenaScoringStatus, status)

	case "hrReview":
		var review model.HrReview
		if !c.decode(n, &review) {
			return
		}
		c.publish(dispatch.KindArenaHrReview, review)

	case "matchResult":
		// Scores were committed; the detailed numbers come from the REST
		// resync, the websocket frame is just the trigger.
		if err := c.refreshMatchResults(context.Background()); err != nil {
			c.log.Warn().Err(err).Msg("match results refresh failed")
		}
	}
}

func (c *Client) decode(n notification, out any) bool {
	if err := json.Unmarshal(n.Data, out); err != nil {
		c.log.Warn().Err(err).Str("type", n.Type).Msg("malformed arena message data")
		return false
	}
	return true
}

// deriveLifecycle turns match state transitions into the lifecycle events
// the controller's state machine consumes. The arena only reports the
// current state; the edges are ours to detect.
func (c *Client) deriveLifecycle(mt model.MatchTime) {
	if !c.hasState {
		c.hasState = true
		c.lastState = mt.MatchState
		return
	}
	prev := c.lastState
	cur := mt.MatchState
	c.lastState = cur
	if prev == cur {
		return
	}

	switch {
	case cur == model.MatchStateAuto:
		c.publish(dispatch.KindMatchStarted, mt)
	case cur == model.MatchStatePause && prev == model.MatchStateAuto:
		c.publish(dispatch.KindAutoEnded, mt)
	case cur == model.MatchStateTeleop:
		c.publish(dispatch.KindTeleopStarted, mt)
	case cur == model.MatchStatePostMatch:
		c.publish(dispatch.KindMatchEnded, mt)
	case cur == model.MatchStatePreMatch && prev == model.MatchStatePostMatch:
		c.publish(dispatch.KindMatchCommitted, mt)
	}
}

// matchTypeNames are the REST match listing endpoints, one per schedule.
var matchTypeNames = []string{"test", "practice", "qualification", "playoff"}

// MatchResults is the payload of the match results resync envelope.
type MatchResults struct {
	Matches map[string][]model.Match `json:"matches"`
}

// refreshMatchResults pulls the full match schedules over REST. Runs at
// connect and whenever the arena commits a result, so the booth's view of
// played matches stays current without replaying the whole feed.
func (c *Client) refreshMatchResults(ctx context.Context) error {
	results := MatchResults{Matches: make(map[string][]model.Match, len(matchTypeNames))}

	for _, name := range matchTypeNames {
		matches, err := c.fetchMatches(ctx, name)
		if err != nil {
			return fmt.Errorf("fetch %s matches: %w", name, err)
		}
		results.Matches[name] = matches
	}

	c.publish(dispatch.KindArenaMatchResults, results)
	return nil
}

func (c *Client) fetchMatches(ctx context.Context, matchType string) ([]model.Match, error) {
	u := "http://" + c.cfg.Address + "/api/matches/" + matchType
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Cookie", sessionCookie+"="+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, u)
	}

	// The listing wraps each match with its result summary; only the
	// match rows matter here.
	var rows []struct {
		Match model.Match `json:"Match"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode matches: %w", err)
	}

	matches := make([]model.Match, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, r.Match)
	}
	return matches, nil
}
