// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package hyperdeck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/varbooth/varbooth/internal/dispatch"
	"github.com/varbooth/varbooth/internal/model"
	"github.com/varbooth/varbooth/internal/retry"
)

func newTestClient(t *testing.T, address string) (*Client, *dispatch.Queue) {
	t.Helper()
	q := dispatch.New()
	t.Cleanup(func() { q.Close() })
	c := New(Config{
		Address:           address,
		CommandAttempts:   2,
		CommandRetryDelay: time.Millisecond,
		ReconnectInterval: 10 * time.Millisecond,
		ClipPollInterval:  time.Millisecond,
		ClipPollTimeout:   200 * time.Millisecond,
	}, q, retry.RealClock())
	return c, q
}

// seedClip installs a clip and its timeline entry directly, the way the
// subscribe response would.
func seedClip(c *Client, clipID, frameCount, clipIn, timelineIn int, frameRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clips[clipID] = model.Clip{
		ClipUniqueID: clipID,
		FrameCount:   frameCount,
		VideoFormat:  model.VideoFormat{FrameRate: frameRate},
	}
	c.timeline[clipID] = model.TimelineClip{
		ClipUniqueID: clipID,
		FrameCount:   frameCount,
		ClipIn:       clipIn,
		TimelineIn:   timelineIn,
	}
}

func TestTimelinePosition(t *testing.T) {
	c, _ := newTestClient(t, "unused")
	seedClip(c, 3, 100, 10, 500, 30)

	tests := []struct {
		name       string
		timeFrames int
		want       int
	}{
		{"within clip", 50, 540},
		{"before clip in", 2, 500},
		{"past clip end", 500, 599},
		{"exactly clip in", 10, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.timelinePosition(3, tt.timeFrames); got != tt.want {
				t.Errorf("timelinePosition(3, %d) = %d, want %d", tt.timeFrames, got, tt.want)
			}
		})
	}
}

func TestTimelinePositionUnknownClip(t *testing.T) {
	c, _ := newTestClient(t, "unused")
	if got := c.timelinePosition(99, 50); got != 0 {
		t.Errorf("timelinePosition(unknown) = %d, want 0", got)
	}
}

func TestTimeWithinClip(t *testing.T) {
	c, _ := newTestClient(t, "unused")
	seedClip(c, 3, 100, 10, 500, 30)

	tests := []struct {
		name     string
		position int
		want     float64
	}{
		{"mid clip", 560, (10.0 + 60) / 30},
		{"before timeline in clamps to clip in", 100, 10.0 / 30},
		{"past end clamps to last frame", 2000, (10.0 + 99) / 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.mu.Lock()
			c.playback.Position = tt.position
			c.mu.Unlock()
			if got := c.TimeWithinClip(3); got != tt.want {
				t.Errorf("TimeWithinClip(3) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeWithinClipUnknown(t *testing.T) {
	c, _ := newTestClient(t, "unused")
	if got := c.TimeWithinClip(42); got != 0 {
		t.Errorf("TimeWithinClip(unknown) = %v, want 0", got)
	}
}

func TestHandlePropertyChangeTransport(t *testing.T) {
	c, _ := newTestClient(t, "unused")

	c.handlePropertyChange(propTransport, json.RawMessage(`{"mode":"InputRecord"}`))
	if !c.Recording() {
		t.Error("Recording() = false after InputRecord push")
	}

	c.handlePropertyChange(propTransport, json.RawMessage(`{"mode":"InputPreview"}`))
	if c.Recording() {
		t.Error("Recording() = true after InputPreview push")
	}
}

func TestHandlePropertyChangePlaybackAndStatus(t *testing.T) {
	c, _ := newTestClient(t, "unused")
	seedClip(c, 5, 300, 0, 0, 60)

	c.handlePropertyChange(propPlayback,
		json.RawMessage(`{"type":"Jog","loop":false,"singleClip":true,"speed":1.0,"position":120}`))
	c.handlePropertyChange(propRecord,
		json.RawMessage(`{"recording":false,"remainingRecordTime":3600,"remainingSpace":1000,"totalSpace":2000}`))

	status := c.Status(5)
	if !status.Playing {
		t.Error("Playing = false with speed 1.0")
	}
	if status.ClipTimeSec != 2.0 {
		t.Errorf("ClipTimeSec = %v, want 2.0", status.ClipTimeSec)
	}
	if status.RemainingRecordTimeSec != 3600 {
		t.Errorf("RemainingRecordTimeSec = %v, want 3600", status.RemainingRecordTimeSec)
	}

	c.handlePropertyChange(propPlayback,
		json.RawMessage(`{"type":"Jog","speed":0,"position":120}`))
	if c.Status(5).Playing {
		t.Error("Playing = true with speed 0")
	}
}

func TestHandlePropertyChangeTimeline(t *testing.T) {
	c, _ := newTestClient(t, "unused")
	c.mu.Lock()
	c.clips[7] = model.Clip{ClipUniqueID: 7, VideoFormat: model.VideoFormat{FrameRate: 30}}
	c.mu.Unlock()

	if c.HasPlayableClip(7) {
		t.Error("HasPlayableClip = true before timeline push")
	}
	c.handlePropertyChange(propTimeline,
		json.RawMessage(`{"clips":[{"clipUniqueId":7,"frameCount":900,"clipIn":0,"timelineIn":0}]}`))
	if !c.HasPlayableClip(7) {
		t.Error("HasPlayableClip = false after timeline push")
	}
}

func TestWarpToClipDoublePut(t *testing.T) {
	var puts atomic.Int32
	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/control/api/v1/transports/0/playback" {
			var pb model.PlaybackState
			json.NewDecoder(r.Body).Decode(&pb)
			lastBody.Store(pb)
			puts.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, strings.TrimPrefix(srv.URL, "http://"))
	seedClip(c, 3, 100, 10, 500, 30)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunCommands(ctx)

	c.WarpToClip(3, 1.0) // 30 frames at 30fps

	waitFor(t, func() bool { return puts.Load() == 2 })
	pb := lastBody.Load().(model.PlaybackState)
	if pb.Type != model.PlaybackJog || pb.Speed != 0 || !pb.SingleClip || pb.Loop {
		t.Errorf("playback body = %+v", pb)
	}
	if pb.Position != 520 {
		t.Errorf("Position = %d, want 520", pb.Position)
	}
}

func TestStopRecordingPollsUntilFinalized(t *testing.T) {
	var stops, polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/control/api/v1/transports/0/stop":
			stops.Add(1)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/control/api/v1/transports/0/clip":
			n := polls.Add(1)
			if n < 3 {
				// Finalization in progress: no clip id yet.
				w.Write([]byte(`{"clip":null}`))
				return
			}
			w.Write([]byte(`{"clip":{"clipUniqueId":11,"filePath":"Q4.mp4","frameCount":4500,
				"videoFormat":{"frameRate":30}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, q := newTestClient(t, strings.TrimPrefix(srv.URL, "http://"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	envelopes, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	go c.RunCommands(ctx)

	c.StopRecording("Q4")

	select {
	case env := <-envelopes:
		if env.Kind != dispatch.KindClipFinalized {
			t.Fatalf("Kind = %q, want %q", env.Kind, dispatch.KindClipFinalized)
		}
		var fin ClipFinalized
		if err := json.Unmarshal(env.Payload, &fin); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if fin.VarID != "Q4" || fin.ClipID != 11 || fin.FilePath != "Q4.mp4" {
			t.Errorf("ClipFinalized = %+v", fin)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for clip_finalized")
	}

	if stops.Load() != 1 {
		t.Errorf("stop calls = %d, want 1", stops.Load())
	}
	if polls.Load() < 3 {
		t.Errorf("poll calls = %d, want at least 3", polls.Load())
	}

	// The finalized clip lands in the local inventory.
	if _, ok := c.Clip(11); !ok {
		t.Error("finalized clip missing from inventory")
	}
}

func TestCommandsRunInSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if r.Method == http.MethodPut && r.URL.Path == "/control/api/v1/transports/0" {
			order = append(order, "live")
		}
		if r.Method == http.MethodPost && r.URL.Path == "/control/api/v1/transports/0/record" {
			order = append(order, "record")
		}
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, strings.TrimPrefix(srv.URL, "http://"))
	c.ShowLiveView()
	c.StartRecording("Q1")
	c.ShowLiveView()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunCommands(ctx)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	want := []string{"live", "record", "live"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCommandRetriesOnFailure(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, strings.TrimPrefix(srv.URL, "http://"))
	c.ShowLiveView()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunCommands(ctx)

	waitFor(t, func() bool { return attempts.Load() == 2 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
