// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package model

// TransportMode is the recorder's top-level mode. Hardware accepts only the
// transitions InputPreview <-> InputRecord and InputPreview <-> Output; the
// command adapter never requests InputRecord <-> Output directly.
type TransportMode string

const (
	// TransportInputPreview shows the live input feed.
	TransportInputPreview TransportMode = "InputPreview"
	// TransportInputRecord records the live input feed.
	TransportInputRecord TransportMode = "InputRecord"
	// TransportOutput plays back a recorded clip.
	TransportOutput TransportMode = "Output"
)

// CanTransitionTo reports whether the recorder accepts a direct transition
// from m to target.
func (m TransportMode) CanTransitionTo(target TransportMode) bool {
	if m == target {
		return true
	}
	switch m {
	case TransportInputPreview:
		return target == TransportInputRecord || target == TransportOutput
	case TransportInputRecord, TransportOutput:
		return target == TransportInputPreview
	}
	return false
}

// PlaybackType is the recorder's playback interface mode.
type PlaybackType string

const (
	PlaybackPlay    PlaybackType = "Play"
	PlaybackJog     PlaybackType = "Jog"
	PlaybackShuttle PlaybackType = "Shuttle"
	PlaybackVar     PlaybackType = "Var"
)

// PlaybackState is the PUT /transports/0/playback request body and the
// /transports/0/playback push property value. Position counts timeline
// frames from 0.
type PlaybackState struct {
	Type       PlaybackType `json:"type"`
	Loop       bool         `json:"loop"`
	SingleClip bool         `json:"singleClip"`
	Speed      float64      `json:"speed"`
	Position   int          `json:"position"`
}

// CodecFormat describes a clip's codec and container.
type CodecFormat struct {
	Codec     string `json:"codec"`
	Container string `json:"container"`
}

// VideoFormat describes a clip's video parameters.
type VideoFormat struct {
	Name       string  `json:"name"`
	FrameRate  float64 `json:"frameRate"`
	Height     int     `json:"height"`
	Width      int     `json:"width"`
	Interlaced bool    `json:"interlaced"`
}

// Clip is the recorder's metadata for one recorded clip.
type Clip struct {
	ClipUniqueID     int         `json:"clipUniqueId"`
	FilePath         string      `json:"filePath"`
	FileSize         int64       `json:"fileSize"`
	CodecFormat      CodecFormat `json:"codecFormat"`
	VideoFormat      VideoFormat `json:"videoFormat"`
	StartTimecode    string      `json:"startTimecode,omitempty"`
	DurationTimecode string      `json:"durationTimecode"`
	FrameCount       int         `json:"frameCount"`
}

// TimelineClip is a clip's placement on the playback timeline.
type TimelineClip struct {
	ClipUniqueID       int    `json:"clipUniqueId"`
	FrameCount         int    `json:"frameCount"`
	DurationTimecode   string `json:"durationTimecode"`
	ClipIn             int    `json:"clipIn"`
	InTimecode         string `json:"inTimecode"`
	TimelineIn         int    `json:"timelineIn"`
	TimelineInTimecode string `json:"timelineInTimecode"`
}

// RecordStatus is the /transports/0/record push property value. The recorder
// reports remaining media capacity alongside the recording flag.
type RecordStatus struct {
	Recording           bool  `json:"recording"`
	RemainingRecordTime int   `json:"remainingRecordTime"`
	RemainingSpace      int64 `json:"remainingSpace"`
	TotalSpace          int64 `json:"totalSpace"`
}

// HyperdeckStatus is the recorder's last known state as pushed to UI clients
// (hyperdeck_status event). It mirrors device reports and is never locally
// invented.
type HyperdeckStatus struct {
	TransportMode          TransportMode `json:"transport_mode"`
	Playing                bool          `json:"playing"`
	ClipTimeSec            float64       `json:"clip_time_sec"`
	RemainingRecordTimeSec float64       `json:"remaining_record_time_sec"`
	RemainingSpaceBytes    int64         `json:"remaining_space_bytes"`
	TotalSpaceBytes        int64         `json:"total_space_bytes"`
}

// PlaceholderHyperdeckStatus is served before the first device report.
func PlaceholderHyperdeckStatus() HyperdeckStatus {
	return HyperdeckStatus{TransportMode: TransportInputPreview}
}
