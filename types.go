package recorder

import "time"

// TimestampFormat formats chunk timestamps and generated still names.
const TimestampFormat = "2006-01-02T15:04:05.000"

// ChunkInfo describes one completed recording segment.
type ChunkInfo struct {
	// RecordingID identifies the recording session the chunk belongs to
	RecordingID string `json:"recording_id"`
	// Index is the 0-based position of the chunk in its session
	Index uint64 `json:"index"`
	// Location is the path of the segment file
	Location string `json:"location"`
	// Timestamp is the wall-clock start of the segment (TimestampFormat)
	Timestamp string `json:"timestamp"`
	// Duration of the segment
	Duration time.Duration `json:"duration"`
}

// ChunkFunc is called once per completed segment, in segment order, from the
// recording's bus monitor goroutine.
type ChunkFunc func(ChunkInfo)

// StillInfo describes a captured still image.
type StillInfo struct {
	Device   string `json:"device"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
	FilePath string `json:"file_path"`
}

// VideoSourceInfo describes a running capture session.
type VideoSourceInfo struct {
	Device     string `json:"device"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     string `json:"format"`
	SocketPath string `json:"socket_path"`
}

// RecordingInfo describes a recording session.
type RecordingInfo struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	StartedAt time.Time `json:"started_at"`
	OutputDir string    `json:"output_dir"`
	// Location is the segment file pattern
	Location string `json:"location"`
}

// Status is a snapshot of the controller.
type Status struct {
	Source    *VideoSourceInfo `json:"source,omitempty"`
	Recording *RecordingInfo   `json:"recording,omitempty"`
	Preview   bool             `json:"preview"`
}
