// Package extractsvc provides an HTTP client for a remote screenshot
// extraction service. Jobs are submitted with a video URL and a sampling
// policy, then polled until they reach a terminal status.
package extractsvc

// Status represents the status of an extraction job.
type Status string

// Extraction job statuses.
const (
	StatusInQueue   Status = "IN_QUEUE"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Sampling modes understood by the service.
const (
	ModeFixedCount    = "fixed_count"
	ModeFixedInterval = "fixed_interval"
	ModeSceneChange   = "scene_change"
)

// SubmitRequest describes one extraction job.
type SubmitRequest struct {
	VideoURL        string  // URL of the uploaded video (required)
	Mode            string  // Sampling mode (default: fixed_count)
	Count           int     // Frame count for fixed_count (default: 4)
	IntervalSeconds float64 // Spacing for fixed_interval
	SceneThreshold  float64 // Scene score threshold for scene_change
	MaxFrames       int     // Upper bound on frames for interval and scene modes
	Format          string  // Image format, png or jpg (default: png)
}

// Image is a single extracted frame.
type Image struct {
	URL              string  `json:"url"`
	TimestampSeconds float64 `json:"timestamp"`
}

// PollResult contains the result of polling a job's status.
type PollResult struct {
	Status   Status
	Progress int     // Service-reported progress in 0..100, when known
	Images   []Image // Extracted frames (only set when Status is StatusCompleted)
	Error    string  // Error message (only set when Status is StatusFailed)
}

// jobRequest represents the request body for the /jobs endpoint.
type jobRequest struct {
	Input jobInput `json:"input"`
}

// jobInput represents the input field in a job request.
type jobInput struct {
	VideoURL        string  `json:"video_url"`
	Mode            string  `json:"mode"`
	Count           int     `json:"count,omitempty"`
	IntervalSeconds float64 `json:"interval_seconds,omitempty"`
	SceneThreshold  float64 `json:"scene_threshold,omitempty"`
	MaxFrames       int     `json:"max_frames,omitempty"`
	Format          string  `json:"format"`
}

// jobResponse represents the response from the /jobs endpoint.
type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse represents the response from the /jobs/{id} endpoint.
type statusResponse struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	Progress int          `json:"progress,omitempty"`
	Output   statusOutput `json:"output,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// statusOutput represents the output field in a status response.
type statusOutput struct {
	Images []Image `json:"images,omitempty"`
}
