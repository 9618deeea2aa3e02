package protocol

// Typed payloads for the known event names and response shapes. The
// engine sends loosely keyed JSON objects; decoding into closed structs
// keeps the dispatcher's routing exhaustive. Events with names outside
// the const set reach the dispatcher's unknown fallback with their raw
// data intact.

type ReadyData struct {
	Version string `json:"version,omitempty"`
}

type ConfigLoadedData struct {
	Name      string `json:"name,omitempty"`
	States    int    `json:"states"`
	Processes int    `json:"processes"`
	Images    int    `json:"images"`
}

type ExecutionStartedData struct {
	ProcessID string `json:"process_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

type ExecutionCompletedData struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type ProcessLifecycleData struct {
	ProcessID string `json:"process_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Success   bool   `json:"success"`
}

type ImageRecognitionData struct {
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
	Matched    bool    `json:"matched"`
	Location   string  `json:"location,omitempty"`
}

type ActionExecutionData struct {
	ActionType string  `json:"action_type"`
	Target     string  `json:"target,omitempty"`
	Success    bool    `json:"success"`
	DurationMs float64 `json:"duration_ms"`
}

type RecordingStartedData struct {
	SnapshotDirectory string `json:"snapshot_directory"`
	BaseDirectory     string `json:"base_directory,omitempty"`
}

type RecordingStoppedData struct {
	SnapshotDirectory string          `json:"snapshot_directory,omitempty"`
	Statistics        *RecordingStats `json:"statistics,omitempty"`
}

type LogData struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorData struct {
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

type EngineCrashedData struct {
	ExitCode int `json:"exit_code"`
}

// RecordingStats is the wire form of recording statistics; the model
// package has the domain form.
type RecordingStats struct {
	Actions     int `json:"actions"`
	Screenshots int `json:"screenshots"`
	Patterns    int `json:"patterns"`
}

// StatusData is the payload of a successful status response.
type StatusData struct {
	IsRunning    bool   `json:"is_running"`
	CurrentState string `json:"current_state,omitempty"`
	ConfigLoaded bool   `json:"config_loaded"`
}

// RecordingStatusData is the payload of a recording_status response.
type RecordingStatusData struct {
	IsRecording bool            `json:"is_recording"`
	Statistics  *RecordingStats `json:"statistics,omitempty"`
}

// Command parameter payloads.

type LoadParams struct {
	ConfigPath string `json:"config_path"`
}

type StartParams struct {
	Mode         string `json:"mode,omitempty"`
	ProcessID    string `json:"process_id,omitempty"`
	MonitorIndex int    `json:"monitor_index,omitempty"`
}

type StartRecordingParams struct {
	BaseDir string `json:"base_dir"`
}
