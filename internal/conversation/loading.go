package conversation

// Step is one entry of the closed loading step vocabulary. Server
// status frames and connection transitions both map into it; nothing
// else invents steps.
type Step string

const (
	StepIdle              Step = "idle"
	StepConnecting        Step = "connecting"
	StepPreparingMessage  Step = "preparing_message"
	StepUploadingFiles    Step = "uploading_files"
	StepProcessingFiles   Step = "processing_files"
	StepStreamingResponse Step = "streaming_response"
	StepResultReceived    Step = "result_received"
	StepError             Step = "error"
	StepAuthError         Step = "auth_error"
	StepConnectionError   Step = "connection_error"
	StepDisconnected      Step = "disconnected"
	StepFatalError        Step = "fatal_error"
)

var knownSteps = map[Step]bool{
	StepIdle:              true,
	StepConnecting:        true,
	StepPreparingMessage:  true,
	StepUploadingFiles:    true,
	StepProcessingFiles:   true,
	StepStreamingResponse: true,
	StepResultReceived:    true,
	StepError:             true,
	StepAuthError:         true,
	StepConnectionError:   true,
	StepDisconnected:      true,
	StepFatalError:        true,
}

// KnownStep reports whether a server-supplied step belongs to the
// vocabulary. Unknown steps are displayed as-is but logged.
func KnownStep(s Step) bool {
	return knownSteps[s]
}

// LoadingState is the single indicator of request progress shown
// alongside the log.
type LoadingState struct {
	IsLoading bool
	Step      Step
	Message   string
}
