package domain

// RunState is the persisted pipeline position of a run. Runs are created
// directly in StateGeneratingQuestion; there is no persisted idle state.
type RunState string

const (
	StateGeneratingQuestion    RunState = "generating_question"
	StateGeneratingAnswer      RunState = "generating_answer"
	StateRenderingVoice        RunState = "rendering_voice"
	StateRenderingSubtitles    RunState = "rendering_subtitles"
	StateDownloadingBackground RunState = "downloading_background"
	StateComposingVideo        RunState = "composing_video"
	StateUploading             RunState = "uploading"
	StateDone                  RunState = "done"
	StateError                 RunState = "error"
)

// pipelineOrder drives Next. Done and Error are absorbing.
var pipelineOrder = []RunState{
	StateGeneratingQuestion,
	StateGeneratingAnswer,
	StateRenderingVoice,
	StateRenderingSubtitles,
	StateDownloadingBackground,
	StateComposingVideo,
	StateUploading,
	StateDone,
}

// Next returns the state that follows s in pipeline order and true, or s and
// false when s is terminal or unknown.
func (s RunState) Next() (RunState, bool) {
	for i, st := range pipelineOrder {
		if st == s && i+1 < len(pipelineOrder) {
			return pipelineOrder[i+1], true
		}
	}
	return s, false
}

// Terminal reports whether a run in this state accepts no further transitions.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateError
}

// Valid reports whether s is one of the declared states.
func (s RunState) Valid() bool {
	if s == StateError {
		return true
	}
	for _, st := range pipelineOrder {
		if st == s {
			return true
		}
	}
	return false
}

// Profile owns a recurring content pipeline: its schedule, its prompts, and
// the knobs the generation capabilities need.
type Profile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Schedule       string `json:"schedule"`
	Paused         bool   `json:"paused"`
	QuestionPrompt string `json:"question_prompt"`
	AnswerPrompt   string `json:"answer_prompt"`
	BackgroundGlob string `json:"background_glob"`
	VoiceName      string `json:"voice_name"`
	FontName       string `json:"font_name"`
	AspectRatio    string `json:"aspect_ratio"`
	NextRun        string `json:"next_run,omitempty" format:"date-time"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// Override is a one-off run time that supersedes the profile's cron schedule.
// Claimed flips false->true exactly once; rows are kept for audit.
type Override struct {
	ID        string `json:"id"`
	ProfileID string `json:"profile_id"`
	RunsAt    string `json:"runs_at" format:"date-time"`
	Claimed   bool   `json:"claimed"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Run is one execution of a profile's pipeline. Scratch refs hold the outputs
// of completed steps so a restart never redoes finished work.
type Run struct {
	ID            string   `json:"id"`
	ProfileID     string   `json:"profile_id"`
	State         RunState `json:"state"`
	Attempts      int      `json:"attempts"`
	Error         *string  `json:"error,omitempty"`
	Processing    []string `json:"processing,omitempty"`
	Question      string   `json:"question,omitempty"`
	Answer        string   `json:"answer,omitempty"`
	VoiceRef      string   `json:"voice_ref,omitempty"`
	SubtitleRef   string   `json:"subtitle_ref,omitempty"`
	BackgroundRef string   `json:"background_ref,omitempty"`
	VideoRef      string   `json:"video_ref,omitempty"`
	StartedAt     string   `json:"started_at" format:"date-time"`
	FinishedAt    *string  `json:"finished_at,omitempty" format:"date-time"`
}

// Stage is a named segment of a profile's composition. LastStage chains it to
// its predecessor: the FirstStage sentinel marks the head of the chain, nil
// marks a disconnected stage that is never resolved.
type Stage struct {
	ID        string  `json:"id"`
	ProfileID string  `json:"profile_id"`
	Name      string  `json:"name"`
	LastStage *string `json:"last_stage,omitempty"`
}

// FirstStage is the last_stage sentinel for the head of a chain.
const FirstStage = "none"

// First reports whether this stage starts its profile's chain.
func (s Stage) First() bool {
	return s.LastStage != nil && *s.LastStage == FirstStage
}

// Layer is an ordered element within a stage. Payload is opaque here; its
// format belongs to the handler registered for its type tag.
type Layer struct {
	ID      string `json:"id"`
	StageID string `json:"stage_id"`
	Order   int    `json:"order"`
	Payload []byte `json:"payload"`
}

// Platform kinds supported by the upload dispatcher.
const (
	PlatformLocal   = "local"
	PlatformYoutube = "youtube"
)

// UploadPlatform is a configured publish destination for a profile. At most
// one row exists per (profile, platform) pair. Credentials are opaque blobs;
// token exchange happens outside this system.
type UploadPlatform struct {
	ID           string `json:"id"`
	ProfileID    string `json:"profile_id"`
	Platform     string `json:"platform"`
	OAuthRefresh []byte `json:"-"`
	OAuthToken   []byte `json:"-"`
}

// Upload records one successful publish of a run's artifact. Append-only.
type Upload struct {
	ID         string `json:"id"`
	PlatformID string `json:"platform_id"`
	RunID      string `json:"run_id"`
	URL        string `json:"url"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
}

// Event is one row of the append-only change log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProfileID  string `json:"profile_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
