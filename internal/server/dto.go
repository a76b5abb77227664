package server

import (
	"encoding/json"

	"clipforge/internal/domain"
)

// Request payloads

type CreateProfileRequest struct {
	ID             *string `json:"id,omitempty"`
	Name           string  `json:"name"`
	Schedule       string  `json:"schedule"`
	QuestionPrompt string  `json:"question_prompt,omitempty"`
	AnswerPrompt   string  `json:"answer_prompt,omitempty"`
	BackgroundGlob string  `json:"background_glob,omitempty"`
	VoiceName      string  `json:"voice_name,omitempty"`
	FontName       string  `json:"font_name,omitempty"`
	AspectRatio    string  `json:"aspect_ratio,omitempty"`
}

type CreateStageRequest struct {
	Name      string `json:"name"`
	LastStage string `json:"last_stage,omitempty"`
}

type CreateLayerRequest struct {
	Tag  string         `json:"tag" enum:"background,card,voice,subtitle,watermark"`
	Body map[string]any `json:"body,omitempty"`
}

type CreateOverrideRequest struct {
	RunsAt string `json:"runs_at" format:"date-time"`
}

type CreatePlatformRequest struct {
	Platform     string `json:"platform" enum:"local,youtube"`
	OAuthRefresh string `json:"oauth_refresh,omitempty"`
	OAuthToken   string `json:"oauth_token,omitempty"`
}

// Response payloads

type ProfileResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Schedule       string `json:"schedule"`
	Paused         bool   `json:"paused"`
	QuestionPrompt string `json:"question_prompt,omitempty"`
	AnswerPrompt   string `json:"answer_prompt,omitempty"`
	BackgroundGlob string `json:"background_glob,omitempty"`
	VoiceName      string `json:"voice_name,omitempty"`
	FontName       string `json:"font_name,omitempty"`
	AspectRatio    string `json:"aspect_ratio"`
	NextRun        string `json:"next_run,omitempty" format:"date-time"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type StageResponse struct {
	ID        string  `json:"id"`
	ProfileID string  `json:"profile_id"`
	Name      string  `json:"name"`
	LastStage *string `json:"last_stage,omitempty"`
}

type LayerResponse struct {
	ID      string `json:"id"`
	StageID string `json:"stage_id"`
	Order   int    `json:"order"`
}

type OverrideResponse struct {
	ID        string `json:"id"`
	ProfileID string `json:"profile_id"`
	RunsAt    string `json:"runs_at" format:"date-time"`
	Claimed   bool   `json:"claimed"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type PlatformResponse struct {
	ID        string `json:"id"`
	ProfileID string `json:"profile_id"`
	Platform  string `json:"platform" enum:"local,youtube"`
}

type RunResponse struct {
	ID         string   `json:"id"`
	ProfileID  string   `json:"profile_id"`
	State      string   `json:"state"`
	Attempts   int      `json:"attempts"`
	Error      *string  `json:"error,omitempty"`
	Processing []string `json:"processing,omitempty"`
	VideoRef   string   `json:"video_ref,omitempty"`
	StartedAt  string   `json:"started_at" format:"date-time"`
	FinishedAt *string  `json:"finished_at,omitempty" format:"date-time"`
}

type UploadResponse struct {
	ID         string `json:"id"`
	PlatformID string `json:"platform_id"`
	RunID      string `json:"run_id"`
	URL        string `json:"url"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProfileID  string         `json:"profile_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func profileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{
		ID:             p.ID,
		Name:           p.Name,
		Schedule:       p.Schedule,
		Paused:         p.Paused,
		QuestionPrompt: p.QuestionPrompt,
		AnswerPrompt:   p.AnswerPrompt,
		BackgroundGlob: p.BackgroundGlob,
		VoiceName:      p.VoiceName,
		FontName:       p.FontName,
		AspectRatio:    p.AspectRatio,
		NextRun:        p.NextRun,
		CreatedAt:      p.CreatedAt,
	}
}

func mapProfiles(in []domain.Profile) []ProfileResponse {
	out := make([]ProfileResponse, 0, len(in))
	for _, p := range in {
		out = append(out, profileResponse(p))
	}
	return out
}

func stageResponse(s domain.Stage) StageResponse {
	return StageResponse{ID: s.ID, ProfileID: s.ProfileID, Name: s.Name, LastStage: s.LastStage}
}

func mapStages(in []domain.Stage) []StageResponse {
	out := make([]StageResponse, 0, len(in))
	for _, s := range in {
		out = append(out, stageResponse(s))
	}
	return out
}

func layerResponse(l domain.Layer) LayerResponse {
	return LayerResponse{ID: l.ID, StageID: l.StageID, Order: l.Order}
}

func mapLayers(in []domain.Layer) []LayerResponse {
	out := make([]LayerResponse, 0, len(in))
	for _, l := range in {
		out = append(out, layerResponse(l))
	}
	return out
}

func overrideResponse(o domain.Override) OverrideResponse {
	return OverrideResponse{ID: o.ID, ProfileID: o.ProfileID, RunsAt: o.RunsAt, Claimed: o.Claimed, CreatedAt: o.CreatedAt}
}

func mapOverrides(in []domain.Override) []OverrideResponse {
	out := make([]OverrideResponse, 0, len(in))
	for _, o := range in {
		out = append(out, overrideResponse(o))
	}
	return out
}

func platformResponse(p domain.UploadPlatform) PlatformResponse {
	return PlatformResponse{ID: p.ID, ProfileID: p.ProfileID, Platform: p.Platform}
}

func mapPlatforms(in []domain.UploadPlatform) []PlatformResponse {
	out := make([]PlatformResponse, 0, len(in))
	for _, p := range in {
		out = append(out, platformResponse(p))
	}
	return out
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		ProfileID:  r.ProfileID,
		State:      string(r.State),
		Attempts:   r.Attempts,
		Error:      r.Error,
		Processing: r.Processing,
		VideoRef:   r.VideoRef,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func mapRuns(in []domain.Run) []RunResponse {
	out := make([]RunResponse, 0, len(in))
	for _, r := range in {
		out = append(out, runResponse(r))
	}
	return out
}

func uploadResponse(u domain.Upload) UploadResponse {
	return UploadResponse{ID: u.ID, PlatformID: u.PlatformID, RunID: u.RunID, URL: u.URL, UploadedAt: u.UploadedAt}
}

func mapUploads(in []domain.Upload) []UploadResponse {
	out := make([]UploadResponse, 0, len(in))
	for _, u := range in {
		out = append(out, uploadResponse(u))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	var payload map[string]any
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProfileID:  e.ProfileID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    payload,
	}
}

func mapEvents(in []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(in))
	for _, e := range in {
		out = append(out, eventResponse(e))
	}
	return out
}
