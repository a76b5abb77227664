package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"clipforge/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const profileCols = `id,name,schedule,paused,question_prompt,answer_prompt,background_glob,voice_name,font_name,aspect_ratio,next_run,created_at`

func scanProfile(scan func(...any) error) (domain.Profile, error) {
	var p domain.Profile
	var paused int
	var nextRun sql.NullString
	err := scan(&p.ID, &p.Name, &p.Schedule, &paused, &p.QuestionPrompt, &p.AnswerPrompt,
		&p.BackgroundGlob, &p.VoiceName, &p.FontName, &p.AspectRatio, &nextRun, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Paused = paused != 0
	if nextRun.Valid {
		p.NextRun = nextRun.String
	}
	return p, nil
}

func (r Repo) InsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO profiles(`+profileCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Schedule, boolInt(p.Paused), p.QuestionPrompt, p.AnswerPrompt,
		p.BackgroundGlob, p.VoiceName, p.FontName, p.AspectRatio, nullable(p.NextRun), p.CreatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE id=?`, id)
	return scanProfile(row.Scan)
}

func (r Repo) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	return r.listProfiles(ctx, `SELECT `+profileCols+` FROM profiles ORDER BY created_at DESC`)
}

// ListActiveProfiles returns the unpaused profiles, the only candidates for
// due-run selection.
func (r Repo) ListActiveProfiles(ctx context.Context) ([]domain.Profile, error) {
	return r.listProfiles(ctx, `SELECT `+profileCols+` FROM profiles WHERE paused=0 ORDER BY created_at ASC`)
}

func (r Repo) listProfiles(ctx context.Context, query string, args ...any) ([]domain.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeleteProfile(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM profiles WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProfilePaused flips the paused flag inside the caller's transaction.
func (r Repo) SetProfilePaused(ctx context.Context, tx *sql.Tx, id string, paused bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE profiles SET paused=? WHERE id=?`, boolInt(paused), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNextRun writes back the cron-evaluated next occurrence.
func (r Repo) SetNextRun(ctx context.Context, tx *sql.Tx, id, nextRun string) error {
	_, err := tx.ExecContext(ctx, `UPDATE profiles SET next_run=? WHERE id=?`, nullable(nextRun), id)
	return err
}

// --- overrides ---

func (r Repo) InsertOverride(ctx context.Context, tx *sql.Tx, o domain.Override) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO overrides(id,profile_id,runs_at,claimed,created_at) VALUES (?,?,?,?,?)`,
		o.ID, o.ProfileID, o.RunsAt, boolInt(o.Claimed), o.CreatedAt)
	return err
}

func (r Repo) ListOverrides(ctx context.Context, profileID string) ([]domain.Override, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,profile_id,runs_at,claimed,created_at FROM overrides WHERE profile_id=? ORDER BY runs_at ASC`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOverrides(rows)
}

// DueOverrides returns every unclaimed override on an unpaused profile whose
// run time has passed, oldest first. The caller claims at most one per
// profile per pass.
func (r Repo) DueOverrides(ctx context.Context, now string) ([]domain.Override, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT o.id,o.profile_id,o.runs_at,o.claimed,o.created_at FROM overrides o
		JOIN profiles p ON p.id=o.profile_id
		WHERE o.claimed=0 AND o.runs_at<=? AND p.paused=0
		ORDER BY o.runs_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOverrides(rows)
}

func collectOverrides(rows *sql.Rows) ([]domain.Override, error) {
	var res []domain.Override
	for rows.Next() {
		var o domain.Override
		var claimed int
		if err := rows.Scan(&o.ID, &o.ProfileID, &o.RunsAt, &claimed, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Claimed = claimed != 0
		res = append(res, o)
	}
	return res, rows.Err()
}

// ClaimOverride marks an override claimed. The claimed=0 guard makes the
// claim atomic against concurrent pollers: exactly one caller sees true.
func (r Repo) ClaimOverride(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE overrides SET claimed=1 WHERE id=? AND claimed=0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// --- runs ---

const runCols = `id,profile_id,state,attempts,error,processing,question,answer,voice_ref,subtitle_ref,background_ref,video_ref,started_at,finished_at`

// CreateRunIfIdle inserts a run only if the profile has no non-terminal run.
// The guard and the insert are one statement, so two racing pollers cannot
// both succeed; the run's non-terminal existence is the cross-worker lock.
func (r Repo) CreateRunIfIdle(ctx context.Context, tx *sql.Tx, run domain.Run) (bool, error) {
	processing, err := marshalProcessing(run.Processing)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs(id,profile_id,state,attempts,processing,started_at)
		SELECT ?,?,?,?,?,?
		WHERE NOT EXISTS (
			SELECT 1 FROM runs WHERE profile_id=? AND state NOT IN (?,?)
		)`,
		run.ID, run.ProfileID, string(run.State), run.Attempts, processing, run.StartedAt,
		run.ProfileID, string(domain.StateDone), string(domain.StateError))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func scanRun(scan func(...any) error) (domain.Run, error) {
	var run domain.Run
	var state, processing string
	var errDetail, finishedAt sql.NullString
	err := scan(&run.ID, &run.ProfileID, &state, &run.Attempts, &errDetail, &processing,
		&run.Question, &run.Answer, &run.VoiceRef, &run.SubtitleRef, &run.BackgroundRef,
		&run.VideoRef, &run.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	run.State = domain.RunState(state)
	if errDetail.Valid {
		run.Error = &errDetail.String
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.String
	}
	if err := json.Unmarshal([]byte(processing), &run.Processing); err != nil {
		return run, fmt.Errorf("decode processing set for run %s: %w", run.ID, err)
	}
	return run, nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runCols+` FROM runs WHERE id=?`, id)
	return scanRun(row.Scan)
}

func (r Repo) ListRuns(ctx context.Context, profileID string) ([]domain.Run, error) {
	query := `SELECT ` + runCols + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if profileID != "" {
		query = `SELECT ` + runCols + ` FROM runs WHERE profile_id=? ORDER BY started_at DESC`
		args = append(args, profileID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// AttachableRuns returns all non-terminal runs, oldest first. A worker picking
// up after a restart re-attaches to these instead of claiming anew.
func (r Repo) AttachableRuns(ctx context.Context) ([]domain.Run, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runCols+` FROM runs WHERE state NOT IN (?,?) ORDER BY started_at ASC`,
		string(domain.StateDone), string(domain.StateError))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// UpdateRun persists the full mutable portion of a run. Only the run
// coordinator calls this; it owns every state transition.
func (r Repo) UpdateRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	processing, err := marshalProcessing(run.Processing)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE runs SET state=?, attempts=?, error=?, processing=?,
		question=?, answer=?, voice_ref=?, subtitle_ref=?, background_ref=?, video_ref=?, finished_at=?
		WHERE id=?`,
		string(run.State), run.Attempts, nullableStringPtr(run.Error), processing,
		run.Question, run.Answer, run.VoiceRef, run.SubtitleRef, run.BackgroundRef, run.VideoRef,
		nullableStringPtr(run.FinishedAt), run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalProcessing(in []string) (string, error) {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// --- stages and layers ---

func (r Repo) InsertStage(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stages(id,profile_id,name,last_stage) VALUES (?,?,?,?)`,
		s.ID, s.ProfileID, s.Name, nullableStringPtr(s.LastStage))
	return err
}

func (r Repo) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	var s domain.Stage
	var last sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,profile_id,name,last_stage FROM stages WHERE id=?`, id).
		Scan(&s.ID, &s.ProfileID, &s.Name, &last)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if last.Valid {
		s.LastStage = &last.String
	}
	return s, nil
}

func (r Repo) ListStages(ctx context.Context, profileID string) ([]domain.Stage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,profile_id,name,last_stage FROM stages WHERE profile_id=?`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stage
	for rows.Next() {
		var s domain.Stage
		var last sql.NullString
		if err := rows.Scan(&s.ID, &s.ProfileID, &s.Name, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			s.LastStage = &last.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertLayer(ctx context.Context, tx *sql.Tx, l domain.Layer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO layers(id,stage_id,ord,payload) VALUES (?,?,?,?)`,
		l.ID, l.StageID, l.Order, l.Payload)
	return err
}

func (r Repo) ListLayers(ctx context.Context, stageID string) ([]domain.Layer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,stage_id,ord,payload FROM layers WHERE stage_id=? ORDER BY ord ASC`, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Layer
	for rows.Next() {
		var l domain.Layer
		if err := rows.Scan(&l.ID, &l.StageID, &l.Order, &l.Payload); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// StageGraph loads a profile's stages and their layers, layers in ascending
// display order, ready for the resolver.
func (r Repo) StageGraph(ctx context.Context, profileID string) ([]domain.Stage, map[string][]domain.Layer, error) {
	stages, err := r.ListStages(ctx, profileID)
	if err != nil {
		return nil, nil, err
	}
	layers := make(map[string][]domain.Layer, len(stages))
	for _, s := range stages {
		ls, err := r.ListLayers(ctx, s.ID)
		if err != nil {
			return nil, nil, err
		}
		layers[s.ID] = ls
	}
	return stages, layers, nil
}

// --- upload platforms and uploads ---

func (r Repo) InsertPlatform(ctx context.Context, tx *sql.Tx, p domain.UploadPlatform) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO upload_platforms(id,profile_id,platform,oauth_refresh,oauth_token) VALUES (?,?,?,?,?)`,
		p.ID, p.ProfileID, p.Platform, p.OAuthRefresh, p.OAuthToken)
	return err
}

func (r Repo) ListPlatforms(ctx context.Context, profileID string) ([]domain.UploadPlatform, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,profile_id,platform,oauth_refresh,oauth_token FROM upload_platforms WHERE profile_id=?`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UploadPlatform
	for rows.Next() {
		var p domain.UploadPlatform
		if err := rows.Scan(&p.ID, &p.ProfileID, &p.Platform, &p.OAuthRefresh, &p.OAuthToken); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertUploadTx(ctx context.Context, tx *sql.Tx, u domain.Upload) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO uploads(id,platform_id,run_id,url,uploaded_at) VALUES (?,?,?,?,?)`,
		u.ID, u.PlatformID, u.RunID, u.URL, u.UploadedAt)
	return err
}

func (r Repo) ListUploadsForRun(ctx context.Context, runID string) ([]domain.Upload, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,platform_id,run_id,url,uploaded_at FROM uploads WHERE run_id=? ORDER BY uploaded_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Upload
	for rows.Next() {
		var u domain.Upload
		if err := rows.Scan(&u.ID, &u.PlatformID, &u.RunID, &u.URL, &u.UploadedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, profileID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,COALESCE(profile_id,''),entity_kind,COALESCE(entity_id,''),payload_json FROM events`
	args := []any{}
	if profileID != "" {
		query += ` WHERE profile_id=?`
		args = append(args, profileID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProfileID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
