package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classmeet/backend/internal/models"
)

// Repository is the single source of truth for sessions, users and messages.
// Every mutating method is atomic over one session/user aggregate; only
// LeaveSession needs a multi-statement transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session store over a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping probes database connectivity for the health endpoint.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// CreateSession inserts the teacher user and the session in one transaction.
// The teacher is not a participant yet; they enter the room via JoinSession
// like everyone else.
func (r *Repository) CreateSession(ctx context.Context, teacherName, sessionName string) (*models.Session, *models.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, classify("create session", err)
	}
	defer tx.Rollback(ctx)

	teacher := &models.User{Name: teacherName, IsTeacher: true, IsMuted: true, VideoEnabled: true}
	const insertUser = `INSERT INTO users (id, name, is_teacher)
		VALUES (gen_random_uuid(), $1, TRUE)
		RETURNING id`
	if err := tx.QueryRow(ctx, insertUser, teacherName).Scan(&teacher.ID); err != nil {
		return nil, nil, classify("create session: teacher", err)
	}

	session := &models.Session{TeacherID: teacher.ID, Name: sessionName, IsActive: true}
	const insertSession = `INSERT INTO sessions (id, teacher_id, name, created_at)
		VALUES (gen_random_uuid(), $1, $2, NOW())
		RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insertSession, teacher.ID, sessionName).Scan(&session.ID, &session.CreatedAt); err != nil {
		return nil, nil, classify("create session", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, classify("create session: commit", err)
	}
	return session, teacher, nil
}

// GetSession returns a session with its participant list.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const q = `SELECT id, teacher_id, name, is_active, created_at, shared_screen_user_id,
			is_livestreaming, recording_url, producer_id
		FROM sessions WHERE id = $1`
	var s models.Session
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.TeacherID, &s.Name, &s.IsActive,
		&s.CreatedAt, &s.SharedScreenUserID, &s.IsLivestreaming, &s.RecordingURL, &s.ProducerID)
	if err != nil {
		return nil, classify("get session", err)
	}
	participants, err := r.listParticipants(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	s.Participants = participants
	return &s, nil
}

// GetUser returns a user by ID.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT id, name, is_teacher, hand_raised, is_muted, video_enabled, is_streaming
		FROM users WHERE id = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Name, &u.IsTeacher, &u.HandRaised,
		&u.IsMuted, &u.VideoEnabled, &u.IsStreaming)
	if err != nil {
		return nil, classify("get user", err)
	}
	return &u, nil
}

// JoinSession creates a fresh user and adds them to the participant set.
// Fails ErrNotFound when the session is missing and ErrInvalidState when it is
// no longer active. Returns the new user and the session snapshot including
// participants.
func (r *Repository) JoinSession(ctx context.Context, sessionID uuid.UUID, name string, isTeacher bool) (*models.User, *models.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, classify("join session", err)
	}
	defer tx.Rollback(ctx)

	var s models.Session
	const selectSession = `SELECT id, teacher_id, name, is_active, created_at, shared_screen_user_id,
			is_livestreaming, recording_url, producer_id
		FROM sessions WHERE id = $1 FOR UPDATE`
	err = tx.QueryRow(ctx, selectSession, sessionID).Scan(&s.ID, &s.TeacherID, &s.Name, &s.IsActive,
		&s.CreatedAt, &s.SharedScreenUserID, &s.IsLivestreaming, &s.RecordingURL, &s.ProducerID)
	if err != nil {
		return nil, nil, classify("join session", err)
	}
	if !s.IsActive {
		return nil, nil, ErrInvalidState
	}

	user := &models.User{Name: name, IsTeacher: isTeacher, IsMuted: true, VideoEnabled: true}
	const insertUser = `INSERT INTO users (id, name, is_teacher)
		VALUES (gen_random_uuid(), $1, $2)
		RETURNING id`
	if err := tx.QueryRow(ctx, insertUser, name, isTeacher).Scan(&user.ID); err != nil {
		return nil, nil, classify("join session: user", err)
	}
	const insertParticipant = `INSERT INTO session_participants (session_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := tx.Exec(ctx, insertParticipant, sessionID, user.ID); err != nil {
		return nil, nil, classify("join session: participant", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, classify("join session: commit", err)
	}

	participants, err := r.listParticipants(ctx, r.pool, sessionID)
	if err != nil {
		return nil, nil, err
	}
	s.Participants = participants
	return user, &s, nil
}

// LeaveResult reports what a leave changed, so the caller can run external
// cleanup after the transaction committed.
type LeaveResult struct {
	WasTeacher bool
	// Deactivated is true when the session flipped inactive (last teacher gone
	// or participant set empty).
	Deactivated bool
	// OrphanedProducerID is the producer handle that was cleared locally and
	// still needs a best-effort close on the media server.
	OrphanedProducerID *string
}

// LeaveSession removes the participant and recomputes is_active in one
// transaction. When the session deactivates, any open producer handle is
// cleared locally and returned for external cleanup.
func (r *Repository) LeaveSession(ctx context.Context, sessionID, userID uuid.UUID) (*LeaveResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classify("leave session", err)
	}
	defer tx.Rollback(ctx)

	var s models.Session
	const selectSession = `SELECT id, is_active, is_livestreaming, producer_id
		FROM sessions WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, selectSession, sessionID).Scan(&s.ID, &s.IsActive, &s.IsLivestreaming, &s.ProducerID); err != nil {
		return nil, classify("leave session", err)
	}

	var u models.User
	const selectUser = `SELECT id, is_teacher FROM users WHERE id = $1`
	if err := tx.QueryRow(ctx, selectUser, userID).Scan(&u.ID, &u.IsTeacher); err != nil {
		return nil, classify("leave session: user", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM session_participants WHERE session_id = $1 AND user_id = $2`, sessionID, userID); err != nil {
		return nil, classify("leave session: remove participant", err)
	}

	remaining, err := r.listParticipants(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	res := &LeaveResult{WasTeacher: u.IsTeacher}
	teacherRemains := false
	for _, p := range remaining {
		if p.IsTeacher {
			teacherRemains = true
			break
		}
	}
	if (u.IsTeacher && !teacherRemains) || len(remaining) == 0 {
		res.Deactivated = true
		res.OrphanedProducerID = s.ProducerID
		const deactivate = `UPDATE sessions
			SET is_active = FALSE, is_livestreaming = FALSE, producer_id = NULL
			WHERE id = $1`
		if _, err := tx.Exec(ctx, deactivate, sessionID); err != nil {
			return nil, classify("leave session: deactivate", err)
		}
	}
	if u.IsTeacher {
		if _, err := tx.Exec(ctx, `UPDATE users SET is_streaming = FALSE WHERE id = $1`, userID); err != nil {
			return nil, classify("leave session: reset streaming", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify("leave session: commit", err)
	}
	return res, nil
}

// AddMessage appends a chat message, denormalizing the sender's current name.
func (r *Repository) AddMessage(ctx context.Context, sessionID, userID uuid.UUID, content string, isQuestion bool, ts time.Time) (*models.Message, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return nil, classify("add message", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	m := &models.Message{SessionID: sessionID, UserID: userID, Content: content, IsQuestion: isQuestion, Timestamp: ts}
	const q = `INSERT INTO messages (id, session_id, user_id, user_name, content, ts, is_question)
		SELECT gen_random_uuid(), $1, u.id, u.name, $3, $4, $5
		FROM users u WHERE u.id = $2
		RETURNING id, user_name`
	err := r.pool.QueryRow(ctx, q, sessionID, userID, content, ts, isQuestion).Scan(&m.ID, &m.UserName)
	if err != nil {
		return nil, classify("add message", err)
	}
	return m, nil
}

// ListMessages returns a session's chat history in send order.
func (r *Repository) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]models.Message, error) {
	const q = `SELECT id, session_id, user_id, user_name, content, ts, is_question, answered
		FROM messages WHERE session_id = $1 ORDER BY ts ASC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, classify("list messages", err)
	}
	defer rows.Close()

	var list []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.UserName, &m.Content, &m.Timestamp, &m.IsQuestion, &m.Answered); err != nil {
			return nil, classify("list messages", err)
		}
		list = append(list, m)
	}
	return list, classify("list messages", rows.Err())
}

// MarkQuestionAnswered flags a question message as answered. Idempotent for
// already-answered questions; ErrNotFound when no question matches.
func (r *Repository) MarkQuestionAnswered(ctx context.Context, sessionID, messageID uuid.UUID) error {
	const q = `UPDATE messages SET answered = TRUE
		WHERE id = $1 AND session_id = $2 AND is_question = TRUE`
	tag, err := r.pool.Exec(ctx, q, messageID, sessionID)
	if err != nil {
		return classify("mark question answered", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetHandRaised updates a user's hand flag.
func (r *Repository) SetHandRaised(ctx context.Context, userID uuid.UUID, raised bool) error {
	return r.setUserFlag(ctx, "hand_raised", userID, raised)
}

// SetMuted updates a user's mute flag.
func (r *Repository) SetMuted(ctx context.Context, userID uuid.UUID, muted bool) error {
	return r.setUserFlag(ctx, "is_muted", userID, muted)
}

// SetVideoEnabled updates a user's video flag.
func (r *Repository) SetVideoEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	return r.setUserFlag(ctx, "video_enabled", userID, enabled)
}

// SetStreaming updates a user's streaming flag.
func (r *Repository) SetStreaming(ctx context.Context, userID uuid.UUID, streaming bool) error {
	return r.setUserFlag(ctx, "is_streaming", userID, streaming)
}

func (r *Repository) setUserFlag(ctx context.Context, column string, userID uuid.UUID, value bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET `+column+` = $2 WHERE id = $1`, userID, value)
	if err != nil {
		return classify("set "+column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StartLivestream marks the session streaming. created_at is backfilled for
// legacy rows that never recorded one.
func (r *Repository) StartLivestream(ctx context.Context, sessionID uuid.UUID) error {
	const q = `UPDATE sessions
		SET is_livestreaming = TRUE, created_at = COALESCE(created_at, NOW())
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, sessionID)
	if err != nil {
		return classify("start livestream", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StopLivestream resets the livestream sub-state and clears the producer
// handle in one statement, returning the handle that was open (if any) so the
// caller can close it on the media server afterwards.
func (r *Repository) StopLivestream(ctx context.Context, sessionID uuid.UUID) (*string, error) {
	const q = `WITH prev AS (
			SELECT producer_id FROM sessions WHERE id = $1 FOR UPDATE
		)
		UPDATE sessions SET is_livestreaming = FALSE, producer_id = NULL
		WHERE id = $1
		RETURNING (SELECT producer_id FROM prev)`
	var prev *string
	if err := r.pool.QueryRow(ctx, q, sessionID).Scan(&prev); err != nil {
		return nil, classify("stop livestream", err)
	}
	return prev, nil
}

// SetProducer records the media server's producer handle. The same statement
// asserts is_livestreaming so the producer/streaming invariant cannot drift.
func (r *Repository) SetProducer(ctx context.Context, sessionID uuid.UUID, producerID string) error {
	const q = `UPDATE sessions SET producer_id = $2, is_livestreaming = TRUE WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, sessionID, producerID)
	if err != nil {
		return classify("set producer", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSharedScreen records the current screen sharer. Overwrites any previous
// sharer, which keeps the at-most-one invariant.
func (r *Repository) SetSharedScreen(ctx context.Context, sessionID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET shared_screen_user_id = $2 WHERE id = $1`, sessionID, userID)
	if err != nil {
		return classify("set shared screen", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSharedScreen clears the sharer only when it still is the given user.
func (r *Repository) ClearSharedScreen(ctx context.Context, sessionID, userID uuid.UUID) error {
	const q = `UPDATE sessions SET shared_screen_user_id = NULL
		WHERE id = $1 AND shared_screen_user_id = $2`
	_, err := r.pool.Exec(ctx, q, sessionID, userID)
	return classify("clear shared screen", err)
}

// ListActiveLivestreams returns active, streaming sessions joined with the
// teacher's name and the current participant count.
func (r *Repository) ListActiveLivestreams(ctx context.Context) ([]models.LivestreamSummary, error) {
	const q = `SELECT s.id, s.name, s.teacher_id, u.name, s.created_at,
			(SELECT COUNT(*) FROM session_participants sp WHERE sp.session_id = s.id)
		FROM sessions s
		JOIN users u ON u.id = s.teacher_id
		WHERE s.is_active = TRUE AND s.is_livestreaming = TRUE
		ORDER BY s.created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, classify("list active livestreams", err)
	}
	defer rows.Close()

	var list []models.LivestreamSummary
	for rows.Next() {
		var s models.LivestreamSummary
		if err := rows.Scan(&s.SessionID, &s.Name, &s.TeacherID, &s.TeacherName, &s.CreatedAt, &s.ParticipantCount); err != nil {
			return nil, classify("list active livestreams", err)
		}
		list = append(list, s)
	}
	return list, classify("list active livestreams", rows.Err())
}

// ListOrphanedProducers returns producer handles still recorded on sessions
// that are no longer active, for the reconciliation worker.
func (r *Repository) ListOrphanedProducers(ctx context.Context) (map[uuid.UUID]string, error) {
	const q = `SELECT id, producer_id FROM sessions
		WHERE producer_id IS NOT NULL AND (is_active = FALSE OR is_livestreaming = FALSE)`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, classify("list orphaned producers", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]string)
	for rows.Next() {
		var id uuid.UUID
		var producer string
		if err := rows.Scan(&id, &producer); err != nil {
			return nil, classify("list orphaned producers", err)
		}
		out[id] = producer
	}
	return out, classify("list orphaned producers", rows.Err())
}

// ClearProducer removes an orphaned producer handle after reconciliation.
func (r *Repository) ClearProducer(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET producer_id = NULL WHERE id = $1`, sessionID)
	return classify("clear producer", err)
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) listParticipants(ctx context.Context, q queryer, sessionID uuid.UUID) ([]models.User, error) {
	const query = `SELECT u.id, u.name, u.is_teacher, u.hand_raised, u.is_muted, u.video_enabled, u.is_streaming
		FROM session_participants sp
		JOIN users u ON u.id = sp.user_id
		WHERE sp.session_id = $1
		ORDER BY u.name`
	rows, err := q.Query(ctx, query, sessionID)
	if err != nil {
		return nil, classify("list participants", err)
	}
	defer rows.Close()

	var list []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.IsTeacher, &u.HandRaised, &u.IsMuted, &u.VideoEnabled, &u.IsStreaming); err != nil {
			return nil, classify("list participants", err)
		}
		list = append(list, u)
	}
	return list, classify("list participants", rows.Err())
}
