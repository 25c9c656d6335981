package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/suPer8Hu/streamchat/internal/common"
	"gorm.io/gorm"
)

// MessageStore is what the streaming client needs from persistence.
type MessageStore interface {
	AppendMessage(ctx context.Context, sessionID, role, content string) (*Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, title string) (*Session, error) {
	sid, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	s := &Session{SessionID: sid, Title: title}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, storageErr("create session", err)
	}
	return s, nil
}

// ListSessions returns sessions newest first.
func (r *Repo) ListSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Find(&out).Error; err != nil {
		return nil, storageErr("list sessions", err)
	}
	return out, nil
}

func (r *Repo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, storageErr("get session", err)
	}
	return &s, nil
}

func (r *Repo) AppendMessage(ctx context.Context, sessionID, role, content string) (*Message, error) {
	m := &Message{SessionID: sessionID, Role: role, Content: content}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, storageErr("append message", err)
	}
	return m, nil
}

// ListMessages returns messages in ascending creation order (oldest -> newest).
func (r *Repo) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, storageErr("list messages", err)
	}
	return msgs, nil
}

// DeleteAllMessages removes every message of every session.
func (r *Repo) DeleteAllMessages(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("1 = 1").Delete(&Message{})
	if res.Error != nil {
		return 0, storageErr("delete messages", res.Error)
	}
	return res.RowsAffected, nil
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return storageErr("create job", r.db.WithContext(ctx).Create(job).Error)
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, storageErr("get job", err)
	}
	return &j, nil
}

// MarkJobRunning claims a job for execution. A queued job is always claimed.
// A running job is reclaimed only when it was last touched before staleBefore,
// which covers a worker that died mid-stream. It reports false otherwise, e.g.
// a redelivered message for a finished job.
func (r *Repo) MarkJobRunning(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Where(r.db.Where("status = ?", JobQueued).
			Or("status = ? AND updated_at < ?", JobRunning, staleBefore)).
		Updates(map[string]any{"status": JobRunning, "updated_at": time.Now()})
	if res.Error != nil {
		return false, storageErr("mark job running", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, assistantMsgID uint64) error {
	return storageErr("mark job succeeded", r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobSucceeded,
			"result_message_id": assistantMsgID,
			"error":             nil,
		}).Error)
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return storageErr("mark job failed", r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error)
}

func (r *Repo) GetJobByIdempotencyKey(ctx context.Context, key string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, storageErr("get job", err)
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if idempotency_key already
// exists it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || strings.TrimSpace(*job.IdempotencyKey) == "" {
		job.IdempotencyKey = nil
		if err := r.CreateJob(ctx, job); err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByIdempotencyKey(ctx, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, ErrJobNotFound) {
		return nil, false, storageErr("create job", err)
	}
	return nil, false, getErr
}
