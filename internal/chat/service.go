package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/suPer8Hu/streamchat/internal/common"
)

const defaultSessionTitle = "New Chat"

var ErrQueueDisabled = errors.New("job queue is not configured")

// JobPublisher hands a queued job to the worker process.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// DefaultJobLease is how long a running job may go untouched before a
// redelivered message is allowed to take it over.
const DefaultJobLease = 15 * time.Minute

type Service struct {
	repo     *Repo
	client   *StreamingClient
	jobs     JobPublisher
	jobLease time.Duration
	logger   *slog.Logger
}

type ServiceOption func(*Service)

func WithJobPublisher(p JobPublisher) ServiceOption {
	return func(s *Service) { s.jobs = p }
}

func WithJobLease(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.jobLease = d
		}
	}
}

func NewService(repo *Repo, client *StreamingClient, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, client: client, jobLease: DefaultJobLease, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) QueueEnabled() bool { return s.jobs != nil }

func (s *Service) CreateSession(ctx context.Context, title string) (*Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultSessionTitle
	}
	return s.repo.CreateSession(ctx, title)
}

func (s *Service) ListSessions(ctx context.Context) ([]Session, error) {
	return s.repo.ListSessions(ctx)
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return s.repo.GetSession(ctx, sessionID)
}

func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	if _, err := s.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, sessionID)
}

// ClearHistory deletes every stored message and returns how many were removed.
func (s *Service) ClearHistory(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteAllMessages(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("chat history cleared", "deleted", n)
	return n, nil
}

// SendUserMessage records the user's prompt and starts streaming the reply in
// the background. The stored message is the caller's acknowledgment.
func (s *Service) SendUserMessage(ctx context.Context, sessionID, content string) (*Message, *Task, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil, ErrEmptyPrompt
	}
	if _, err := s.repo.GetSession(ctx, sessionID); err != nil {
		return nil, nil, err
	}

	msg, err := s.repo.AppendMessage(ctx, sessionID, RoleUser, content)
	if err != nil {
		return nil, nil, err
	}

	task := s.client.Start(ctx, sessionID, content)
	return msg, task, nil
}

// EnqueueUserMessage records the prompt and queues the stream for the worker.
// A repeated idempotency key returns the original job without storing the
// prompt again. The bool reports whether a new job was created.
func (s *Service) EnqueueUserMessage(ctx context.Context, sessionID, content, idempotencyKey string) (*Job, bool, error) {
	if s.jobs == nil {
		return nil, false, ErrQueueDisabled
	}
	if strings.TrimSpace(content) == "" {
		return nil, false, ErrEmptyPrompt
	}
	if _, err := s.repo.GetSession(ctx, sessionID); err != nil {
		return nil, false, err
	}

	key := strings.TrimSpace(idempotencyKey)
	if key != "" {
		existing, err := s.repo.GetJobByIdempotencyKey(ctx, key)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrJobNotFound) {
			return nil, false, err
		}
	}

	if _, err := s.repo.AppendMessage(ctx, sessionID, RoleUser, content); err != nil {
		return nil, false, err
	}

	jobID, err := common.NewULID()
	if err != nil {
		return nil, false, fmt.Errorf("new job id: %w", err)
	}
	j := &Job{
		ID:        jobID,
		SessionID: sessionID,
		Prompt:    content,
		Status:    JobQueued,
	}
	if key != "" {
		j.IdempotencyKey = &key
	}

	job, created, err := s.repo.CreateJobOrGetExisting(ctx, j)
	if err != nil {
		return nil, false, err
	}

	// Enqueue only when a new job was created
	if created {
		if err := s.jobs.PublishJob(ctx, job.ID); err != nil {
			msg := fmt.Sprintf("enqueue failed: %v", err)
			if markErr := s.repo.MarkJobFailed(context.WithoutCancel(ctx), job.ID, msg); markErr != nil {
				s.logger.Error("mark job failed", "job_id", job.ID, "error", markErr)
			}
			return nil, false, fmt.Errorf("publish job %s: %w", job.ID, err)
		}
	}
	return job, created, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

// RunJob executes a queued job synchronously. Finished jobs and jobs running
// elsewhere within the lease are skipped, so redelivered messages are
// harmless. A running job past its lease is taken over.
func (s *Service) RunJob(ctx context.Context, jobID string) error {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	started, err := s.repo.MarkJobRunning(ctx, jobID, time.Now().Add(-s.jobLease))
	if err != nil {
		return err
	}
	if !started {
		s.logger.Info("job already handled, skipping", "job_id", jobID, "status", job.Status)
		return nil
	}

	log := s.logger.With("job_id", jobID, "session_id", job.SessionID)
	markCtx := context.WithoutCancel(ctx)

	res, err := s.client.Run(ctx, job.SessionID, job.Prompt)
	switch {
	case err != nil:
		if markErr := s.repo.MarkJobFailed(markCtx, jobID, err.Error()); markErr != nil {
			log.Error("mark job failed", "error", markErr)
		}
		return err
	case res.CredentialMissing:
		return s.repo.MarkJobFailed(markCtx, jobID, ErrCredentialMissing.Error())
	case res.PersistErr != nil:
		return s.repo.MarkJobFailed(markCtx, jobID, res.PersistErr.Error())
	}

	log.Info("job succeeded", "message_id", res.Message.ID, "deltas", res.Deltas)
	return s.repo.MarkJobSucceeded(markCtx, jobID, res.Message.ID)
}

// Wait drains in-flight background streams, cancelling them when ctx expires.
func (s *Service) Wait(ctx context.Context) error {
	return s.client.Shutdown(ctx)
}
