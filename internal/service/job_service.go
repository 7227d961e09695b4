package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/scriptreel/api/internal/model"
	"github.com/scriptreel/api/internal/script"
)

const TaskTypeGenerate = "generate:process"

// Priority queues, drained by weight so high-priority jobs win without
// starving the rest.
const (
	QueueHigh    = "generate:high"
	QueueDefault = "generate:default"
	QueueLow     = "generate:low"
)

var (
	// ErrJobNotCompleted marks result lookups on jobs that have not finished.
	ErrJobNotCompleted = errors.New("job not completed")
	// ErrJobFailed marks result lookups on jobs that ended in FAILED.
	ErrJobFailed = errors.New("job failed")
	// ErrJobTerminal marks writes against jobs already in a final state.
	ErrJobTerminal = errors.New("job already finished")
)

// TaskEnqueuer is the slice of asynq.Client the service uses.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobService manages generation job lifecycle: creation, dispatch,
// progress, cancellation and results.
type JobService struct {
	store       JobStore
	asynqClient TaskEnqueuer
	stats       *PipelineStats
	maxScenes   int
}

func NewJobService(store JobStore, asynqClient TaskEnqueuer, stats *PipelineStats, maxScenes int) *JobService {
	return &JobService{
		store:       store,
		asynqClient: asynqClient,
		stats:       stats,
		maxScenes:   maxScenes,
	}
}

// StartGeneration parses the script, creates the job record and queues
// the pipeline task. Parse failures reject the request before any job
// exists.
func (s *JobService) StartGeneration(ctx context.Context, req *model.GenerateStartRequest) (*model.GenerateStartResponse, error) {
	parsed, err := script.Parse(req.ScriptContent)
	if err != nil {
		return nil, err
	}
	if err := script.CheckLimits(parsed, s.maxScenes); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	now := time.Now()

	payload := &model.GenerateJobPayload{
		ScriptContent: req.ScriptContent,
		Quality:       req.Quality,
		Priority:      req.Priority,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		Type:      model.JobTypeGenerate,
		Status:    model.JobStatusCreated,
		Progress:  0,
		Payload:   payloadBytes,
		CreatedAt: now,
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.dispatch(ctx, job, req.Priority); err != nil {
		return nil, err
	}

	s.stats.MarkStarted()

	return &model.GenerateStartResponse{
		JobID:      jobID,
		Status:     job.Status,
		SceneCount: len(parsed.Scenes),
		CreatedAt:  now,
	}, nil
}

// dispatch enqueues the pipeline task and moves the job to QUEUED.
// Dispatching a job already past CREATED is a no-op, and the task id
// is pinned to the job id so the broker drops duplicates too.
func (s *JobService) dispatch(ctx context.Context, job *model.Job, priority int) error {
	if job.Status != model.JobStatusCreated {
		return nil
	}

	task, err := newGenerateTask(job.ID, job.Payload)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue(queueForPriority(priority)),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(0),
		asynq.Retention(jobTTL),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		failMsg := fmt.Sprintf("dispatch failed: %v", err)
		job.Status = model.JobStatusFailed
		job.Error = &failMsg
		now := time.Now()
		job.CompletedAt = &now
		if saveErr := s.store.SaveJob(ctx, job); saveErr != nil {
			return fmt.Errorf("failed to enqueue task: %w (job save: %v)", err, saveErr)
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	job.Status = model.JobStatusQueued
	return s.store.SaveJob(ctx, job)
}

func queueForPriority(priority int) string {
	switch {
	case priority >= 7:
		return QueueHigh
	case priority >= 3:
		return QueueDefault
	default:
		return QueueLow
	}
}

// Job returns the raw job record.
func (s *JobService) Job(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// GetStatus returns the poll contract for a job.
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.GenerateStatusResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	resp := &model.GenerateStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		RetryCount:  job.RetryCount,
	}

	if job.Status == model.JobStatusCompleted && len(job.Result) > 0 {
		var result model.GenerateJobResult
		if err := json.Unmarshal(job.Result, &result); err == nil {
			resp.VideoURL = result.VideoURL
		}
	}

	return resp, nil
}

// GetResult returns the final artifact locations for a completed job.
func (s *JobService) GetResult(ctx context.Context, jobID string) (*model.GenerateResultResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status == model.JobStatusFailed {
		msg := "unknown error"
		if job.Error != nil {
			msg = *job.Error
		}
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, msg)
	}
	if job.Status != model.JobStatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrJobNotCompleted, job.Status)
	}

	var result model.GenerateJobResult
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &model.GenerateResultResponse{
		JobID:        job.ID,
		Title:        result.Title,
		VideoURL:     result.VideoURL,
		OutputPath:   result.OutputPath,
		PreviewURLs:  result.PreviewURLs,
		PreviewPaths: result.PreviewPaths,
		DurationSec:  result.DurationSec,
		SceneCount:   result.SceneCount,
		CreatedAt:    job.CreatedAt,
		Attempts:     result.Attempts,
	}, nil
}

// CancelGeneration marks a job CANCELLED. The worker observes the state
// between stages and stops; already finished jobs cannot be cancelled.
func (s *JobService) CancelGeneration(ctx context.Context, jobID string) (*model.GenerateCancelResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrJobTerminal, job.Status)
	}

	job.Status = model.JobStatusCancelled
	now := time.Now()
	job.CompletedAt = &now

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	s.stats.MarkCancelled()

	return &model.GenerateCancelResponse{
		Success: true,
		JobID:   jobID,
		Status:  model.JobStatusCancelled,
	}, nil
}

// IsCancelled reports whether the job was cancelled. Used by the worker
// as a cooperative stop flag between stages and retry attempts.
func (s *JobService) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == model.JobStatusCancelled, nil
}

// UpdateJobProgress advances job progress (called by worker). Progress
// never moves backwards and terminal jobs are left untouched.
func (s *JobService) UpdateJobProgress(ctx context.Context, jobID string, progress float64, step string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return nil
	}

	if progress > job.Progress {
		job.Progress = progress
	}
	job.CurrentStep = step

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}

	return s.store.SaveJob(ctx, job)
}

// RecordRetry bumps the job's retry counter (called by worker).
func (s *JobService) RecordRetry(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	job.RetryCount++
	s.stats.AddRetry()
	return s.store.SaveJob(ctx, job)
}

// CompleteJob marks a job COMPLETED with its result (called by worker).
// Completion of a job cancelled mid-flight is refused so the cancel
// outcome sticks.
func (s *JobService) CompleteJob(ctx context.Context, jobID string, result interface{}) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: status is %s", ErrJobTerminal, job.Status)
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.Result = resultBytes
	now := time.Now()
	job.CompletedAt = &now

	if err := s.store.SaveJob(ctx, job); err != nil {
		return err
	}

	s.stats.MarkCompleted()
	return nil
}

// FailJob marks a job FAILED (called by worker). A job already in a
// terminal state keeps its outcome.
func (s *JobService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return nil
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now

	if err := s.store.SaveJob(ctx, job); err != nil {
		return err
	}

	s.stats.MarkFailed()
	return nil
}

func newGenerateTask(jobID string, payload []byte) (*asynq.Task, error) {
	// RawMessage keeps the payload embedded as JSON rather than base64.
	taskPayload := map[string]interface{}{
		"jobId":   jobID,
		"payload": json.RawMessage(payload),
	}
	data, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGenerate, data), nil
}
