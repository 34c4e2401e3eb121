// Package repository JobRun 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pipelines-admin/internal/shared/model"
)

// jobColumns 作业表的查询列
const jobColumns = `id, run_id, name, display_name, status, runner_id, COALESCE(needs, '[]'), matrix, snapshot, exit_code, error, started_at, finished_at, created_at, updated_at`

// CreateJobs 批量创建作业（同一 Run 的展开结果，单事务写入）
func (s *Store) CreateJobs(ctx context.Context, jobs []*model.JobRun) error {
	if len(jobs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(`
		INSERT INTO jobs (id, run_id, name, display_name, status, runner_id, needs, matrix, snapshot, exit_code, error, started_at, finished_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`)
	for _, job := range jobs {
		needs, err := marshalJSON(job.Needs)
		if err != nil {
			return fmt.Errorf("marshal needs: %w", err)
		}
		if needs == nil {
			needs = "[]"
		}
		matrix, err := marshalJSON(job.Matrix)
		if err != nil {
			return fmt.Errorf("marshal matrix: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			job.ID, job.RunID, job.Name, job.DisplayName, job.Status, job.RunnerID,
			needs, matrix, job.Snapshot, job.ExitCode, job.Error,
			job.StartedAt, job.FinishedAt, job.CreatedAt, job.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetJob 获取作业
func (s *Store) GetJob(ctx context.Context, id string) (*model.JobRun, error) {
	query := s.rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`)
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// scanJob 辅助函数
func scanJob(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.JobRun, error) {
	job := &model.JobRun{}
	var needs []byte
	var matrix, snapshot *[]byte
	err := scanner.Scan(
		&job.ID, &job.RunID, &job.Name, &job.DisplayName, &job.Status, &job.RunnerID,
		&needs, &matrix, &snapshot, &job.ExitCode, &job.Error,
		&job.StartedAt, &job.FinishedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(needs) > 0 {
		if err := json.Unmarshal(needs, &job.Needs); err != nil {
			return nil, fmt.Errorf("unmarshal needs: %w", err)
		}
	}
	if matrix != nil && len(*matrix) > 0 {
		if err := json.Unmarshal(*matrix, &job.Matrix); err != nil {
			return nil, fmt.Errorf("unmarshal matrix: %w", err)
		}
	}
	if snapshot != nil {
		job.Snapshot = *snapshot
	}
	return job, nil
}

// scanJobs 批量扫描
func scanJobs(rows *sql.Rows) ([]*model.JobRun, error) {
	var jobs []*model.JobRun
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListJobsByRun 列出 Run 的全部作业
func (s *Store) ListJobsByRun(ctx context.Context, runID string) ([]*model.JobRun, error) {
	query := s.rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE run_id = $1 ORDER BY created_at ASC, display_name ASC`)
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListJobsByRunner 列出分配给节点的指定状态作业
func (s *Store) ListJobsByRunner(ctx context.Context, runnerID string, statuses []model.JobStatus) ([]*model.JobRun, error) {
	if len(statuses) == 0 {
		statuses = []model.JobStatus{model.JobStatusAssigned, model.JobStatusRunning}
	}
	placeholders := make([]string, len(statuses))
	args := []interface{}{runnerID}
	for i, st := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, st)
	}
	query := s.rebind(`SELECT ` + jobColumns + ` FROM jobs
			  WHERE runner_id = $1 AND status IN (` + strings.Join(placeholders, ", ") + `)
			  ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListQueuedJobs 列出待调度的作业
func (s *Store) ListQueuedJobs(ctx context.Context, limit int) ([]*model.JobRun, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE status = 'queued' ORDER BY created_at ASC LIMIT $1`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListStaleQueuedJobs 列出"过期"的 queued 状态作业
// 调度器主路径丢失的消息通过 DB 兜底轮询重新捡起
func (s *Store) ListStaleQueuedJobs(ctx context.Context, threshold time.Duration) ([]*model.JobRun, error) {
	cutoff := time.Now().Add(-threshold)
	query := s.rebind(`SELECT ` + jobColumns + ` FROM jobs
			  WHERE status = 'queued' AND updated_at < $1
			  ORDER BY created_at ASC
			  LIMIT 100`)
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountActiveJobsByRunner 统计节点上的活跃作业数（容量计算）
func (s *Store) CountActiveJobsByRunner(ctx context.Context, runnerID string) (int, error) {
	query := s.rebind(`SELECT COUNT(*) FROM jobs WHERE runner_id = $1 AND status IN ('assigned', 'running')`)
	var count int
	err := s.db.QueryRowContext(ctx, query, runnerID).Scan(&count)
	return count, err
}

// UpdateJobStatus 更新作业状态，维护时间戳与节点分配
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, runnerID *string) error {
	now := time.Now()
	var query string
	var args []interface{}
	switch status {
	case model.JobStatusAssigned:
		query = s.rebind(`UPDATE jobs SET status = $1, runner_id = $2, updated_at = $3 WHERE id = $4`)
		args = []interface{}{status, runnerID, now, id}
	case model.JobStatusRunning:
		query = s.rebind(`UPDATE jobs SET status = $1, started_at = COALESCE(started_at, $2), updated_at = $3 WHERE id = $4`)
		args = []interface{}{status, now, now, id}
	case model.JobStatusSucceeded, model.JobStatusFailed, model.JobStatusSkipped,
		model.JobStatusCancelled, model.JobStatusTimeout:
		query = s.rebind(`UPDATE jobs SET status = $1, finished_at = $2, updated_at = $3 WHERE id = $4`)
		args = []interface{}{status, now, now, id}
	default:
		query = s.rebind(`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`)
		args = []interface{}{status, now, id}
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// UpdateJobResult 写入终态与执行结果
func (s *Store) UpdateJobResult(ctx context.Context, id string, status model.JobStatus, exitCode *int, errMsg *string) error {
	now := time.Now()
	query := s.rebind(`UPDATE jobs SET status = $1, exit_code = $2, error = $3, finished_at = $4, updated_at = $5 WHERE id = $6`)
	_, err := s.db.ExecContext(ctx, query, status, exitCode, errMsg, now, now, id)
	return err
}

// ResetJobToQueued 将已分配的作业重置为 queued（节点离线重排）
func (s *Store) ResetJobToQueued(ctx context.Context, id string) error {
	query := s.rebind(`UPDATE jobs
			  SET status = 'queued', runner_id = NULL, started_at = NULL, error = NULL, updated_at = $2
			  WHERE id = $1 AND status IN ('assigned', 'running')`)
	_, err := s.db.ExecContext(ctx, query, id, time.Now())
	return err
}
