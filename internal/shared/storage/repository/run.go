// Package repository WorkflowRun 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"pipelines-admin/internal/shared/model"
)

// CreateRun 创建 Run
func (s *Store) CreateRun(ctx context.Context, run *model.WorkflowRun) error {
	query := s.rebind(`
		INSERT INTO runs (id, workflow_id, status, event, definition, started_at, finished_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.WorkflowID, run.Status, run.Event, run.Definition,
		run.StartedAt, run.FinishedAt, run.CreatedAt, run.UpdatedAt)
	return err
}

// GetRun 获取 Run
func (s *Store) GetRun(ctx context.Context, id string) (*model.WorkflowRun, error) {
	query := s.rebind(`SELECT id, workflow_id, status, event, definition, started_at, finished_at, created_at, updated_at
			  FROM runs WHERE id = $1`)
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// scanRun 辅助函数
func scanRun(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.WorkflowRun, error) {
	run := &model.WorkflowRun{}
	var event, definition *[]byte
	err := scanner.Scan(
		&run.ID, &run.WorkflowID, &run.Status, &event, &definition,
		&run.StartedAt, &run.FinishedAt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if event != nil {
		run.Event = *event
	}
	if definition != nil {
		run.Definition = *definition
	}
	return run, nil
}

// scanRuns 批量扫描
func scanRuns(rows *sql.Rows) ([]*model.WorkflowRun, error) {
	var runs []*model.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListRuns 列出 Run，workflowID/status 为空时不过滤
func (s *Store) ListRuns(ctx context.Context, workflowID string, status string, limit, offset int) ([]*model.WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, workflow_id, status, event, definition, started_at, finished_at, created_at, updated_at
			  FROM runs`
	var conditions []string
	var args []interface{}
	argn := 1
	if workflowID != "" {
		conditions = append(conditions, `workflow_id = $`+itoa(argn))
		args = append(args, workflowID)
		argn++
	}
	if status != "" {
		conditions = append(conditions, `status = $`+itoa(argn))
		args = append(args, status)
		argn++
	}
	if len(conditions) > 0 {
		query += " WHERE " + joinAnd(conditions)
	}
	query += ` ORDER BY created_at DESC LIMIT $` + itoa(argn) + ` OFFSET $` + itoa(argn+1)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListActiveRuns 列出未终态的 Run
func (s *Store) ListActiveRuns(ctx context.Context, limit int) ([]*model.WorkflowRun, error) {
	if limit <= 0 {
		limit = 100
	}
	var query string
	if s.dialect.SupportsNullsLast() {
		query = s.rebind(`SELECT id, workflow_id, status, event, definition, started_at, finished_at, created_at, updated_at
			  FROM runs WHERE status IN ('pending', 'running') ORDER BY started_at ASC ` + s.dialect.NullsLastClause() + `, created_at ASC LIMIT $1`)
	} else {
		// SQLite: 用 CASE 模拟 NULLS LAST
		query = s.rebind(`SELECT id, workflow_id, status, event, definition, started_at, finished_at, created_at, updated_at
			  FROM runs WHERE status IN ('pending', 'running') ORDER BY CASE WHEN started_at IS NULL THEN 1 ELSE 0 END, started_at ASC, created_at ASC LIMIT $1`)
	}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// UpdateRunStatus 更新 Run 状态，维护开始/结束时间戳
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error {
	now := time.Now()
	var query string
	var args []interface{}
	switch status {
	case model.RunStatusRunning:
		// started_at 只在第一次进入 running 时写入
		query = s.rebind(`UPDATE runs SET status = $1, started_at = COALESCE(started_at, $2), updated_at = $3 WHERE id = $4`)
		args = []interface{}{status, now, now, id}
	case model.RunStatusSucceeded, model.RunStatusFailed, model.RunStatusCancelled:
		query = s.rebind(`UPDATE runs SET status = $1, finished_at = $2, updated_at = $3 WHERE id = $4`)
		args = []interface{}{status, now, now, id}
	default:
		query = s.rebind(`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`)
		args = []interface{}{status, now, id}
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// DeleteRun 删除 Run（级联删除作业、事件与产物元数据）
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM runs WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
