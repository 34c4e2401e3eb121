// Package repository 工作流定义相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"strings"

	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/shared/storage"
)

// CreateWorkflow 创建工作流
func (s *Store) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	query := s.rebind(`
		INSERT INTO workflows (id, name, status, source, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	_, err := s.db.ExecContext(ctx, query,
		wf.ID, wf.Name, wf.Status, wf.Source, wf.Revision, wf.CreatedAt, wf.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

// GetWorkflow 获取工作流
func (s *Store) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	query := s.rebind(`SELECT id, name, status, source, revision, created_at, updated_at
			  FROM workflows WHERE id = $1`)
	wf, err := scanWorkflow(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// GetWorkflowByName 按名称获取工作流
func (s *Store) GetWorkflowByName(ctx context.Context, name string) (*model.Workflow, error) {
	query := s.rebind(`SELECT id, name, status, source, revision, created_at, updated_at
			  FROM workflows WHERE name = $1`)
	wf, err := scanWorkflow(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// ListWorkflows 列出工作流，status 为空时列出全部
func (s *Store) ListWorkflows(ctx context.Context, status string) ([]*model.Workflow, error) {
	query := `SELECT id, name, status, source, revision, created_at, updated_at
			  FROM workflows`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

// UpdateWorkflow 更新工作流定义，修订号加一
func (s *Store) UpdateWorkflow(ctx context.Context, wf *model.Workflow) error {
	query := s.rebind(`UPDATE workflows
			  SET source = $1, status = $2, revision = revision + 1, updated_at = ` + s.now() + `
			  WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, wf.Source, wf.Status, wf.ID)
	return err
}

// UpdateWorkflowStatus 更新工作流状态
func (s *Store) UpdateWorkflowStatus(ctx context.Context, id string, status model.WorkflowStatus) error {
	query := s.rebind(`UPDATE workflows SET status = $1, updated_at = ` + s.now() + ` WHERE id = $2`)
	_, err := s.db.ExecContext(ctx, query, status, id)
	return err
}

// DeleteWorkflow 删除工作流
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM workflows WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// scanWorkflow 辅助函数
func scanWorkflow(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Workflow, error) {
	wf := &model.Workflow{}
	err := scanner.Scan(&wf.ID, &wf.Name, &wf.Status, &wf.Source, &wf.Revision,
		&wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// scanWorkflows 批量扫描
func scanWorkflows(rows *sql.Rows) ([]*model.Workflow, error) {
	var wfs []*model.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		wfs = append(wfs, wf)
	}
	return wfs, rows.Err()
}

// isUniqueViolation 判断底层错误是否为唯一键冲突
// pgx 返回 SQLSTATE 23505，modernc sqlite 返回 UNIQUE constraint failed
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key")
}
