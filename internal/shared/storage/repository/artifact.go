// Package repository 产物元数据相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/shared/storage"
)

// artifactColumns 产物表的查询列
const artifactColumns = `id, run_id, COALESCE(job_id, ''), name, COALESCE(path, ''), size, content_type, expires_at, created_at`

// CreateArtifact 创建产物元数据
// (run_id, name) 唯一索引保证同名产物不会重复登记
func (s *Store) CreateArtifact(ctx context.Context, artifact *model.Artifact) error {
	query := s.rebind(`
		INSERT INTO artifacts (run_id, job_id, name, path, size, content_type, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	_, err := s.db.ExecContext(ctx, query,
		artifact.RunID, artifact.JobID, artifact.Name, artifact.Path,
		artifact.Size, artifact.ContentType, artifact.ExpiresAt, artifact.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

// GetArtifact 按 (run, name) 获取产物
func (s *Store) GetArtifact(ctx context.Context, runID, name string) (*model.Artifact, error) {
	query := s.rebind(`SELECT ` + artifactColumns + ` FROM artifacts WHERE run_id = $1 AND name = $2`)
	artifact, err := scanArtifact(s.db.QueryRowContext(ctx, query, runID, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return artifact, err
}

// ListArtifactsByRun 列出 Run 的全部产物
func (s *Store) ListArtifactsByRun(ctx context.Context, runID string) ([]*model.Artifact, error) {
	query := s.rebind(`SELECT ` + artifactColumns + ` FROM artifacts WHERE run_id = $1 ORDER BY name ASC`)
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// ListExpiredArtifacts 列出保留期已过的产物（清理任务用）
func (s *Store) ListExpiredArtifacts(ctx context.Context, now time.Time, limit int) ([]*model.Artifact, error) {
	if limit <= 0 {
		limit = 500
	}
	query := s.rebind(`SELECT ` + artifactColumns + ` FROM artifacts WHERE expires_at < $1 ORDER BY expires_at ASC LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// DeleteArtifact 删除产物元数据
func (s *Store) DeleteArtifact(ctx context.Context, runID, name string) error {
	query := s.rebind(`DELETE FROM artifacts WHERE run_id = $1 AND name = $2`)
	_, err := s.db.ExecContext(ctx, query, runID, name)
	return err
}

// scanArtifact 辅助函数
func scanArtifact(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Artifact, error) {
	a := &model.Artifact{}
	err := scanner.Scan(&a.ID, &a.RunID, &a.JobID, &a.Name, &a.Path,
		&a.Size, &a.ContentType, &a.ExpiresAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// scanArtifacts 批量扫描
func scanArtifacts(rows *sql.Rows) ([]*model.Artifact, error) {
	var artifacts []*model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
