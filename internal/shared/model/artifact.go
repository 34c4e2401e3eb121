// Package model 定义核心数据模型
//
// artifact.go 包含产物相关的数据模型：
//   - Artifact：Run 产生的命名产物（数据库存储元数据）
package model

import "time"

// ============================================================================
// Artifact - 执行产物
// ============================================================================

// DefaultArtifactRetentionDays 产物默认保留天数
const DefaultArtifactRetentionDays = 90

// Artifact 表示 Run 产生的命名产物
//
// 产物是作业执行过程中生成并需要在作业间传递或保留的文件：
//   - 源码分发包（sdist tarball）
//   - 测试/覆盖率报告
//   - 基准测试对比结果
//
// 产物数据存储在对象存储（MinIO）中，Artifact 记录元数据。
// 约束：Name 在所属 Run 内唯一（数据库唯一索引保证）。
//
// 生命周期：由一个作业上传 → 保留窗口内可被下载 → 过期后由
// 清理循环删除（对象 + 元数据）。
//
// 字段说明：
//   - ID：自增主键
//   - RunID：所属 Run ID
//   - Name：产物名称（Run 内唯一）
//   - Path：对象存储 Key
//   - ExpiresAt：过期时间（上传时间 + 保留天数）
type Artifact struct {
	ID          int64     `json:"id" bson:"_id" db:"id"`                                                   // 产物 ID
	RunID       string    `json:"run_id" bson:"run_id" db:"run_id"`                                        // 所属 Run ID
	JobID       string    `json:"job_id,omitempty" bson:"job_id,omitempty" db:"job_id"`                    // 上传作业 ID
	Name        string    `json:"name" bson:"name" db:"name"`                                              // 产物名称
	Path        string    `json:"path" bson:"path" db:"path"`                                              // 存储路径
	Size        *int64    `json:"size,omitempty" bson:"size,omitempty" db:"size"`                          // 文件大小
	ContentType *string   `json:"content_type,omitempty" bson:"content_type,omitempty" db:"content_type"`  // MIME 类型
	ExpiresAt   time.Time `json:"expires_at" bson:"expires_at" db:"expires_at"`                            // 过期时间
	CreatedAt   time.Time `json:"created_at" bson:"created_at" db:"created_at"`                            // 创建时间
}

// IsExpired 判断产物是否已超过保留窗口
func (a *Artifact) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// ObjectKey 返回产物在对象存储中的 Key
//
// 布局：runs/<run-id>/artifacts/<name>
func ObjectKey(runID, name string) string {
	return "runs/" + runID + "/artifacts/" + name
}
