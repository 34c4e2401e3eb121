// Workspace 管理器
//
// 每个作业对应一个独立的工作目录，绑定挂载到容器的 /workspace。
// 作业结束后目录被清理；失败的作业保留目录便于排查，保留数量有上限。
package runner

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ContainerWorkspaceDir 容器内的工作空间挂载点
const ContainerWorkspaceDir = "/workspace"

// defaultMaxRetained 失败作业工作目录的最大保留数量
const defaultMaxRetained = 10

// WorkspaceManager Workspace 管理器
type WorkspaceManager struct {
	baseDir     string // 工作空间基础目录
	maxRetained int    // 失败目录最大保留数量

	mu       sync.Mutex
	retained []string // 已保留的失败目录（按保留顺序）
}

// NewWorkspaceManager 创建 Workspace 管理器
func NewWorkspaceManager(baseDir string) *WorkspaceManager {
	if baseDir == "" {
		baseDir = "/tmp/pipelines-workspaces"
	}
	os.MkdirAll(baseDir, 0755)

	return &WorkspaceManager{
		baseDir:     baseDir,
		maxRetained: defaultMaxRetained,
	}
}

// Prepare 为作业创建工作目录
func (m *WorkspaceManager) Prepare(jobID string) (string, error) {
	workDir := filepath.Join(m.baseDir, jobID)
	// 残留目录先清掉，保证作业从干净状态开始
	os.RemoveAll(workDir)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace dir: %w", err)
	}
	return workDir, nil
}

// Cleanup 清理作业工作目录
//
// retain 为 true 时（作业失败）目录被保留，超出保留上限时
// 淘汰最早保留的目录。
func (m *WorkspaceManager) Cleanup(jobID string, retain bool) {
	workDir := filepath.Join(m.baseDir, jobID)

	if !retain {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("[runner.workspace.cleanup.failed] job_id=%s err=%v", jobID, err)
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.retained = append(m.retained, workDir)
	log.Printf("[runner.workspace.retained] job_id=%s dir=%s", jobID, workDir)

	for len(m.retained) > m.maxRetained {
		oldest := m.retained[0]
		m.retained = m.retained[1:]
		if err := os.RemoveAll(oldest); err != nil {
			log.Printf("[runner.workspace.evict.failed] dir=%s err=%v", oldest, err)
		} else {
			log.Printf("[runner.workspace.evicted] dir=%s", oldest)
		}
	}
}

// RetainedCount 返回当前保留的失败目录数量
func (m *WorkspaceManager) RetainedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.retained)
}

// ResolvePath 将作业声明的相对路径解析为工作目录内的绝对路径
//
// 拒绝逃逸出工作目录的路径（如 ../../etc/passwd）。
func (m *WorkspaceManager) ResolvePath(jobID, rel string) (string, error) {
	workDir := filepath.Join(m.baseDir, jobID)
	abs := filepath.Join(workDir, rel)
	if abs != workDir && !isWithin(workDir, abs) {
		return "", fmt.Errorf("path %q escapes workspace", rel)
	}
	return abs, nil
}

func isWithin(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
