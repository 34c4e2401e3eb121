// Package runtime 定义作业容器运行时接口
//
// Runtime 是作业执行环境的抽象，当前由 Docker 实现。
// 每个作业对应一个容器：创建后保持运行，步骤通过 exec 依次执行，
// 作业结束后容器被删除。
package runtime

import (
	"context"
	"io"
)

// Runtime 作业容器运行时接口
type Runtime interface {
	// Name 返回运行时名称
	Name() string

	// Ping 检查运行时连接
	Ping(ctx context.Context) error

	// Create 创建作业容器，返回容器 ID
	Create(ctx context.Context, config *ContainerConfig) (string, error)

	// Start 启动容器
	Start(ctx context.Context, containerID string) error

	// Stop 停止容器
	Stop(ctx context.Context, containerID string) error

	// Remove 删除容器
	Remove(ctx context.Context, containerID string, force bool) error

	// Exec 在容器中执行命令，输出流式写入 output，阻塞到命令结束
	Exec(ctx context.Context, containerID string, cmd []string, opts ExecOptions, output io.Writer) (*ExecResult, error)

	// Close 关闭运行时
	Close() error
}

// ContainerConfig 作业容器配置
type ContainerConfig struct {
	Name       string            // 容器名称
	Image      string            // 镜像名称
	Command    []string          // 启动命令（保持容器存活）
	Env        map[string]string // 容器级环境变量
	WorkingDir string            // 默认工作目录
	Mounts     []Mount           // 挂载配置
	Resources  *ResourceConfig   // 资源限制
}

// Mount 挂载配置
type Mount struct {
	Source   string // 宿主机路径
	Target   string // 容器内路径
	ReadOnly bool   // 是否只读
}

// ResourceConfig 资源限制配置
type ResourceConfig struct {
	CPULimit    float64 // CPU 限制（核数）
	MemoryLimit int64   // 内存限制（字节）
}

// ExecOptions 命令执行选项
type ExecOptions struct {
	Env        map[string]string // 附加环境变量
	WorkingDir string            // 工作目录（覆盖容器默认）
}

// ExecResult 命令执行结果
type ExecResult struct {
	ExitCode int // 退出码
}
