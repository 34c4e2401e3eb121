// Package docker 实现 Docker 容器运行时
//
// 用于运行作业的 Docker 容器管理
package docker

import (
	"context"
	"fmt"
	"io"

	"pipelines-admin/internal/runner/runtime"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// Runtime Docker 容器运行时
type Runtime struct {
	client *client.Client
}

// New 创建 Docker 运行时
func New() (*Runtime, error) {
	cli, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Runtime{client: cli}, nil
}

// Name 返回运行时名称
func (r *Runtime) Name() string {
	return "docker"
}

// Close 关闭运行时
func (r *Runtime) Close() error {
	return r.client.Close()
}

// Ping 检查 Docker 连接
func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx, client.PingOptions{})
	return err
}

// Create 创建作业容器
func (r *Runtime) Create(ctx context.Context, config *runtime.ContainerConfig) (string, error) {
	// 构建挂载配置
	var binds []string
	for _, m := range config.Mounts {
		bind := fmt.Sprintf("%s:%s", m.Source, m.Target)
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	// 构建环境变量
	var env []string
	for k, v := range config.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	opts := client.ContainerCreateOptions{
		Name:  config.Name,
		Image: config.Image,
		Config: &container.Config{
			Cmd:        config.Command,
			Env:        env,
			WorkingDir: config.WorkingDir,
		},
		HostConfig: &container.HostConfig{
			Binds: binds,
		},
	}

	// 设置资源限制
	if config.Resources != nil {
		opts.HostConfig.Resources = container.Resources{
			NanoCPUs: int64(config.Resources.CPULimit * 1e9),
			Memory:   config.Resources.MemoryLimit,
		}
	}

	result, err := r.client.ContainerCreate(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return result.ID, nil
}

// Start 启动容器
func (r *Runtime) Start(ctx context.Context, containerID string) error {
	_, err := r.client.ContainerStart(ctx, containerID, client.ContainerStartOptions{})
	return err
}

// Stop 停止容器
func (r *Runtime) Stop(ctx context.Context, containerID string) error {
	_, err := r.client.ContainerStop(ctx, containerID, client.ContainerStopOptions{})
	return err
}

// Remove 删除容器
func (r *Runtime) Remove(ctx context.Context, containerID string, force bool) error {
	_, err := r.client.ContainerRemove(ctx, containerID, client.ContainerRemoveOptions{
		Force:         force,
		RemoveVolumes: false,
	})
	if err != nil && errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// Exec 在容器中执行命令
//
// 分配 TTY 以获得合并的原始输出流（无多路复用头），
// 输出逐字节写入 output，命令结束后通过 inspect 获取退出码。
func (r *Runtime) Exec(ctx context.Context, containerID string, cmd []string, opts runtime.ExecOptions, output io.Writer) (*runtime.ExecResult, error) {
	var env []string
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	execResult, err := r.client.ExecCreate(ctx, containerID, client.ExecCreateOptions{
		Cmd:          cmd,
		Env:          env,
		WorkingDir:   opts.WorkingDir,
		TTY:          true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := r.client.ExecAttach(ctx, execResult.ID, client.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attachResp.Close()

	if _, err := io.Copy(output, attachResp.Reader); err != nil {
		// 上下文取消时流被中断，退出码由调用方按取消处理
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspectResp, err := r.client.ExecInspect(ctx, execResult.ID, client.ExecInspectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &runtime.ExecResult{ExitCode: inspectResp.ExitCode}, nil
}
