// 作业执行器
//
// 一个作业对应一个容器：按快照创建并启动容器，下载声明的产物，
// 逐个步骤 exec 执行并流式上报输出事件，按条件上传产物，
// 最后上报终止状态并清理容器与工作目录。
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"pipelines-admin/internal/runner/runtime"
	"pipelines-admin/internal/shared/model"
)

// DefaultJobTimeout 快照未声明超时时的默认作业超时
const DefaultJobTimeout = 60 * time.Minute

// executeJob 执行单个作业
//
// 入口在独立 goroutine 中运行，ctx 取消代表作业被取消。
func (r *Runner) executeJob(ctx context.Context, job *model.JobRun) {
	defer func() {
		r.mu.Lock()
		delete(r.running, job.ID)
		r.mu.Unlock()
	}()

	log.Printf("[runner.job.start] job_id=%s run_id=%s name=%s", job.ID, job.RunID, job.DisplayName)

	var snapshot model.JobSnapshot
	if err := json.Unmarshal(job.Snapshot, &snapshot); err != nil {
		r.reportJobFailure(job.ID, fmt.Sprintf("invalid job snapshot: %v", err))
		return
	}

	// 作业超时
	timeout := DefaultJobTimeout
	if snapshot.TimeoutMinutes > 0 {
		timeout = time.Duration(snapshot.TimeoutMinutes) * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.client.UpdateJobStatus(jobCtx, job.ID, model.JobStatusRunning, nil, ""); err != nil {
		log.Printf("[runner.job.status.failed] job_id=%s err=%v", job.ID, err)
	}

	recorder := NewEventRecorder(jobCtx, r.client, job.ID)
	defer recorder.Close()

	recorder.Record(model.EventTypeJobStarted, map[string]interface{}{
		"runner_id": r.config.RunnerID,
		"job_name":  job.DisplayName,
	})

	status, exitCode, errMsg := r.runJob(jobCtx, job, &snapshot, recorder)

	// 终止事件
	switch status {
	case model.JobStatusSucceeded:
		recorder.Record(model.EventTypeJobCompleted, nil)
	case model.JobStatusTimeout:
		recorder.Record(model.EventTypeJobTimeout, map[string]interface{}{"timeout": timeout.String()})
	case model.JobStatusCancelled:
		recorder.Record(model.EventTypeJobCancelled, nil)
	default:
		payload := map[string]interface{}{}
		if exitCode != nil {
			payload["exit_code"] = *exitCode
		}
		if errMsg != "" {
			payload["error"] = errMsg
		}
		recorder.Record(model.EventTypeJobFailed, payload)
	}

	// 终止状态上报用独立上下文，作业上下文可能已取消或超时
	reportCtx, reportCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer reportCancel()
	if err := r.client.UpdateJobStatus(reportCtx, job.ID, status, exitCode, errMsg); err != nil {
		log.Printf("[runner.job.report.failed] job_id=%s status=%s err=%v", job.ID, status, err)
	}

	log.Printf("[runner.job.done] job_id=%s status=%s", job.ID, status)
}

// runJob 执行作业主体，返回终止状态
func (r *Runner) runJob(ctx context.Context, job *model.JobRun, snapshot *model.JobSnapshot, recorder *EventRecorder) (model.JobStatus, *int, string) {
	// 准备工作目录
	workDir, err := r.workspace.Prepare(job.ID)
	if err != nil {
		return model.JobStatusFailed, nil, fmt.Sprintf("prepare workspace: %v", err)
	}
	retainWorkspace := false
	defer func() {
		r.workspace.Cleanup(job.ID, retainWorkspace)
	}()

	// 创建并启动容器
	image := snapshot.Image
	if image == "" {
		image = r.config.DefaultImage
	}
	containerID, err := r.runtime.Create(ctx, &runtime.ContainerConfig{
		Name:       "pipelines-job-" + job.ID,
		Image:      image,
		Command:    []string{"sleep", "infinity"},
		Env:        snapshot.Env,
		WorkingDir: ContainerWorkspaceDir,
		Mounts: []runtime.Mount{
			{Source: workDir, Target: ContainerWorkspaceDir},
		},
	})
	if err != nil {
		return model.JobStatusFailed, nil, fmt.Sprintf("create container: %v", err)
	}
	defer func() {
		removeCtx, removeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer removeCancel()
		if err := r.runtime.Remove(removeCtx, containerID, true); err != nil {
			log.Printf("[runner.container.remove.failed] job_id=%s err=%v", job.ID, err)
		}
	}()

	if err := r.runtime.Start(ctx, containerID); err != nil {
		return model.JobStatusFailed, nil, fmt.Sprintf("start container: %v", err)
	}

	// 下载依赖的产物
	for _, decl := range snapshot.Download {
		if err := r.downloadArtifact(ctx, job, decl); err != nil {
			return r.classify(ctx, nil, fmt.Sprintf("download artifact %q: %v", decl.Name, err))
		}
	}

	// 逐步骤执行
	status, exitCode, errMsg := r.runSteps(ctx, job, snapshot, containerID, recorder)
	succeeded := status == model.JobStatusSucceeded
	if !succeeded {
		retainWorkspace = true
	}

	// 上传产物：success 仅在成功时上传，always 总是上传
	// 取消或超时的作业跳过上传，容器输出已不可信
	if status == model.JobStatusSucceeded || status == model.JobStatusFailed {
		for _, decl := range snapshot.Upload {
			when := decl.When
			if when == "" {
				when = "success"
			}
			if when == "success" && !succeeded {
				continue
			}
			uploadCtx, uploadCancel := context.WithTimeout(context.Background(), 2*time.Minute)
			err := r.uploadArtifact(uploadCtx, job, decl)
			uploadCancel()
			if err != nil {
				log.Printf("[runner.artifact.upload.failed] job_id=%s name=%s err=%v", job.ID, decl.Name, err)
				if succeeded {
					// 成功作业的产物上传失败视为作业失败
					return model.JobStatusFailed, exitCode, fmt.Sprintf("upload artifact %q: %v", decl.Name, err)
				}
			}
		}
	}

	return status, exitCode, errMsg
}

// runSteps 依次执行步骤
//
// 某一步退出码非零时作业失败，剩余步骤不再执行。
func (r *Runner) runSteps(ctx context.Context, job *model.JobRun, snapshot *model.JobSnapshot, containerID string, recorder *EventRecorder) (model.JobStatus, *int, string) {
	for i, step := range snapshot.Steps {
		stepName := step.Name
		if stepName == "" {
			stepName = fmt.Sprintf("step %d", i+1)
		}

		recorder.Record(model.EventTypeStepStarted, map[string]interface{}{
			"step":  i,
			"name":  stepName,
			"shell": step.Run,
		})

		workingDir := ContainerWorkspaceDir
		if step.WorkingDir != "" {
			workingDir = filepath.Join(ContainerWorkspaceDir, step.WorkingDir)
		}

		// 输出行转为 step_output 事件
		lw := &lineEmitter{
			emit: func(line string) {
				recorder.Record(model.EventTypeStepOutput, map[string]interface{}{
					"step": i,
					"line": line,
				})
			},
		}

		result, err := r.runtime.Exec(ctx, containerID,
			[]string{"sh", "-c", step.Run},
			runtime.ExecOptions{Env: step.Env, WorkingDir: workingDir},
			lw)
		lw.Flush()

		if err != nil {
			return r.classify(ctx, nil, fmt.Sprintf("step %q: %v", stepName, err))
		}

		recorder.Record(model.EventTypeStepCompleted, map[string]interface{}{
			"step":      i,
			"name":      stepName,
			"exit_code": result.ExitCode,
		})

		if result.ExitCode != 0 {
			code := result.ExitCode
			return model.JobStatusFailed, &code,
				fmt.Sprintf("step %q exited with code %d", stepName, code)
		}
	}

	return model.JobStatusSucceeded, nil, ""
}

// classify 根据上下文状态区分失败、取消和超时
func (r *Runner) classify(ctx context.Context, exitCode *int, errMsg string) (model.JobStatus, *int, string) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return model.JobStatusTimeout, exitCode, "job timed out"
	case errors.Is(ctx.Err(), context.Canceled):
		return model.JobStatusCancelled, exitCode, ""
	default:
		return model.JobStatusFailed, exitCode, errMsg
	}
}

// downloadArtifact 将产物下载到工作目录
func (r *Runner) downloadArtifact(ctx context.Context, job *model.JobRun, decl model.ArtifactDeclSnapshot) error {
	dest, err := r.workspace.ResolvePath(job.ID, decl.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	body, err := r.client.DownloadArtifact(ctx, job.RunID, decl.Name)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return err
	}
	log.Printf("[runner.artifact.downloaded] job_id=%s name=%s path=%s", job.ID, decl.Name, decl.Path)
	return nil
}

// uploadArtifact 从工作目录上传产物
func (r *Runner) uploadArtifact(ctx context.Context, job *model.JobRun, decl model.ArtifactDeclSnapshot) error {
	src, err := r.workspace.ResolvePath(job.ID, decl.Path)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if err := r.client.UploadArtifact(ctx, job.RunID, decl.Name, job.ID, decl.RetentionDays, f, info.Size()); err != nil {
		return err
	}
	log.Printf("[runner.artifact.uploaded] job_id=%s name=%s size=%d", job.ID, decl.Name, info.Size())
	return nil
}

// reportJobFailure 快照解析等早期失败的统一上报
func (r *Runner) reportJobFailure(jobID, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.client.UpdateJobStatus(ctx, jobID, model.JobStatusFailed, nil, errMsg); err != nil {
		log.Printf("[runner.job.report.failed] job_id=%s err=%v", jobID, err)
	}
}

// lineEmitter 将写入的字节流切分为行并逐行回调
//
// 实现 io.Writer，供 Runtime.Exec 流式写入。
type lineEmitter struct {
	emit func(line string)
	buf  []byte
}

func (w *lineEmitter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		idx := indexNewline(w.buf)
		if idx < 0 {
			break
		}
		line := string(trimCR(w.buf[:idx]))
		w.buf = w.buf[idx+1:]
		if line != "" {
			w.emit(line)
		}
	}
	return len(p), nil
}

// Flush 把残留的最后一行（无换行结尾）作为一行发出
func (w *lineEmitter) Flush() {
	if len(w.buf) > 0 {
		line := string(trimCR(w.buf))
		w.buf = nil
		if line != "" {
			w.emit(line)
		}
	}
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

var _ io.Writer = (*lineEmitter)(nil)
