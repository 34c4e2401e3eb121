package workflow

import (
	"pipelines-admin/internal/shared/model"
)

// ============================================================================
// 作业快照构建
// ============================================================================

// BuildSnapshot 把作业定义与矩阵实例固化为执行快照
//
// 快照在运行创建时生成一次, 之后即使工作流定义被修改, 已创建的
// 作业也按快照执行。工作流级 Env 与作业级 Env 合并(作业级覆盖),
// 步骤与产物名中的矩阵引用在此处完成替换。
func BuildSnapshot(def *Definition, job *Job, inst Instance) *model.JobSnapshot {
	env := make(map[string]string, len(def.Env)+len(job.Env))
	for k, v := range def.Env {
		env[k] = v
	}
	for k, v := range job.Env {
		env[k] = v
	}
	env = SubstituteEnv(env, inst.Values)

	snap := &model.JobSnapshot{
		Image:          job.Container,
		Env:            env,
		TimeoutMinutes: job.TimeoutMinutes,
		RunsOn:         job.RunsOn,
		RunnerID:       job.Runner,
	}

	snap.Steps = make([]model.StepSnapshot, 0, len(job.Steps))
	for _, step := range job.Steps {
		snap.Steps = append(snap.Steps, model.StepSnapshot{
			Name:       step.Name,
			Run:        Substitute(step.Run, inst.Values),
			Env:        SubstituteEnv(step.Env, inst.Values),
			WorkingDir: step.WorkingDir,
		})
	}

	if job.Artifacts != nil {
		for _, ref := range job.Artifacts.Download {
			snap.Download = append(snap.Download, model.ArtifactDeclSnapshot{
				Name: Substitute(ref.Name, inst.Values),
				Path: ref.Path,
			})
		}
		for _, decl := range job.Artifacts.Upload {
			snap.Upload = append(snap.Upload, model.ArtifactDeclSnapshot{
				Name:          Substitute(decl.Name, inst.Values),
				Path:          decl.Path,
				RetentionDays: decl.RetentionDays,
				When:          decl.When,
			})
		}
	}
	return snap
}
