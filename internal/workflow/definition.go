// Package workflow 实现工作流定义的解析、校验、矩阵展开与触发匹配
//
// 工作流以 YAML 文档形式注册, 描述一组通过 needs 构成 DAG 的作业。
// 本包负责把 YAML 文本转换为结构化的 Definition, 并在注册时拒绝
// 一切非法定义(重复作业名、悬空依赖、依赖环、非法 cron 等),
// 保证进入存储层的定义总是可执行的。
package workflow

// ============================================================================
// 工作流定义结构
// ============================================================================

// Definition 完整的工作流定义
//
// 对应一份 YAML 文档的根节点。Jobs 使用 map 承载, 作业在图中的
// 顺序由 needs 决定而不是书写顺序。
type Definition struct {
	Name string            `yaml:"name" json:"name"`
	On   Triggers          `yaml:"on" json:"on"`
	Env  map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Jobs map[string]*Job   `yaml:"jobs" json:"jobs"`
}

// Triggers 工作流的触发器声明
//
// 只有声明过的事件类型才会触发运行。push/pull_request 可以带分支
// 过滤, schedule 由控制面的 cron 时钟驱动, manual 允许手工触发。
type Triggers struct {
	Push        *BranchFilter `yaml:"push,omitempty" json:"push,omitempty"`
	PullRequest *BranchFilter `yaml:"pull_request,omitempty" json:"pull_request,omitempty"`
	Schedule    []Schedule    `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Manual      *struct{}     `yaml:"manual,omitempty" json:"manual,omitempty"`
}

// BranchFilter push/pull_request 事件的分支过滤
//
// Branches 为空表示匹配所有分支, 非空时按 shell 风格通配符匹配
// (例如 "release/*")。
type BranchFilter struct {
	Branches []string `yaml:"branches,omitempty" json:"branches,omitempty"`
}

// Schedule 一条定时触发规则, 标准 5 字段 cron 表达式
type Schedule struct {
	Cron string `yaml:"cron" json:"cron"`
}

// Job 单个作业定义
type Job struct {
	// RunsOn 运行节点的标签选择器, 作业只会被调度到标签全部匹配的节点
	RunsOn map[string]string `yaml:"runs-on,omitempty" json:"runs-on,omitempty"`

	// Runner 显式指定节点 ID, 设置后调度器的 direct 策略直接命中
	Runner string `yaml:"runner,omitempty" json:"runner,omitempty"`

	// Container 作业执行所用的容器镜像, 为空时使用节点的默认镜像
	Container string `yaml:"container,omitempty" json:"container,omitempty"`

	// TimeoutMinutes 作业超时时间, 超时后状态置为 timeout
	TimeoutMinutes int `yaml:"timeout-minutes,omitempty" json:"timeout_minutes,omitempty"`

	// Needs 依赖的作业名, 只有全部依赖成功后本作业才会入队
	Needs []string `yaml:"needs,omitempty" json:"needs,omitempty"`

	// Env 作业级环境变量, 与工作流级 Env 合并后注入每个步骤
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	Strategy  *Strategy  `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Steps     []Step     `yaml:"steps" json:"steps"`
	Artifacts *Artifacts `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
}

// Strategy 作业的矩阵执行策略
type Strategy struct {
	// FailFast 矩阵中任一实例失败时取消尚未终态的兄弟实例, 默认 true
	FailFast *bool `yaml:"fail-fast,omitempty" json:"fail_fast,omitempty"`

	// MaxParallel 矩阵实例的最大并行数, 0 表示不限制
	MaxParallel int `yaml:"max-parallel,omitempty" json:"max_parallel,omitempty"`

	Matrix *Matrix `yaml:"matrix,omitempty" json:"matrix,omitempty"`
}

// Matrix 矩阵定义: 各轴取值的笛卡尔积, 减去 exclude, 加上 include
type Matrix struct {
	Axes    map[string][]string `yaml:"-" json:"axes,omitempty"`
	Exclude []map[string]string `yaml:"-" json:"exclude,omitempty"`
	Include []map[string]string `yaml:"-" json:"include,omitempty"`
}

// Step 作业内的一个执行步骤, 在作业容器内通过 sh -c 运行
type Step struct {
	Name       string            `yaml:"name" json:"name"`
	Run        string            `yaml:"run" json:"run"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	WorkingDir string            `yaml:"working-dir,omitempty" json:"working_dir,omitempty"`
}

// Artifacts 作业的产物声明
type Artifacts struct {
	// Download 执行前从运行的产物库下载到工作区的产物
	Download []ArtifactRef `yaml:"download,omitempty" json:"download,omitempty"`

	// Upload 执行后从工作区上传的产物
	Upload []ArtifactDecl `yaml:"upload,omitempty" json:"upload,omitempty"`
}

// ArtifactRef 下载引用, 按名称取同一运行内的产物
type ArtifactRef struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// ArtifactDecl 上传声明
type ArtifactDecl struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`

	// RetentionDays 保留天数, 到期后由清理任务删除
	RetentionDays int `yaml:"retention-days,omitempty" json:"retention_days,omitempty"`

	// When 上传条件: success 仅作业成功时上传, always 总是上传
	When string `yaml:"if,omitempty" json:"if,omitempty"`
}

// IsFailFast 返回 fail-fast 配置, 未设置时默认为 true
func (s *Strategy) IsFailFast() bool {
	if s == nil || s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// HasMatrix 作业是否声明了矩阵
func (j *Job) HasMatrix() bool {
	return j.Strategy != nil && j.Strategy.Matrix != nil && len(j.Strategy.Matrix.Axes) > 0
}

// Declares 事件类型是否在触发器中声明
func (t *Triggers) Declares(event string) bool {
	switch event {
	case "push":
		return t.Push != nil
	case "pull_request":
		return t.PullRequest != nil
	case "schedule":
		return len(t.Schedule) > 0
	case "manual":
		return t.Manual != nil
	}
	return false
}
