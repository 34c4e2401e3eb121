package workflow

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// 解析与默认值
// ============================================================================

const (
	// DefaultTimeoutMinutes 作业默认超时
	DefaultTimeoutMinutes = 360

	// DefaultRetentionDays 产物默认保留天数
	DefaultRetentionDays = 90
)

// Parse 解析一份工作流 YAML 文档并填充默认值
//
// 使用严格模式解码, 未知字段直接报错, 避免拼写错误的字段被静默
// 丢弃(例如 needs 写成 need)。解析成功后立即执行校验, 调用方拿到
// 的 Definition 一定是结构合法的。
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}

	applyDefaults(&def)

	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// applyDefaults 填充解析后缺省的字段
func applyDefaults(def *Definition) {
	for _, job := range def.Jobs {
		if job == nil {
			continue
		}
		if job.TimeoutMinutes <= 0 {
			job.TimeoutMinutes = DefaultTimeoutMinutes
		}
		if job.Artifacts != nil {
			for i := range job.Artifacts.Upload {
				if job.Artifacts.Upload[i].RetentionDays <= 0 {
					job.Artifacts.Upload[i].RetentionDays = DefaultRetentionDays
				}
				if job.Artifacts.Upload[i].When == "" {
					job.Artifacts.Upload[i].When = UploadOnSuccess
				}
			}
		}
	}
}

// 上传条件取值
const (
	UploadOnSuccess = "success"
	UploadAlways    = "always"
)

// UnmarshalYAML 解码矩阵定义
//
// matrix 节点的键是任意的轴名, exclude/include 是保留键, 因此不能
// 直接用结构体标签解码。数值型的轴取值(如 3.12)统一转成字符串,
// 避免 YAML 把版本号解析成浮点数后丢失尾零。
func (m *Matrix) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix must be a mapping")
	}

	m.Axes = make(map[string][]string)
	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i].Value
		node := value.Content[i+1]

		switch key {
		case "exclude":
			entries, err := decodeMatrixEntries(node)
			if err != nil {
				return fmt.Errorf("matrix exclude: %w", err)
			}
			m.Exclude = entries
		case "include":
			entries, err := decodeMatrixEntries(node)
			if err != nil {
				return fmt.Errorf("matrix include: %w", err)
			}
			m.Include = entries
		default:
			if node.Kind != yaml.SequenceNode {
				return fmt.Errorf("matrix axis %q must be a list", key)
			}
			values := make([]string, 0, len(node.Content))
			for _, item := range node.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("matrix axis %q has a non-scalar value", key)
				}
				values = append(values, item.Value)
			}
			m.Axes[key] = values
		}
	}
	return nil
}

// decodeMatrixEntries 解码 exclude/include 的条目列表
func decodeMatrixEntries(node *yaml.Node) ([]map[string]string, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("must be a list of mappings")
	}
	entries := make([]map[string]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("entry must be a mapping")
		}
		entry := make(map[string]string, len(item.Content)/2)
		for i := 0; i < len(item.Content); i += 2 {
			k := item.Content[i].Value
			v := item.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("entry key %q has a non-scalar value", k)
			}
			entry[k] = v.Value
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ============================================================================
// 校验
// ============================================================================

// Validate 校验工作流定义的结构合法性
//
// 检查项:
//  1. 名称与作业非空, 每个作业至少一个步骤
//  2. needs 引用的作业存在且不引用自身
//  3. 作业图无环(三色 DFS)
//  4. 矩阵的 exclude/include 只引用已声明的轴(include 允许附加新键)
//  5. cron 表达式为 5 字段
func Validate(def *Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(def.Jobs) == 0 {
		return fmt.Errorf("workflow %q has no jobs", def.Name)
	}

	for name, job := range def.Jobs {
		if job == nil {
			return fmt.Errorf("job %q is empty", name)
		}
		if len(job.Steps) == 0 {
			return fmt.Errorf("job %q has no steps", name)
		}
		for i, step := range job.Steps {
			if strings.TrimSpace(step.Run) == "" {
				return fmt.Errorf("job %q step %d has no run command", name, i)
			}
		}
		for _, dep := range job.Needs {
			if dep == name {
				return fmt.Errorf("job %q depends on itself", name)
			}
			if _, ok := def.Jobs[dep]; !ok {
				return fmt.Errorf("job %q needs unknown job %q", name, dep)
			}
		}
		if err := validateMatrix(name, job); err != nil {
			return err
		}
		if err := validateArtifacts(name, job); err != nil {
			return err
		}
	}

	if cycle := findCycle(def.Jobs); cycle != "" {
		return fmt.Errorf("dependency cycle through job %q", cycle)
	}

	for i, s := range def.On.Schedule {
		if err := validateCron(s.Cron); err != nil {
			return fmt.Errorf("schedule entry %d: %w", i, err)
		}
	}
	return nil
}

// validateMatrix 检查矩阵 exclude/include 的键引用
func validateMatrix(jobName string, job *Job) error {
	if !job.HasMatrix() {
		return nil
	}
	m := job.Strategy.Matrix

	for i, entry := range m.Exclude {
		if len(entry) == 0 {
			return fmt.Errorf("job %q matrix exclude %d is empty", jobName, i)
		}
		for k := range entry {
			if _, ok := m.Axes[k]; !ok {
				return fmt.Errorf("job %q matrix exclude %d references unknown axis %q", jobName, i, k)
			}
		}
	}
	// include 项必须至少包含一个已声明轴的键, 其余键作为附加变量合并
	for i, entry := range m.Include {
		if len(entry) == 0 {
			return fmt.Errorf("job %q matrix include %d is empty", jobName, i)
		}
		known := false
		for k := range entry {
			if _, ok := m.Axes[k]; ok {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("job %q matrix include %d references no declared axis", jobName, i)
		}
	}
	return nil
}

// validateArtifacts 检查产物声明的字段取值
func validateArtifacts(jobName string, job *Job) error {
	if job.Artifacts == nil {
		return nil
	}
	for i, a := range job.Artifacts.Upload {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("job %q artifact upload %d has no name", jobName, i)
		}
		if strings.TrimSpace(a.Path) == "" {
			return fmt.Errorf("job %q artifact %q has no path", jobName, a.Name)
		}
		if a.When != UploadOnSuccess && a.When != UploadAlways {
			return fmt.Errorf("job %q artifact %q: if must be success or always", jobName, a.Name)
		}
	}
	for i, a := range job.Artifacts.Download {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("job %q artifact download %d has no name", jobName, i)
		}
	}
	return nil
}

// validateCron 语法级检查 cron 表达式: 必须恰好 5 个字段
func validateCron(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("cron %q must have 5 fields, got %d", expr, len(fields))
	}
	return nil
}

// SortedJobNames 返回按名称排序的作业名列表, 用于确定性的遍历顺序
func SortedJobNames(jobs map[string]*Job) []string {
	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
