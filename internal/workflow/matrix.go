package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// ============================================================================
// 矩阵展开与变量替换
// ============================================================================

// Instance 矩阵展开后的一个作业实例
type Instance struct {
	// Values 本实例的矩阵变量取值, 无矩阵的作业为 nil
	Values map[string]string

	// DisplayName 展示名, 如 "tests (3.12, flint)"
	DisplayName string
}

// Expand 展开作业的矩阵为实例列表
//
// 展开规则:
//  1. 各轴按轴名排序后做笛卡尔积, 保证展开顺序确定
//  2. 去掉与 exclude 条目完全匹配的组合(exclude 是子集匹配:
//     条目的每个键值都命中才排除)
//  3. include 条目与某个组合的公共键全部相等时, 附加键合并进该
//     组合; 与任何组合都不匹配的 include 条目追加为新实例
//
// 无矩阵的作业返回单个实例, DisplayName 即作业名。
func Expand(jobName string, job *Job) []Instance {
	if !job.HasMatrix() {
		return []Instance{{DisplayName: jobName}}
	}
	m := job.Strategy.Matrix

	axes := make([]string, 0, len(m.Axes))
	for k := range m.Axes {
		axes = append(axes, k)
	}
	sort.Strings(axes)

	combos := []map[string]string{{}}
	for _, axis := range axes {
		next := make([]map[string]string, 0, len(combos)*len(m.Axes[axis]))
		for _, combo := range combos {
			for _, v := range m.Axes[axis] {
				extended := make(map[string]string, len(combo)+1)
				for ck, cv := range combo {
					extended[ck] = cv
				}
				extended[axis] = v
				next = append(next, extended)
			}
		}
		combos = next
	}

	filtered := combos[:0]
	for _, combo := range combos {
		if !matchesAny(combo, m.Exclude) {
			filtered = append(filtered, combo)
		}
	}
	combos = filtered

	for _, inc := range m.Include {
		matched := false
		for _, combo := range combos {
			if commonKeysEqual(combo, inc) {
				matched = true
				for k, v := range inc {
					combo[k] = v
				}
			}
		}
		if !matched {
			extra := make(map[string]string, len(inc))
			for k, v := range inc {
				extra[k] = v
			}
			combos = append(combos, extra)
		}
	}

	instances := make([]Instance, 0, len(combos))
	for _, combo := range combos {
		instances = append(instances, Instance{
			Values:      combo,
			DisplayName: displayName(jobName, axes, combo),
		})
	}
	return instances
}

// matchesAny 组合是否被某个 exclude 条目命中(子集匹配)
func matchesAny(combo map[string]string, excludes []map[string]string) bool {
	for _, ex := range excludes {
		hit := true
		for k, v := range ex {
			if combo[k] != v {
				hit = false
				break
			}
		}
		if hit {
			return true
		}
	}
	return false
}

// commonKeysEqual include 条目与组合的公共键是否全部相等
//
// include 条目中不属于任何轴的附加键不参与匹配。
func commonKeysEqual(combo, inc map[string]string) bool {
	any := false
	for k, v := range inc {
		cv, ok := combo[k]
		if !ok {
			continue
		}
		any = true
		if cv != v {
			return false
		}
	}
	return any
}

// displayName 生成实例展示名, 轴取值按轴名排序排列
func displayName(jobName string, axes []string, values map[string]string) string {
	parts := make([]string, 0, len(axes))
	for _, axis := range axes {
		if v, ok := values[axis]; ok {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return jobName
	}
	return fmt.Sprintf("%s (%s)", jobName, strings.Join(parts, ", "))
}

// ============================================================================
// ${{ matrix.key }} 变量替换
// ============================================================================

// Substitute 替换文本中的 ${{ matrix.key }} 引用
//
// 只做字面替换, 不支持表达式求值。未知的键替换为空串, 与省略该
// 轴的矩阵实例保持一致。
func Substitute(text string, values map[string]string) string {
	if !strings.Contains(text, "${{") {
		return text
	}
	var b strings.Builder
	for {
		start := strings.Index(text, "${{")
		if start < 0 {
			b.WriteString(text)
			break
		}
		end := strings.Index(text[start:], "}}")
		if end < 0 {
			b.WriteString(text)
			break
		}
		end += start

		b.WriteString(text[:start])
		expr := strings.TrimSpace(text[start+3 : end])
		if key, ok := strings.CutPrefix(expr, "matrix."); ok {
			b.WriteString(values[key])
		}
		text = text[end+2:]
	}
	return b.String()
}

// SubstituteEnv 对环境变量表的每个值做矩阵替换, 返回新表
func SubstituteEnv(env map[string]string, values map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = Substitute(v, values)
	}
	return out
}
