package workflow

// ============================================================================
// 作业依赖图
// ============================================================================

// DFS 三色标记
const (
	colorWhite = 0 // 未访问
	colorGray  = 1 // 访问中(在当前 DFS 栈上)
	colorBlack = 2 // 已完成
)

// findCycle 三色 DFS 检测依赖环
//
// 返回环上的任意一个作业名, 无环时返回空串。作业按排序后的名称
// 遍历, 保证同一定义每次报告相同的环入口。
func findCycle(jobs map[string]*Job) string {
	colors := make(map[string]int, len(jobs))

	var visit func(name string) string
	visit = func(name string) string {
		colors[name] = colorGray
		for _, dep := range jobs[name].Needs {
			switch colors[dep] {
			case colorGray:
				return dep
			case colorWhite:
				if found := visit(dep); found != "" {
					return found
				}
			}
		}
		colors[name] = colorBlack
		return ""
	}

	for _, name := range SortedJobNames(jobs) {
		if colors[name] == colorWhite {
			if found := visit(name); found != "" {
				return found
			}
		}
	}
	return ""
}

// Dependents 构建反向依赖表: 作业名 -> 直接依赖它的作业名列表
//
// 编排器用它在作业成功时解锁下游, 失败时跳过传递闭包。
func Dependents(jobs map[string]*Job) map[string][]string {
	out := make(map[string][]string, len(jobs))
	for _, name := range SortedJobNames(jobs) {
		for _, dep := range jobs[name].Needs {
			out[dep] = append(out[dep], name)
		}
	}
	return out
}

// TransitiveDependents 计算一个作业的全部传递下游
func TransitiveDependents(jobs map[string]*Job, root string) []string {
	dependents := Dependents(jobs)
	seen := map[string]bool{root: true}
	queue := []string{root}
	var out []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range dependents[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out
}
