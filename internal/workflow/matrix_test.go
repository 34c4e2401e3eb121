package workflow

import (
	"reflect"
	"testing"
)

func matrixJob(m *Matrix) *Job {
	return &Job{
		Strategy: &Strategy{Matrix: m},
		Steps:    []Step{{Name: "s", Run: "true"}},
	}
}

// TestExpand_Product 笛卡尔积展开与展示名
func TestExpand_Product(t *testing.T) {
	job := matrixJob(&Matrix{
		Axes: map[string][]string{
			"python":  {"3.11", "3.12"},
			"backend": {"default", "flint"},
		},
	})

	instances := Expand("tests", job)
	if len(instances) != 4 {
		t.Fatalf("实例数错误: %d", len(instances))
	}

	// 轴按名称排序: backend 在 python 之前
	want := []string{
		"tests (default, 3.11)",
		"tests (default, 3.12)",
		"tests (flint, 3.11)",
		"tests (flint, 3.12)",
	}
	for i, inst := range instances {
		if inst.DisplayName != want[i] {
			t.Errorf("实例 %d 展示名错误: %s", i, inst.DisplayName)
		}
	}
}

// TestExpand_Exclude exclude 条目按子集匹配排除组合
func TestExpand_Exclude(t *testing.T) {
	job := matrixJob(&Matrix{
		Axes: map[string][]string{
			"python":  {"3.10", "3.11", "3.12"},
			"backend": {"default", "flint"},
		},
		Exclude: []map[string]string{
			{"python": "3.10", "backend": "flint"},
			{"python": "3.11"},
		},
	})

	instances := Expand("tests", job)
	// 6 个组合 - 1 个精确排除 - 2 个 python=3.11 的组合
	if len(instances) != 3 {
		t.Fatalf("实例数错误: %d", len(instances))
	}
	for _, inst := range instances {
		if inst.Values["python"] == "3.11" {
			t.Errorf("python=3.11 未被排除: %v", inst.Values)
		}
		if inst.Values["python"] == "3.10" && inst.Values["backend"] == "flint" {
			t.Errorf("排除条目未生效: %v", inst.Values)
		}
	}
}

// TestExpand_Include include 合并到匹配组合, 不匹配时追加新实例
func TestExpand_Include(t *testing.T) {
	job := matrixJob(&Matrix{
		Axes: map[string][]string{
			"python": {"3.11", "3.12"},
		},
		Include: []map[string]string{
			{"python": "3.12", "coverage": "yes"},
			{"python": "3.13"},
		},
	})

	instances := Expand("tests", job)
	if len(instances) != 3 {
		t.Fatalf("实例数错误: %d", len(instances))
	}

	byPython := map[string]Instance{}
	for _, inst := range instances {
		byPython[inst.Values["python"]] = inst
	}
	if byPython["3.12"].Values["coverage"] != "yes" {
		t.Errorf("include 合并失败: %v", byPython["3.12"].Values)
	}
	if byPython["3.11"].Values["coverage"] != "" {
		t.Errorf("include 不应波及其他组合: %v", byPython["3.11"].Values)
	}
	if _, ok := byPython["3.13"]; !ok {
		t.Error("不匹配的 include 条目应追加为新实例")
	}
}

// TestExpand_NoMatrix 无矩阵作业返回单实例
func TestExpand_NoMatrix(t *testing.T) {
	job := &Job{Steps: []Step{{Name: "s", Run: "true"}}}
	instances := Expand("lint", job)
	if len(instances) != 1 {
		t.Fatalf("实例数错误: %d", len(instances))
	}
	if instances[0].DisplayName != "lint" || instances[0].Values != nil {
		t.Errorf("单实例形态错误: %+v", instances[0])
	}
}

// TestSubstitute 矩阵变量替换
func TestSubstitute(t *testing.T) {
	values := map[string]string{"python": "3.12", "backend": "flint"}

	tests := []struct {
		in   string
		want string
	}{
		{"pytest", "pytest"},
		{"coverage-${{ matrix.python }}", "coverage-3.12"},
		{"${{ matrix.python }}-${{ matrix.backend }}", "3.12-flint"},
		{"${{matrix.python}}", "3.12"},
		{"${{ matrix.missing }}", ""},
		{"${{ env.HOME }}", ""},
		{"broken ${{ matrix.python", "broken ${{ matrix.python"},
	}

	for _, tt := range tests {
		if got := Substitute(tt.in, values); got != tt.want {
			t.Errorf("Substitute(%q) = %q, 期望 %q", tt.in, got, tt.want)
		}
	}
}

// TestSubstituteEnv 环境变量表替换
func TestSubstituteEnv(t *testing.T) {
	got := SubstituteEnv(
		map[string]string{"PY": "${{ matrix.python }}", "CI": "true"},
		map[string]string{"python": "3.12"},
	)
	want := map[string]string{"PY": "3.12", "CI": "true"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("替换结果错误: %v", got)
	}
	if SubstituteEnv(nil, nil) != nil {
		t.Error("空表应返回 nil")
	}
}

// TestBuildSnapshot 快照构建: 环境合并与名称替换
func TestBuildSnapshot(t *testing.T) {
	def := &Definition{
		Name: "quality",
		Env:  map[string]string{"CI": "true", "LEVEL": "workflow"},
	}
	job := &Job{
		Container:      "python:3.12-slim",
		TimeoutMinutes: 45,
		RunsOn:         map[string]string{"os": "linux"},
		Env:            map[string]string{"LEVEL": "job"},
		Steps: []Step{
			{Name: "pytest", Run: "pytest -k ${{ matrix.backend }}"},
		},
		Artifacts: &Artifacts{
			Download: []ArtifactRef{{Name: "sdist", Path: "dist"}},
			Upload: []ArtifactDecl{
				{Name: "cov-${{ matrix.python }}", Path: "coverage.xml", RetentionDays: 7, When: UploadAlways},
			},
		},
	}
	inst := Instance{Values: map[string]string{"python": "3.12", "backend": "flint"}}

	snap := BuildSnapshot(def, job, inst)
	if snap.Image != "python:3.12-slim" || snap.TimeoutMinutes != 45 {
		t.Errorf("基础字段错误: %+v", snap)
	}
	if snap.Env["LEVEL"] != "job" {
		t.Errorf("作业级环境变量应覆盖工作流级: %v", snap.Env)
	}
	if snap.Steps[0].Run != "pytest -k flint" {
		t.Errorf("步骤替换错误: %s", snap.Steps[0].Run)
	}
	if snap.Upload[0].Name != "cov-3.12" {
		t.Errorf("产物名替换错误: %s", snap.Upload[0].Name)
	}
	if snap.Download[0].Name != "sdist" {
		t.Errorf("下载声明错误: %+v", snap.Download[0])
	}
}
