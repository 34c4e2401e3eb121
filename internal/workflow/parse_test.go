package workflow

import (
	"strings"
	"testing"
)

const sampleWorkflow = `
name: quality
on:
  push:
    branches: [master, "release/*"]
  pull_request: {}
  schedule:
    - cron: "0 3 * * *"
  manual: {}
env:
  PIP_DISABLE_PIP_VERSION_CHECK: "1"
jobs:
  lint:
    runs-on: { os: linux }
    container: python:3.12-slim
    timeout-minutes: 30
    steps:
      - name: flake8
        run: flake8 sympy/
  tests:
    needs: [lint]
    container: python:3.12-slim
    strategy:
      fail-fast: true
      max-parallel: 4
      matrix:
        python: ["3.10", "3.11", "3.12"]
        backend: [default, flint]
        exclude:
          - { python: "3.10", backend: flint }
        include:
          - { python: "3.12", backend: default, coverage: "yes" }
    steps:
      - name: pytest
        run: pytest -m "python==${{ matrix.python }}"
    artifacts:
      download:
        - { name: sdist, path: dist }
      upload:
        - name: "coverage-${{ matrix.python }}"
          path: coverage.xml
          retention-days: 7
          if: always
`

// TestParse_Sample 解析一份完整的工作流定义
func TestParse_Sample(t *testing.T) {
	def, err := Parse([]byte(sampleWorkflow))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if def.Name != "quality" {
		t.Errorf("名称错误: %s", def.Name)
	}
	if len(def.Jobs) != 2 {
		t.Fatalf("作业数错误: %d", len(def.Jobs))
	}

	lint := def.Jobs["lint"]
	if lint.TimeoutMinutes != 30 {
		t.Errorf("lint 超时错误: %d", lint.TimeoutMinutes)
	}
	if lint.RunsOn["os"] != "linux" {
		t.Errorf("runs-on 解析错误: %v", lint.RunsOn)
	}

	tests := def.Jobs["tests"]
	if tests.TimeoutMinutes != DefaultTimeoutMinutes {
		t.Errorf("默认超时未填充: %d", tests.TimeoutMinutes)
	}
	if !tests.Strategy.IsFailFast() {
		t.Error("fail-fast 应为 true")
	}
	m := tests.Strategy.Matrix
	if len(m.Axes["python"]) != 3 || len(m.Axes["backend"]) != 2 {
		t.Errorf("矩阵轴解析错误: %v", m.Axes)
	}
	if len(m.Exclude) != 1 || m.Exclude[0]["backend"] != "flint" {
		t.Errorf("exclude 解析错误: %v", m.Exclude)
	}
	if len(m.Include) != 1 || m.Include[0]["coverage"] != "yes" {
		t.Errorf("include 解析错误: %v", m.Include)
	}
	if tests.Artifacts.Upload[0].When != UploadAlways {
		t.Errorf("上传条件错误: %s", tests.Artifacts.Upload[0].When)
	}
	if len(def.On.Schedule) != 1 || def.On.Schedule[0].Cron != "0 3 * * *" {
		t.Errorf("schedule 解析错误: %v", def.On.Schedule)
	}
}

// TestParse_Defaults 验证默认值填充
func TestParse_Defaults(t *testing.T) {
	doc := `
name: minimal
on:
  manual: {}
jobs:
  build:
    steps:
      - name: build
        run: make
    artifacts:
      upload:
        - { name: out, path: out.tar }
`
	def, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	job := def.Jobs["build"]
	if job.TimeoutMinutes != DefaultTimeoutMinutes {
		t.Errorf("默认超时错误: %d", job.TimeoutMinutes)
	}
	up := job.Artifacts.Upload[0]
	if up.RetentionDays != DefaultRetentionDays {
		t.Errorf("默认保留天数错误: %d", up.RetentionDays)
	}
	if up.When != UploadOnSuccess {
		t.Errorf("默认上传条件错误: %s", up.When)
	}
	if job.Strategy.IsFailFast() != true {
		t.Error("未声明 strategy 时 fail-fast 应默认 true")
	}
}

// TestParse_Invalid 非法定义的拒绝
func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "未知字段",
			doc: `
name: bad
on: { manual: {} }
jobs:
  a:
    need: [b]
    steps: [{ name: s, run: "true" }]
`,
			wantErr: "decode workflow",
		},
		{
			name: "无作业",
			doc: `
name: bad
on: { manual: {} }
jobs: {}
`,
			wantErr: "has no jobs",
		},
		{
			name: "无步骤",
			doc: `
name: bad
on: { manual: {} }
jobs:
  a: { steps: [] }
`,
			wantErr: "has no steps",
		},
		{
			name: "悬空依赖",
			doc: `
name: bad
on: { manual: {} }
jobs:
  a:
    needs: [missing]
    steps: [{ name: s, run: "true" }]
`,
			wantErr: "unknown job",
		},
		{
			name: "自身依赖",
			doc: `
name: bad
on: { manual: {} }
jobs:
  a:
    needs: [a]
    steps: [{ name: s, run: "true" }]
`,
			wantErr: "depends on itself",
		},
		{
			name: "依赖环",
			doc: `
name: bad
on: { manual: {} }
jobs:
  a:
    needs: [b]
    steps: [{ name: s, run: "true" }]
  b:
    needs: [a]
    steps: [{ name: s, run: "true" }]
`,
			wantErr: "dependency cycle",
		},
		{
			name: "exclude 引用未知轴",
			doc: `
name: bad
on: { manual: {} }
jobs:
  a:
    strategy:
      matrix:
        os: [linux]
        exclude:
          - { arch: arm64 }
    steps: [{ name: s, run: "true" }]
`,
			wantErr: "unknown axis",
		},
		{
			name: "非法 cron",
			doc: `
name: bad
on:
  schedule:
    - cron: "0 3 * *"
jobs:
  a:
    steps: [{ name: s, run: "true" }]
`,
			wantErr: "5 fields",
		},
		{
			name: "非法上传条件",
			doc: `
name: bad
on: { manual: {} }
jobs:
  a:
    steps: [{ name: s, run: "true" }]
    artifacts:
      upload:
        - { name: out, path: out.tar, if: never }
`,
			wantErr: "success or always",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("应当返回错误")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("错误信息不匹配: %v", err)
			}
		})
	}
}

// TestParse_NumericAxisValues 数值型轴取值保持字符串形态
func TestParse_NumericAxisValues(t *testing.T) {
	doc := `
name: versions
on: { manual: {} }
jobs:
  t:
    strategy:
      matrix:
        python: [3.10, 3.11]
    steps: [{ name: s, run: "true" }]
`
	def, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	axes := def.Jobs["t"].Strategy.Matrix.Axes
	if axes["python"][0] != "3.10" {
		t.Errorf("3.10 被解析为: %s", axes["python"][0])
	}
}
