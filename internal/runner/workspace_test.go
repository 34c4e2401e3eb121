package runner

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWorkspacePrepare(t *testing.T) {
	m := NewWorkspaceManager(t.TempDir())

	dir, err := m.Prepare("job-ws01")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("workspace dir should exist: %v", err)
	}
}

func TestWorkspacePrepare_ClearsResidue(t *testing.T) {
	m := NewWorkspaceManager(t.TempDir())

	dir, _ := m.Prepare("job-ws02")
	os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("old"), 0644)

	// 同一作业重新准备时残留文件被清掉
	dir, err := m.Prepare("job-ws02")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "stale.txt")); !os.IsNotExist(err) {
		t.Error("residual file should be removed")
	}
}

func TestWorkspaceCleanup(t *testing.T) {
	m := NewWorkspaceManager(t.TempDir())

	dir, _ := m.Prepare("job-ws03")
	m.Cleanup("job-ws03", false)

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("workspace dir should be removed")
	}
}

func TestWorkspaceCleanup_Retain(t *testing.T) {
	m := NewWorkspaceManager(t.TempDir())

	dir, _ := m.Prepare("job-ws04")
	m.Cleanup("job-ws04", true)

	if _, err := os.Stat(dir); err != nil {
		t.Error("retained workspace dir should survive cleanup")
	}
	if m.RetainedCount() != 1 {
		t.Errorf("RetainedCount = %d, want 1", m.RetainedCount())
	}
}

func TestWorkspaceCleanup_EvictsOldest(t *testing.T) {
	m := NewWorkspaceManager(t.TempDir())
	m.maxRetained = 3

	var dirs []string
	for i := 0; i < 5; i++ {
		jobID := string(rune('a'+i)) + "-evict"
		dir, _ := m.Prepare(jobID)
		dirs = append(dirs, dir)
		m.Cleanup(jobID, true)
	}

	if m.RetainedCount() != 3 {
		t.Fatalf("RetainedCount = %d, want 3", m.RetainedCount())
	}

	// 最早保留的两个被淘汰
	for _, dir := range dirs[:2] {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("oldest retained dir %s should be evicted", dir)
		}
	}
	for _, dir := range dirs[2:] {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("recently retained dir %s should survive", dir)
		}
	}
}

func TestWorkspaceResolvePath(t *testing.T) {
	m := NewWorkspaceManager(t.TempDir())

	tests := []struct {
		name    string
		rel     string
		wantErr bool
	}{
		{"普通文件", "dist.tar.gz", false},
		{"子目录文件", "out/bin/app", false},
		{"点路径", ".", false},
		{"上级逃逸", "../other", true},
		{"多级逃逸", "../../etc/passwd", true},
		{"混合逃逸", "out/../../secret", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ResolvePath("job-rp01", tt.rel)
			if (err != nil) != tt.wantErr {
				t.Errorf("ResolvePath(%q) err = %v, wantErr = %v", tt.rel, err, tt.wantErr)
			}
		})
	}
}
