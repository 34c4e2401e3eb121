package runner

import (
	"strings"
	"testing"
)

func TestGenerateRunnerID_Format(t *testing.T) {
	id := GenerateRunnerID()
	if !strings.HasPrefix(id, "rn-") {
		t.Errorf("id = %q, want rn- prefix", id)
	}
	// 前缀后是 6 字节的十六进制摘要
	if len(id) != len("rn-")+12 {
		t.Errorf("id length = %d, want %d", len(id), len("rn-")+12)
	}
	for _, c := range id[3:] {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("id %q contains non-hex char %q", id, c)
		}
	}
}
