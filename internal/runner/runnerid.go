// 节点标识生成
package runner

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"strings"
)

// GenerateRunnerID 生成确定性 Runner ID
//
// 基于 /etc/machine-id（systemd 标准）的 HMAC-SHA256 哈希，确保：
//   - 同一台机器始终生成相同的 Runner ID
//   - 不同机器生成不同的 Runner ID
//   - 不直接暴露 machine-id（遵循 machine-id(5) 安全建议）
//
// 回退策略：
//  1. /etc/machine-id（首选，systemd 标准）
//  2. /var/lib/dbus/machine-id（D-Bus 兼容）
//  3. hostname + 第一个非回环 MAC 地址
//  4. 随机值（最终回退）
func GenerateRunnerID() string {
	const appKey = "pipelines-admin-runner-id-v1"

	machineID := ""
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			machineID = strings.TrimSpace(string(data))
			if machineID != "" {
				break
			}
		}
	}

	if machineID == "" {
		hostname, _ := os.Hostname()
		mac := getFirstMACAddress()
		if hostname != "" || mac != "" {
			machineID = hostname + ":" + mac
		}
	}

	if machineID == "" {
		b := make([]byte, 6)
		rand.Read(b)
		return fmt.Sprintf("rn-%x", b)
	}

	h := hmac.New(sha256.New, []byte(appKey))
	h.Write([]byte(machineID))
	sum := h.Sum(nil)
	return fmt.Sprintf("rn-%x", sum[:6])
}

func getFirstMACAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}
