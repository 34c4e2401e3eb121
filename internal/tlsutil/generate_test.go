package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateCerts(t *testing.T) {
	tmpDir := t.TempDir()

	err := GenerateCerts(GenerateOptions{
		Hosts:        "10.0.2.15,ci.internal",
		Organization: "Test Org",
		CertDir:      tmpDir,
	})
	if err != nil {
		t.Fatalf("GenerateCerts: %v", err)
	}

	files := DefaultCertFiles(tmpDir)
	for _, f := range []string{files.CAFile, files.CertFile, files.KeyFile} {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			t.Errorf("expected file %s to exist", f)
		}
	}

	// 证书和私钥能作为密钥对加载
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		t.Fatalf("LoadX509KeyPair: %v", err)
	}

	serverCert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse server cert: %v", err)
	}

	// SANs 包含指定的 IP 和域名
	foundIP, foundDNS := false, false
	for _, ip := range serverCert.IPAddresses {
		if ip.String() == "10.0.2.15" {
			foundIP = true
		}
	}
	for _, name := range serverCert.DNSNames {
		if name == "ci.internal" {
			foundDNS = true
		}
	}
	if !foundIP || !foundDNS {
		t.Errorf("SANs missing requested hosts: IPs=%v DNS=%v", serverCert.IPAddresses, serverCert.DNSNames)
	}

	// CA 能验证服务端证书链
	caPEM, err := os.ReadFile(files.CAFile)
	if err != nil {
		t.Fatalf("read CA file: %v", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		t.Fatal("failed to parse CA cert")
	}
	if _, err := serverCert.Verify(x509.VerifyOptions{Roots: caPool}); err != nil {
		t.Fatalf("certificate verification failed: %v", err)
	}
}

func TestEnsureCerts_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()

	certs1, err := EnsureCerts(GenerateOptions{CertDir: tmpDir})
	if err != nil {
		t.Fatalf("first EnsureCerts: %v", err)
	}
	info1, _ := os.Stat(filepath.Join(tmpDir, "server.pem"))

	// 第二次不重新生成
	certs2, err := EnsureCerts(GenerateOptions{CertDir: tmpDir})
	if err != nil {
		t.Fatalf("second EnsureCerts: %v", err)
	}
	info2, _ := os.Stat(filepath.Join(tmpDir, "server.pem"))

	if info1.ModTime() != info2.ModTime() {
		t.Error("certificates should not be regenerated")
	}
	if certs1.CertFile != certs2.CertFile {
		t.Error("cert file path should be stable")
	}
}

func TestClientTLSConfig(t *testing.T) {
	tmpDir := t.TempDir()
	if err := GenerateCerts(GenerateOptions{CertDir: tmpDir}); err != nil {
		t.Fatalf("GenerateCerts: %v", err)
	}

	cfg, err := ClientTLSConfig(DefaultCertFiles(tmpDir).CAFile)
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs should be populated")
	}
}

func TestClientTLSConfig_MissingFile(t *testing.T) {
	if _, err := ClientTLSConfig("/nonexistent/ca.pem"); err == nil {
		t.Error("expected error for missing CA file")
	}
}
