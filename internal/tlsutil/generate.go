// Package tlsutil 自签名 TLS 证书生成
//
// 控制面启动时自动生成自签名 CA 和服务端证书，执行节点通过
// CA 文件校验控制面身份，实现内网零配置 HTTPS。
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultCertDir 默认证书目录
const DefaultCertDir = "/etc/pipelines-admin/certs"

// CertFiles 证书文件路径
type CertFiles struct {
	CAFile   string // CA 证书
	CertFile string // 服务端证书
	KeyFile  string // 服务端私钥
}

// DefaultCertFiles 返回目录下的标准证书文件路径
func DefaultCertFiles(dir string) CertFiles {
	if dir == "" {
		dir = DefaultCertDir
	}
	return CertFiles{
		CAFile:   filepath.Join(dir, "ca.pem"),
		CertFile: filepath.Join(dir, "server.pem"),
		KeyFile:  filepath.Join(dir, "server-key.pem"),
	}
}

// CertsExist 检查三个证书文件是否都存在
func (c CertFiles) CertsExist() bool {
	for _, f := range []string{c.CAFile, c.CertFile, c.KeyFile} {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// GenerateOptions 证书生成选项
type GenerateOptions struct {
	Hosts        string        // 附加 SANs（IP 或域名，逗号分隔）
	Organization string        // CA 组织名
	ValidFor     time.Duration // 服务端证书有效期
	CertDir      string        // 输出目录
	Force        bool          // 覆盖已有证书
}

func (o *GenerateOptions) applyDefaults() {
	if o.CertDir == "" {
		o.CertDir = DefaultCertDir
	}
	if o.Organization == "" {
		o.Organization = "Pipelines Admin"
	}
	if o.ValidFor == 0 {
		o.ValidFor = 365 * 24 * time.Hour
	}
}

// EnsureCerts 确保证书存在，不存在时自动生成
func EnsureCerts(opts GenerateOptions) (*CertFiles, error) {
	opts.applyDefaults()
	files := DefaultCertFiles(opts.CertDir)

	if !opts.Force && files.CertsExist() {
		log.Printf("[tls.exists] dir=%s", opts.CertDir)
		return &files, nil
	}

	if err := GenerateCerts(opts); err != nil {
		return nil, err
	}
	return &files, nil
}

// GenerateCerts 生成 CA 证书和由其签发的服务端证书
func GenerateCerts(opts GenerateOptions) error {
	opts.applyDefaults()

	if err := os.MkdirAll(opts.CertDir, 0755); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}

	caCert, caKey, caCertDER, err := generateCA(opts.Organization)
	if err != nil {
		return err
	}

	serverCertDER, serverKey, err := generateServerCert(opts, caCert, caKey)
	if err != nil {
		return err
	}

	files := DefaultCertFiles(opts.CertDir)
	if err := writePEM(files.CAFile, "CERTIFICATE", caCertDER, 0644); err != nil {
		return fmt.Errorf("write CA cert: %w", err)
	}
	if err := writePEM(files.CertFile, "CERTIFICATE", serverCertDER, 0644); err != nil {
		return fmt.Errorf("write server cert: %w", err)
	}
	keyBytes, err := x509.MarshalECPrivateKey(serverKey)
	if err != nil {
		return fmt.Errorf("marshal server key: %w", err)
	}
	// 私钥权限收紧为 600
	if err := writePEM(files.KeyFile, "EC PRIVATE KEY", keyBytes, 0600); err != nil {
		return fmt.Errorf("write server key: %w", err)
	}

	log.Printf("[tls.generated] dir=%s valid_for=%s", opts.CertDir, opts.ValidFor)
	return nil
}

func generateCA(org string) (*x509.Certificate, *ecdsa.PrivateKey, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generate CA key: %w", err)
	}

	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{org},
			CommonName:   org + " CA",
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create CA cert: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse CA cert: %w", err)
	}
	return cert, key, der, nil
}

func generateServerCert(opts GenerateOptions, caCert *x509.Certificate, caKey *ecdsa.PrivateKey) ([]byte, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate server key: %w", err)
	}

	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{opts.Organization},
			CommonName:   opts.Organization + " Server",
		},
		NotBefore: time.Now().Add(-1 * time.Hour),
		NotAfter:  time.Now().Add(opts.ValidFor),
		KeyUsage:  x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		BasicConstraintsValid: true,
	}

	for _, h := range collectHosts(opts.Hosts) {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, nil, fmt.Errorf("create server cert: %w", err)
	}
	return der, key, nil
}

// ClientTLSConfig 基于 CA 文件构造校验服务端证书的客户端配置
//
// 执行节点连接自签名控制面时使用。
func ClientTLSConfig(caFile string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse CA cert from %s", caFile)
	}
	return &tls.Config{RootCAs: pool}, nil
}

// collectHosts 去重合并 SANs：固定本地地址 + 用户指定 + 本机 hostname 和 IP
func collectHosts(hostsStr string) []string {
	seen := make(map[string]bool)
	var result []string
	add := func(h string) {
		h = strings.TrimSpace(h)
		if h != "" && !seen[h] {
			seen[h] = true
			result = append(result, h)
		}
	}

	for _, h := range []string{"localhost", "127.0.0.1", "::1"} {
		add(h)
	}
	for _, h := range strings.Split(hostsStr, ",") {
		add(h)
	}
	if hostname, err := os.Hostname(); err == nil {
		add(hostname)
	}
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				add(ipnet.IP.String())
			}
		}
	}
	return result
}

func writePEM(path, blockType string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: data})
}
