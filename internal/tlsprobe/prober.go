package tlsprobe

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"portintel/internal/model"
	"portintel/internal/utils"
)

// 弱密码套件关键字
var weakCipherKeywords = []string{"RC4", "3DES", "DES", "NULL", "EXPORT", "MD5", "IDEA"}

// 逐个版本探测的顺序
var sweepVersions = []uint16{
	tls.VersionTLS10,
	tls.VersionTLS11,
	tls.VersionTLS12,
	tls.VersionTLS13,
}

// Prober TLS 探测器，只读，不校验证书
type Prober struct {
	timeout time.Duration
	logger  *utils.Logger
	now     func() time.Time
	suites  []uint16
}

func NewProber(timeout time.Duration, logger *utils.Logger) *Prober {
	if logger == nil {
		logger = utils.NewLogger("tlsprobe")
	}
	return &Prober{
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
		suites:  allCipherSuites(),
	}
}

// WithClock 替换时钟，用于过期判断
func (p *Prober) WithClock(now func() time.Time) *Prober {
	cp := *p
	cp.now = now
	return &cp
}

// Assess 握手并评估证书、密码套件和支持的协议版本
// 主握手失败时返回错误，版本探测失败只是不计入
func (p *Prober) Assess(ctx context.Context, host string, port int, serverName string) (*model.TLSAssessment, error) {
	sni := serverName
	if sni == "" && net.ParseIP(host) == nil {
		sni = host
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	state, err := p.handshake(ctx, addr, sni, tls.VersionTLS10, tls.VersionTLS13)
	if err != nil {
		return nil, errors.Wrapf(err, "TLS 握手失败 %s", addr)
	}

	cipherName := tls.CipherSuiteName(state.CipherSuite)
	result := &model.TLSAssessment{
		Version: versionName(state.Version),
		Cipher: model.CipherInfo{
			Name:     cipherName,
			Protocol: versionName(state.Version),
			Bits:     cipherBits(cipherName),
		},
		ServerName: sni,
	}

	var leaf *x509.Certificate
	if len(state.PeerCertificates) > 0 {
		leaf = state.PeerCertificates[0]
		result.Certificate = certificateInfo(leaf)
		result.Flags.SelfSigned = selfSigned(leaf)
		result.Flags.Expired = !leaf.NotAfter.IsZero() && leaf.NotAfter.Before(p.now().UTC())
	}
	result.Flags.HostnameMatch = hostnameMatches(leaf, host, sni)
	result.Flags.WeakCipher = weakCipher(cipherName)

	result.SupportedVersions = p.sweep(ctx, addr, sni)
	result.Flags.WeakProtocols, result.Flags.DowngradeRisk = protocolFlags(result.SupportedVersions)

	return result, nil
}

// sweep 每个版本单独握手，互不影响
func (p *Prober) sweep(ctx context.Context, addr, sni string) []string {
	var supported []string
	for _, v := range sweepVersions {
		if _, err := p.handshake(ctx, addr, sni, v, v); err != nil {
			p.logger.Debug("%s 不支持 %s: %v", addr, versionName(v), err)
			continue
		}
		supported = append(supported, versionName(v))
	}
	return supported
}

func (p *Prober) handshake(ctx context.Context, addr, sni string, minVersion, maxVersion uint16) (tls.ConnectionState, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.timeout},
		Config: &tls.Config{
			ServerName:         sni,
			InsecureSkipVerify: true,
			MinVersion:         minVersion,
			MaxVersion:         maxVersion,
			CipherSuites:       p.suites,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return tls.ConnectionState{}, err
	}
	defer conn.Close()

	return conn.(*tls.Conn).ConnectionState(), nil
}

func allCipherSuites() []uint16 {
	var ids []uint16
	for _, s := range tls.CipherSuites() {
		ids = append(ids, s.ID)
	}
	for _, s := range tls.InsecureCipherSuites() {
		ids = append(ids, s.ID)
	}
	return ids
}

func versionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return model.TLSv10
	case tls.VersionTLS11:
		return model.TLSv11
	case tls.VersionTLS12:
		return model.TLSv12
	case tls.VersionTLS13:
		return model.TLSv13
	}
	return fmt.Sprintf("0x%04x", v)
}

// cipherBits 按套件名称推算密钥长度
func cipherBits(name string) int {
	switch {
	case strings.Contains(name, "AES_256"), strings.Contains(name, "CHACHA20"):
		return 256
	case strings.Contains(name, "AES_128"), strings.Contains(name, "RC4_128"):
		return 128
	case strings.Contains(name, "3DES"):
		return 112
	}
	return 0
}

func weakCipher(name string) bool {
	upper := strings.ToUpper(name)
	for _, kw := range weakCipherKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

// protocolFlags 接受 TLS1.0/1.1 视为弱协议；同时支持 TLS1.3 视为存在降级风险
func protocolFlags(supported []string) (weak, downgrade bool) {
	has := make(map[string]bool, len(supported))
	for _, v := range supported {
		has[v] = true
	}
	weak = has[model.TLSv10] || has[model.TLSv11]
	downgrade = has[model.TLSv13] && weak
	return weak, downgrade
}

func selfSigned(cert *x509.Certificate) bool {
	if len(cert.RawSubject) > 0 && len(cert.RawIssuer) > 0 {
		return bytes.Equal(cert.RawSubject, cert.RawIssuer)
	}
	return cert.Subject.String() == cert.Issuer.String()
}

func certificateInfo(cert *x509.Certificate) model.CertificateInfo {
	info := model.CertificateInfo{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		NotBefore: cert.NotBefore.UTC(),
		NotAfter:  cert.NotAfter.UTC(),
	}
	for _, name := range cert.DNSNames {
		info.SANs = append(info.SANs, "DNS:"+name)
	}
	for _, ip := range cert.IPAddresses {
		info.SANs = append(info.SANs, "IP Address:"+ip.String())
	}
	for _, email := range cert.EmailAddresses {
		info.SANs = append(info.SANs, "email:"+email)
	}
	for _, uri := range cert.URIs {
		info.SANs = append(info.SANs, "URI:"+uri.String())
	}
	return info
}
