package tlsprobe

import (
	"crypto/x509"
	"encoding/asn1"
	"net"
	"strings"
)

var oidCommonName = asn1.ObjectIdentifier{2, 5, 4, 3}

// hostnameMatches 判断证书是否覆盖目标名称
// IP 目标不检查；空 SNI、没有证书或证书里既无 DNS SAN 也无 CN 时同样视为匹配
// 有 DNS SAN 时只看 SAN，否则退回到任意一个 CN
func hostnameMatches(cert *x509.Certificate, host, serverName string) bool {
	if net.ParseIP(host) != nil {
		return true
	}
	if serverName == "" || net.ParseIP(serverName) != nil || cert == nil {
		return true
	}

	if len(cert.DNSNames) > 0 {
		for _, name := range cert.DNSNames {
			if matchName(name, serverName) {
				return true
			}
		}
		return false
	}

	cns := commonNames(cert)
	if len(cns) == 0 {
		return true
	}
	for _, cn := range cns {
		if matchName(cn, serverName) {
			return true
		}
	}
	return false
}

// matchName 精确匹配，或者最左侧单个标签的通配符 (*.example.com)
func matchName(pattern, host string) bool {
	pattern = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(pattern)), ".")
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if pattern == "" || host == "" {
		return false
	}
	if pattern == host {
		return true
	}

	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	suffix := pattern[2:]
	if suffix == "" || strings.Contains(suffix, "*") {
		return false
	}
	dot := strings.IndexByte(host, '.')
	if dot <= 0 {
		return false
	}
	return host[dot+1:] == suffix
}

// commonNames 主题中所有 CN，证书可能带多个
func commonNames(cert *x509.Certificate) []string {
	var names []string
	for _, attr := range cert.Subject.Names {
		if !attr.Type.Equal(oidCommonName) {
			continue
		}
		if s, ok := attr.Value.(string); ok && s != "" {
			names = append(names, s)
		}
	}
	if len(names) == 0 && cert.Subject.CommonName != "" {
		names = append(names, cert.Subject.CommonName)
	}
	return names
}
