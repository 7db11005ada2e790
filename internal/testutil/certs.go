package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"github.com/pkg/errors"
)

// CertOptions 测试证书参数
type CertOptions struct {
	CommonName string
	DNSNames   []string
	IPs        []net.IP
	NotBefore  time.Time
	NotAfter   time.Time
	// 为空时自签名
	Parent    *x509.Certificate
	ParentKey *ecdsa.PrivateKey
}

// GenerateCert 按参数生成证书，同时返回解析后的 x509 证书
func GenerateCert(opts CertOptions) (tls.Certificate, *x509.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, errors.Wrap(err, "generate key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, nil, errors.Wrap(err, "serial")
	}

	notBefore, notAfter := opts.NotBefore, opts.NotAfter
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Hour)
	}
	if notAfter.IsZero() {
		notAfter = time.Now().Add(24 * time.Hour)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"portintel test"},
			CommonName:   opts.CommonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              opts.DNSNames,
		IPAddresses:           opts.IPs,
	}

	parent, signer := tmpl, key
	if opts.Parent != nil && opts.ParentKey != nil {
		parent, signer = opts.Parent, opts.ParentKey
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signer)
	if err != nil {
		return tls.Certificate{}, nil, errors.Wrap(err, "create certificate")
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, nil, errors.Wrap(err, "parse certificate")
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}, leaf, nil
}

// GenerateSelfSignedCert 自签名证书，hosts 中的 IP 写入 IP SAN，其余写入 DNS SAN
// 第一个非 IP 主机名作为 CN
func GenerateSelfSignedCert(hosts ...string) (tls.Certificate, error) {
	if len(hosts) == 0 {
		hosts = []string{"127.0.0.1", "localhost"}
	}
	opts := hostOptions(hosts)
	cert, _, err := GenerateCert(opts)
	return cert, err
}

// GenerateCA 测试根证书
func GenerateCA() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate key")
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"portintel test"},
			CommonName:   "portintel Test Root CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create CA")
	}
	ca, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse CA")
	}
	return ca, key, nil
}

// GenerateSignedCert 由 CA 签发的证书
func GenerateSignedCert(ca *x509.Certificate, caKey *ecdsa.PrivateKey, hosts ...string) (tls.Certificate, error) {
	opts := hostOptions(hosts)
	opts.Parent = ca
	opts.ParentKey = caKey
	cert, _, err := GenerateCert(opts)
	return cert, err
}

// GenerateExpiredCert 已过期的自签名证书
func GenerateExpiredCert(hosts ...string) (tls.Certificate, error) {
	opts := hostOptions(hosts)
	opts.NotBefore = time.Now().Add(-48 * time.Hour)
	opts.NotAfter = time.Now().Add(-24 * time.Hour)
	cert, _, err := GenerateCert(opts)
	return cert, err
}

// CertPool 由给定证书组成的信任池
func CertPool(certs ...*x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool
}

func hostOptions(hosts []string) CertOptions {
	var opts CertOptions
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			opts.IPs = append(opts.IPs, ip)
			continue
		}
		opts.DNSNames = append(opts.DNSNames, h)
		if opts.CommonName == "" {
			opts.CommonName = h
		}
	}
	return opts
}
