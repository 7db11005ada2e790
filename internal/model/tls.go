package model

import "time"

// TLSAssessment 一次 TLS 探测的结论，返回后不再修改
type TLSAssessment struct {
	Version           string          `json:"tls_version"`
	Cipher            CipherInfo      `json:"cipher"`
	Certificate       CertificateInfo `json:"certificate"`
	Flags             TLSFlags        `json:"flags"`
	SupportedVersions []string        `json:"supported_tls_versions"`
	ServerName        string          `json:"server_name_used,omitempty"`
}

// CipherInfo 协商出的密码套件
type CipherInfo struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Bits     int    `json:"bits"`
}

// CertificateInfo 对端叶子证书
type CertificateInfo struct {
	Subject   string    `json:"subject,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	SANs      []string  `json:"sans,omitempty"`
}

// TLSFlags 姿态标记
type TLSFlags struct {
	Expired       bool `json:"expired"`
	HostnameMatch bool `json:"hostname_match"`
	SelfSigned    bool `json:"self_signed"`
	WeakCipher    bool `json:"weak_cipher"`
	WeakProtocols bool `json:"weak_protocols"`
	DowngradeRisk bool `json:"downgrade_risk"`
}

// TLS 协议版本名称，按从旧到新排列
const (
	TLSv10 = "TLSv1.0"
	TLSv11 = "TLSv1.1"
	TLSv12 = "TLSv1.2"
	TLSv13 = "TLSv1.3"
)
