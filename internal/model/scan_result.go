package model

import "time"

// ScanReport 一次扫描的汇总结果，交给报告输出使用
type ScanReport struct {
	ID            string        `json:"id"`
	Target        string        `json:"target"`
	StartPort     int           `json:"start_port"`
	EndPort       int           `json:"end_port"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Interrupted   bool          `json:"interrupted"`
	ExposureScore float64       `json:"exposure_score"`
	Results       []ScanResult  `json:"results"`
}

// ScanResult 单个开放端口的扫描结果
// 由调度器在端口任务完成时创建一次，之后不再修改
type ScanResult struct {
	Port       int               `json:"port"`
	Service    string            `json:"service"`
	Banner     Banner            `json:"banner"`
	Product    string            `json:"product,omitempty"`
	Version    string            `json:"version,omitempty"`
	Confidence int               `json:"confidence"`
	Risk       RiskTier          `json:"risk"`
	CVE        *CveRecord        `json:"cve_info,omitempty"`
	Exploit    *ExploitIndicator `json:"exploit_indicator,omitempty"`
	CVENotes   []VulnNote        `json:"cve_matches,omitempty"`
	TLS        *TLSAssessment    `json:"tls,omitempty"`

	HTTPTitle    string `json:"http_title,omitempty"`
	AnonymousFTP *bool  `json:"anonymous_ftp,omitempty"`
	AnonymousSMB *bool  `json:"anonymous_smb,omitempty"`
}

// HasCVE 是否命中了产品/版本漏洞记录
func (r ScanResult) HasCVE() bool {
	return r.CVE != nil
}

// Fingerprint 指纹识别结果
type Fingerprint struct {
	Service    string `json:"service"`
	Product    string `json:"product"`
	Version    string `json:"version"`
	Confidence int    `json:"confidence"`
}

// FingerprintRule 指纹规则，按顺序匹配，先命中者生效
type FingerprintRule struct {
	Service    string `json:"service" yaml:"service"`
	Product    string `json:"product" yaml:"product"`
	Pattern    string `json:"pattern" yaml:"pattern"`
	Confidence int    `json:"confidence" yaml:"confidence"`
}
