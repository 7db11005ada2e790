package model

import (
	"fmt"
	"strings"
)

// CveRecord 本地漏洞库中的一条产品/版本记录
// Key 不为空时按包含关系匹配 "产品 版本" 字符串；
// Key 为空时按 Product + 版本区间匹配（离线导入的 NVD 数据）
type CveRecord struct {
	Key          string `json:"key,omitempty" yaml:"key" db:"match_key"`
	Product      string `json:"product,omitempty" yaml:"product" db:"product"`
	VersionStart string `json:"version_start,omitempty" yaml:"version_start" db:"version_start"`
	VersionEnd   string `json:"version_end,omitempty" yaml:"version_end" db:"version_end"`
	// VersionEndExcl 开区间上界
	VersionEndExcl string  `json:"version_end_excl,omitempty" yaml:"version_end_excl" db:"version_end_excl"`
	CVE            string  `json:"cve" yaml:"cve" db:"cve_id"`
	CVSS           float64 `json:"cvss" yaml:"cvss" db:"cvss_score"`
	Severity       string  `json:"severity" yaml:"severity" db:"severity"`
	Exploit        bool    `json:"exploit" yaml:"exploit" db:"exploit"`
	Description    string  `json:"description" yaml:"description" db:"description"`
}

// VulnNote 漏洞备注表条目，按 banner 子串匹配
type VulnNote struct {
	Software string   `json:"software" yaml:"software"`
	CVEs     []string `json:"cves" yaml:"cves"`
	Severity string   `json:"severity" yaml:"severity"`
	Notes    string   `json:"notes" yaml:"notes"`
}

// ExploitIndicator 公开利用提示
type ExploitIndicator struct {
	CVE         string `json:"cve"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

// NewExploitIndicator 记录标记了可利用时生成提示，否则返回 nil
func NewExploitIndicator(rec *CveRecord) *ExploitIndicator {
	if rec == nil || !rec.Exploit {
		return nil
	}
	return &ExploitIndicator{
		CVE:         rec.CVE,
		Severity:    rec.Severity,
		Description: rec.Description,
		Reference:   ReferenceURL(rec.CVE),
	}
}

// ReferenceURL 返回 NVD 详情链接；非标准编号（如 "Multiple CVEs"）返回空
func ReferenceURL(cveID string) string {
	if !strings.HasPrefix(strings.ToUpper(cveID), "CVE-") {
		return ""
	}
	return fmt.Sprintf("https://nvd.nist.gov/vuln/detail/%s", cveID)
}
