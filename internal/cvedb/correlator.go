package cvedb

import (
	"strings"

	"portintel/internal/model"
	"portintel/internal/utils"
)

// productAliases 指纹产品名到 NVD CPE 产品名的对应
var productAliases = map[string][]string{
	"apache":        {"http_server", "httpd"},
	"microsoft-iis": {"internet_information_services", "iis"},
	"vsftpd":        {"vsftpd"},
	"proftpd":       {"proftpd"},
	"openssh":       {"openssh"},
	"exim":          {"exim"},
}

// Correlator 漏洞关联器，两条路径都是纯函数，可并发调用
type Correlator struct {
	kb       KnowledgeBase
	versions *utils.VersionParser
}

// NewCorrelator 拷贝一份知识库，之后只读
func NewCorrelator(kb KnowledgeBase) *Correlator {
	return &Correlator{
		kb:       kb.Clone(),
		versions: utils.NewVersionParser(),
	}
}

// ByProduct 产品/版本路径：返回第一条命中的记录（按值拷贝），没有则返回 nil
func (c *Correlator) ByProduct(product, version string) *model.CveRecord {
	if product == "" || version == "" {
		return nil
	}
	composite := product + " " + version

	for _, rec := range c.kb.Records {
		if rec.Key != "" {
			if strings.Contains(composite, rec.Key) {
				matched := rec
				return &matched
			}
			continue
		}
		if c.productMatches(rec.Product, product) && c.versionInRange(rec, version) {
			matched := rec
			return &matched
		}
	}
	return nil
}

// ByBanner banner 路径：返回所有软件名出现在 banner 中的备注（不区分大小写）
func (c *Correlator) ByBanner(banner model.Banner) []model.VulnNote {
	text, ok := banner.Get()
	if !ok {
		return nil
	}
	lower := strings.ToLower(text)

	var matches []model.VulnNote
	for _, note := range c.kb.Notes {
		if strings.Contains(lower, strings.ToLower(note.Software)) {
			note.CVEs = append([]string(nil), note.CVEs...)
			matches = append(matches, note)
		}
	}
	return matches
}

// Size 返回记录数和备注数
func (c *Correlator) Size() (records, notes int) {
	return len(c.kb.Records), len(c.kb.Notes)
}

func (c *Correlator) productMatches(recordProduct, detected string) bool {
	if recordProduct == "" {
		return false
	}
	if strings.EqualFold(recordProduct, detected) {
		return true
	}
	for _, alias := range productAliases[strings.ToLower(detected)] {
		if strings.EqualFold(recordProduct, alias) {
			return true
		}
	}
	return false
}

func (c *Correlator) versionInRange(rec model.CveRecord, version string) bool {
	if rec.VersionStart == "" && rec.VersionEnd == "" && rec.VersionEndExcl == "" {
		// 没有版本限制的记录太宽泛，不参与产品/版本关联
		return false
	}
	if !c.versions.InRange(version, rec.VersionStart, rec.VersionEnd) {
		return false
	}
	if rec.VersionEndExcl != "" && c.versions.CompareVersions(version, rec.VersionEndExcl) >= 0 {
		return false
	}
	return true
}
