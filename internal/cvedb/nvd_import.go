package cvedb

import (
	"archive/zip"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"

	"portintel/internal/model"
)

// NVDDocument 本地保存的 NVD 2.0 JSON 文档（API 响应或离线 feed）
type NVDDocument struct {
	ResultsPerPage  int                `json:"resultsPerPage"`
	StartIndex      int                `json:"startIndex"`
	TotalResults    int                `json:"totalResults"`
	Vulnerabilities []NVDVulnerability `json:"vulnerabilities"`
}

type NVDVulnerability struct {
	CVE NVDCve `json:"cve"`
}

type NVDCve struct {
	ID             string             `json:"id"`
	Published      string             `json:"published"`
	LastModified   string             `json:"lastModified"`
	VulnStatus     string             `json:"vulnStatus"`
	Descriptions   []NVDDescription   `json:"descriptions"`
	Metrics        NVDMetrics         `json:"metrics"`
	Configurations []NVDConfiguration `json:"configurations"`
	References     []NVDReference     `json:"references"`
}

type NVDDescription struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type NVDMetrics struct {
	CvssMetricV31 []NVDCvssMetric `json:"cvssMetricV31"`
	CvssMetricV30 []NVDCvssMetric `json:"cvssMetricV30"`
	CvssMetricV2  []NVDCvssMetric `json:"cvssMetricV2"`
}

// NVDCvssMetric v2 的严重性在外层，v3 在 cvssData 内
type NVDCvssMetric struct {
	CvssData struct {
		Version      string  `json:"version"`
		Vector       string  `json:"vectorString"`
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
	} `json:"cvssData"`
	BaseSeverity string `json:"baseSeverity"`
}

type NVDConfiguration struct {
	Nodes []struct {
		Operator string        `json:"operator"`
		CpeMatch []NVDCpeMatch `json:"cpeMatch"`
	} `json:"nodes"`
}

type NVDCpeMatch struct {
	Vulnerable            bool   `json:"vulnerable"`
	Criteria              string `json:"criteria"`
	VersionStartIncluding string `json:"versionStartIncluding"`
	VersionStartExcluding string `json:"versionStartExcluding"`
	VersionEndIncluding   string `json:"versionEndIncluding"`
	VersionEndExcluding   string `json:"versionEndExcluding"`
}

type NVDReference struct {
	URL  string   `json:"url"`
	Tags []string `json:"tags"`
}

// ParseNVD 把 NVD 文档转换成按产品+版本区间匹配的漏洞记录，不做任何网络访问
func ParseNVD(r io.Reader) ([]model.CveRecord, error) {
	var doc NVDDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "解析 NVD 数据失败")
	}

	var records []model.CveRecord
	for _, vuln := range doc.Vulnerabilities {
		records = append(records, convertNVD(vuln.CVE)...)
	}
	return records, nil
}

// ImportNVDFile 读取本地 NVD 文件，支持 .json 和内含 .json 的 .zip 压缩包
func ImportNVDFile(path string) ([]model.CveRecord, error) {
	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		return importNVDZip(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "打开 NVD 文件失败")
	}
	defer f.Close()
	return ParseNVD(f)
}

func importNVDZip(path string) ([]model.CveRecord, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrap(err, "打开压缩包失败")
	}
	defer r.Close()

	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".json") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "解压 %s 失败", f.Name)
		}
		defer rc.Close()
		return ParseNVD(rc)
	}
	return nil, errors.Errorf("压缩包 %s 中未找到 JSON 文件", path)
}

func convertNVD(cve NVDCve) []model.CveRecord {
	base := model.CveRecord{
		CVE:         cve.ID,
		Description: englishDescription(cve.Descriptions),
		Exploit:     hasExploitReference(cve.References),
	}
	base.CVSS, base.Severity = cvssScore(cve.Metrics)

	seen := make(map[model.CveRecord]bool)
	var out []model.CveRecord
	for _, config := range cve.Configurations {
		for _, node := range config.Nodes {
			for _, match := range node.CpeMatch {
				if !match.Vulnerable {
					continue
				}
				rec, ok := recordFromCPE(base, match)
				if !ok || seen[rec] {
					continue
				}
				seen[rec] = true
				out = append(out, rec)
			}
		}
	}
	return out
}

// recordFromCPE cpe:2.3:part:vendor:product:version:...
func recordFromCPE(base model.CveRecord, match NVDCpeMatch) (model.CveRecord, bool) {
	parts := strings.Split(match.Criteria, ":")
	if len(parts) < 5 || parts[4] == "" || parts[4] == "*" {
		return base, false
	}

	rec := base
	rec.Product = parts[4]
	if len(parts) > 5 && parts[5] != "*" && parts[5] != "-" && parts[5] != "" {
		rec.VersionStart = parts[5]
		rec.VersionEnd = parts[5]
	} else {
		rec.VersionStart = match.VersionStartIncluding
		if rec.VersionStart == "" {
			// 开区间下界按闭区间处理，略宽
			rec.VersionStart = match.VersionStartExcluding
		}
		rec.VersionEnd = match.VersionEndIncluding
		rec.VersionEndExcl = match.VersionEndExcluding
	}

	if rec.VersionStart == "" && rec.VersionEnd == "" && rec.VersionEndExcl == "" {
		return base, false
	}
	return rec, true
}

func englishDescription(descs []NVDDescription) string {
	for _, desc := range descs {
		if desc.Lang == "en" {
			return desc.Value
		}
	}
	return ""
}

// cvssScore 优先 v3.1，其次 v3.0，最后 v2
func cvssScore(m NVDMetrics) (float64, string) {
	switch {
	case len(m.CvssMetricV31) > 0:
		return m.CvssMetricV31[0].CvssData.BaseScore, m.CvssMetricV31[0].CvssData.BaseSeverity
	case len(m.CvssMetricV30) > 0:
		return m.CvssMetricV30[0].CvssData.BaseScore, m.CvssMetricV30[0].CvssData.BaseSeverity
	case len(m.CvssMetricV2) > 0:
		return m.CvssMetricV2[0].CvssData.BaseScore, m.CvssMetricV2[0].BaseSeverity
	}
	return 0, ""
}

func hasExploitReference(refs []NVDReference) bool {
	for _, ref := range refs {
		for _, tag := range ref.Tags {
			if strings.EqualFold(tag, "Exploit") {
				return true
			}
		}
	}
	return false
}
