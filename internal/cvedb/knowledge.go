package cvedb

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"portintel/internal/model"
)

// KnowledgeBase 本地漏洞知识库快照，扫描期间只读
type KnowledgeBase struct {
	Records []model.CveRecord `yaml:"records"`
	Notes   []model.VulnNote  `yaml:"notes"`
}

// Validate 检查记录是否可用于匹配
func (kb KnowledgeBase) Validate() error {
	for i, rec := range kb.Records {
		if rec.Key == "" && rec.Product == "" {
			return errors.Errorf("漏洞记录 #%d (%s) 缺少 key 或 product", i, rec.CVE)
		}
		if rec.CVSS < 0 || rec.CVSS > 10 {
			return errors.Errorf("漏洞记录 #%d (%s) CVSS 超出范围: %.1f", i, rec.CVE, rec.CVSS)
		}
	}
	for i, note := range kb.Notes {
		if note.Software == "" {
			return errors.Errorf("漏洞备注 #%d 缺少 software", i)
		}
	}
	return nil
}

// Clone 深拷贝，构造关联器时使用，避免调用方后续修改影响匹配
func (kb KnowledgeBase) Clone() KnowledgeBase {
	out := KnowledgeBase{
		Records: append([]model.CveRecord(nil), kb.Records...),
		Notes:   make([]model.VulnNote, len(kb.Notes)),
	}
	for i, note := range kb.Notes {
		note.CVEs = append([]string(nil), note.CVEs...)
		out.Notes[i] = note
	}
	return out
}

// LoadYAML 从 YAML 文件加载知识库
func LoadYAML(path string) (KnowledgeBase, error) {
	var kb KnowledgeBase
	data, err := os.ReadFile(path)
	if err != nil {
		return kb, errors.Wrap(err, "读取漏洞知识库失败")
	}
	if err := yaml.Unmarshal(data, &kb); err != nil {
		return kb, errors.Wrap(err, "解析漏洞知识库失败")
	}
	if err := kb.Validate(); err != nil {
		return kb, err
	}
	return kb, nil
}
