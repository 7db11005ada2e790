package fingerprint

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"portintel/internal/model"
)

// DefaultRules 内置规则，越具体的排在越前面
func DefaultRules() []model.FingerprintRule {
	return []model.FingerprintRule{
		{Service: "FTP", Product: "vsFTPd", Pattern: `vsFTPd\s+([\d\.]+)`, Confidence: 95},
		{Service: "FTP", Product: "ProFTPD", Pattern: `ProFTPD\s+([\d\.]+)`, Confidence: 95},
		{Service: "SSH", Product: "OpenSSH", Pattern: `OpenSSH[_\s]([\d\.p]+)`, Confidence: 95},
		{Service: "SSH", Product: "Dropbear", Pattern: `dropbear_([\d\.]+)`, Confidence: 90},
		{Service: "SMTP", Product: "Exim", Pattern: `Exim\s+([\d\.]+)`, Confidence: 90},
		{Service: "SMTP", Product: "Postfix", Pattern: `Postfix`, Confidence: 80},
		{Service: "HTTP", Product: "Apache", Pattern: `Apache/?([\d\.]+)?`, Confidence: 90},
		{Service: "HTTP", Product: "nginx", Pattern: `nginx/?([\d\.]+)?`, Confidence: 90},
		{Service: "HTTP", Product: "Microsoft-IIS", Pattern: `Microsoft-IIS/?([\d\.]+)?`, Confidence: 90},
		{Service: "HTTP", Product: "lighttpd", Pattern: `lighttpd/?([\d\.]+)?`, Confidence: 85},
	}
}

type ruleFile struct {
	Rules []model.FingerprintRule `yaml:"rules"`
}

// LoadRules 从 YAML 文件读取规则列表
func LoadRules(path string) ([]model.FingerprintRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "读取指纹规则失败")
	}
	return ParseRules(data)
}

// ParseRules 解析 YAML 规则，规则必须带 pattern 且置信度在 0-100
func ParseRules(data []byte) ([]model.FingerprintRule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "解析指纹规则失败")
	}
	for i, rule := range f.Rules {
		if rule.Pattern == "" {
			return nil, errors.Errorf("指纹规则 #%d 缺少 pattern", i)
		}
		if rule.Confidence < 0 || rule.Confidence > 100 {
			return nil, errors.Errorf("指纹规则 #%d 置信度超出范围: %d", i, rule.Confidence)
		}
	}
	return f.Rules, nil
}
