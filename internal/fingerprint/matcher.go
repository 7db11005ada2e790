package fingerprint

import (
	"regexp"

	"github.com/pkg/errors"

	"portintel/internal/model"
)

const (
	// UnmatchedConfidence 有 banner 但没有规则命中
	UnmatchedConfidence = 10
	// NoBannerConfidence 没有拿到 banner
	NoBannerConfidence = 0
)

type compiledRule struct {
	rule  model.FingerprintRule
	regex *regexp.Regexp
}

// Matcher banner 指纹匹配器，构造后只读，可并发使用
type Matcher struct {
	rules []compiledRule
}

// NewMatcher 编译规则，规则顺序即匹配优先级
func NewMatcher(rules []model.FingerprintRule) (*Matcher, error) {
	m := &Matcher{rules: make([]compiledRule, 0, len(rules))}
	for i, rule := range rules {
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "编译指纹规则 #%d (%s) 失败", i, rule.Product)
		}
		m.rules = append(m.rules, compiledRule{rule: rule, regex: re})
	}
	return m, nil
}

// Match 返回第一条命中规则的识别结果
// 置信度只用于展示，不影响漏洞关联
func (m *Matcher) Match(banner model.Banner, port int) model.Fingerprint {
	text, ok := banner.Get()
	if !ok {
		return model.Fingerprint{Confidence: NoBannerConfidence}
	}

	for _, cr := range m.rules {
		idx := cr.regex.FindStringSubmatchIndex(text)
		if idx == nil {
			continue
		}
		version := ""
		// 第一个捕获组是版本号，可选组未参与匹配时下标为 -1
		if len(idx) >= 4 && idx[2] >= 0 {
			version = text[idx[2]:idx[3]]
		}
		return model.Fingerprint{
			Service:    cr.rule.Service,
			Product:    cr.rule.Product,
			Version:    version,
			Confidence: cr.rule.Confidence,
		}
	}

	return model.Fingerprint{Confidence: UnmatchedConfidence}
}

// Rules 返回规则副本
func (m *Matcher) Rules() []model.FingerprintRule {
	out := make([]model.FingerprintRule, 0, len(m.rules))
	for _, cr := range m.rules {
		out = append(out, cr.rule)
	}
	return out
}
