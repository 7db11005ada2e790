package utils

import (
	"regexp"
	"strings"

	version "github.com/hashicorp/go-version"
)

var versionDigits = regexp.MustCompile(`\d+(\.\d+)*`)

// VersionParser 版本号解析器
type VersionParser struct{}

func NewVersionParser() *VersionParser {
	return &VersionParser{}
}

// NormalizeVersion 标准化版本号，只保留开头的数字段，例如 "4.7p1" -> "4.7"
func (vp *VersionParser) NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "version")
	v = strings.TrimPrefix(v, "Version")
	v = strings.TrimPrefix(v, "v")
	v = strings.TrimPrefix(v, "V")
	v = strings.TrimSpace(v)

	if match := versionDigits.FindString(v); match != "" {
		return match
	}
	return v
}

// Parse 解析为可比较的版本，无法解析时返回 nil
func (vp *VersionParser) Parse(v string) *version.Version {
	normalized := vp.NormalizeVersion(v)
	if normalized == "" {
		return nil
	}
	parsed, err := version.NewVersion(normalized)
	if err != nil {
		return nil
	}
	return parsed
}

// CompareVersions 比较版本号，无法解析的一方视为 0
func (vp *VersionParser) CompareVersions(v1, v2 string) int {
	p1, p2 := vp.Parse(v1), vp.Parse(v2)
	switch {
	case p1 == nil && p2 == nil:
		return 0
	case p1 == nil:
		return -1
	case p2 == nil:
		return 1
	}
	return p1.Compare(p2)
}

// InRange 判断 v 是否落在 [start, end] 内，边界为空表示不限
func (vp *VersionParser) InRange(v, start, end string) bool {
	target := vp.Parse(v)
	if target == nil {
		return false
	}
	if start != "" {
		lower := vp.Parse(start)
		if lower != nil && target.LessThan(lower) {
			return false
		}
	}
	if end != "" {
		upper := vp.Parse(end)
		if upper != nil && target.GreaterThan(upper) {
			return false
		}
	}
	return true
}
