package model

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// RiskTier 风险等级，数值越小越严重
type RiskTier int

const (
	RiskCritical RiskTier = iota
	RiskHigh
	RiskMedium
	RiskLow
)

var riskNames = map[RiskTier]string{
	RiskCritical: "CRITICAL",
	RiskHigh:     "HIGH",
	RiskMedium:   "MEDIUM",
	RiskLow:      "LOW",
}

func (t RiskTier) String() string {
	if name, ok := riskNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RiskTier(%d)", int(t))
}

// ParseRiskTier 解析等级名称（不区分大小写）
func ParseRiskTier(s string) (RiskTier, error) {
	for tier, name := range riskNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return tier, nil
		}
	}
	return RiskLow, errors.Errorf("unknown risk tier %q", s)
}

func (t RiskTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *RiskTier) UnmarshalText(text []byte) error {
	tier, err := ParseRiskTier(string(text))
	if err != nil {
		return err
	}
	*t = tier
	return nil
}
