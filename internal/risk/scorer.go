package risk

import (
	"math"
	"sort"

	"portintel/internal/model"
)

// 端口数量对暴露面评分的贡献
const exposurePerPort = 0.15

// Scorer 风险评分器，端口集合在构造时注入
type Scorer struct {
	high   map[int]bool
	medium map[int]bool
}

func NewScorer(high, medium []int) *Scorer {
	s := &Scorer{
		high:   make(map[int]bool, len(high)),
		medium: make(map[int]bool, len(medium)),
	}
	for _, p := range high {
		s.high[p] = true
	}
	for _, p := range medium {
		s.medium[p] = true
	}
	return s
}

// NewDefaultScorer 使用默认的高危/中危端口
func NewDefaultScorer() *Scorer {
	return NewScorer(model.HighRiskPorts, model.MediumRiskPorts)
}

// Baseline 仅根据端口给出的基础等级，不会给出 CRITICAL
func (s *Scorer) Baseline(port int) model.RiskTier {
	switch {
	case s.high[port]:
		return model.RiskHigh
	case s.medium[port]:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// TierForCVSS CVSS 分数对应的等级
func TierForCVSS(score float64) model.RiskTier {
	switch {
	case score >= 9:
		return model.RiskCritical
	case score >= 7:
		return model.RiskHigh
	case score >= 4:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// Score 有漏洞记录时以 CVSS 为准，否则使用端口基础等级
func (s *Scorer) Score(port int, cve *model.CveRecord) model.RiskTier {
	if cve != nil {
		return TierForCVSS(cve.CVSS)
	}
	return s.Baseline(port)
}

// ExposureScore 粗略的经验评分：命中漏洞的平均 CVSS 加上 0.15 × 开放端口数，上限 10，保留一位小数
func ExposureScore(results []model.ScanResult) float64 {
	var total float64
	var matched int
	for _, r := range results {
		if r.CVE != nil {
			total += r.CVE.CVSS
			matched++
		}
	}

	var avg float64
	if matched > 0 {
		avg = total / float64(matched)
	}
	score := math.Min(avg+exposurePerPort*float64(len(results)), 10)
	return math.Round(score*10) / 10
}

// OverallTier 由暴露面评分推出的整体等级，用于报告标题
func OverallTier(score float64) model.RiskTier {
	switch {
	case score >= 8:
		return model.RiskCritical
	case score >= 6:
		return model.RiskHigh
	case score >= 4:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// Summary 各等级的端口数
type Summary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

func Summarize(results []model.ScanResult) Summary {
	var s Summary
	for _, r := range results {
		switch r.Risk {
		case model.RiskCritical:
			s.Critical++
		case model.RiskHigh:
			s.High++
		case model.RiskMedium:
			s.Medium++
		default:
			s.Low++
		}
	}
	s.Total = len(results)
	return s
}

// Sort 按 (等级, 端口) 升序排列，最严重的在前
func Sort(results []model.ScanResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Risk != results[j].Risk {
			return results[i].Risk < results[j].Risk
		}
		return results[i].Port < results[j].Port
	})
}
