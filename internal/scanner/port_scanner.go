package scanner

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"portintel/internal/cvedb"
	"portintel/internal/fingerprint"
	"portintel/internal/model"
	"portintel/internal/risk"
	"portintel/internal/utils"
)

// PortProber 端口探测
type PortProber interface {
	Throttle(ctx context.Context) error
	Probe(ctx context.Context, host string, port int) (bool, model.Banner)
}

// TLSAssessor TLS 评估
type TLSAssessor interface {
	Assess(ctx context.Context, host string, port int, serverName string) (*model.TLSAssessment, error)
}

// ServiceEnricher 服务枚举
type ServiceEnricher interface {
	Enrich(ctx context.Context, host string, result *model.ScanResult)
}

// Dependencies 调度器依赖，全部在构造时注入
type Dependencies struct {
	Probe      PortProber
	Matcher    *fingerprint.Matcher
	Correlator *cvedb.Correlator
	Scorer     *risk.Scorer
	// 为空时跳过 TLS 评估
	TLS TLSAssessor
	// 为空时跳过服务枚举
	Enum ServiceEnricher

	ServiceNames map[int]string
	TLSPorts     []int

	// Progress 每个端口任务结束后调用一次，调用是串行的
	Progress func(done, total int)
}

// PortScanner 扫描调度器
type PortScanner struct {
	deps     Dependencies
	tlsPorts map[int]bool
	logger   *utils.Logger
}

func NewPortScanner(deps Dependencies, logger *utils.Logger) *PortScanner {
	if logger == nil {
		logger = utils.NewLogger("scanner")
	}
	if deps.ServiceNames == nil {
		deps.ServiceNames = model.ServiceNames
	}
	tlsPorts := make(map[int]bool, len(deps.TLSPorts))
	for _, p := range deps.TLSPorts {
		tlsPorts[p] = true
	}
	return &PortScanner{
		deps:     deps,
		tlsPorts: tlsPorts,
		logger:   logger,
	}
}

// Scan 扫描目标的端口区间
// 参数错误在探测前返回；ctx 取消后不再提交新端口，已开始的端口按自身超时完成，
// 返回已获得的结果并标记 Interrupted
func (ps *PortScanner) Scan(ctx context.Context, target model.ScanTarget) (*model.ScanReport, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	report := &model.ScanReport{
		ID:        uuid.NewString(),
		Target:    target.Host,
		StartPort: target.StartPort,
		EndPort:   target.EndPort,
		StartedAt: time.Now(),
	}
	ports := target.Ports()

	ps.logger.WithFields(logrus.Fields{
		"target":  target.Host,
		"ports":   len(ports),
		"workers": target.Workers,
	}).Info("开始扫描 %s (%d-%d)", target.Host, target.StartPort, target.EndPort)

	// 已开始的任务不受取消影响
	taskCtx := context.WithoutCancel(ctx)
	completions := make(chan model.ScanResult)

	var (
		wg       sync.WaitGroup
		progress sync.Mutex
		done     int
	)
	pool, err := ants.NewPoolWithFunc(target.Workers, func(arg interface{}) {
		defer wg.Done()
		port := arg.(int)
		res, ok := ps.runTask(ctx, taskCtx, target, port)
		if ps.deps.Progress != nil {
			progress.Lock()
			done++
			ps.deps.Progress(done, len(ports))
			progress.Unlock()
		}
		if ok {
			completions <- res
		}
	}, ants.WithPanicHandler(func(p interface{}) {
		ps.logger.Error("工作协程异常: %v", p)
	}))
	if err != nil {
		return nil, errors.Wrap(err, "创建工作池失败")
	}
	defer pool.Release()

	go func() {
		defer func() {
			wg.Wait()
			close(completions)
		}()
		for _, port := range ports {
			if ctx.Err() != nil {
				ps.logger.Warn("扫描被取消，停止提交剩余端口 (从 %d 开始)", port)
				return
			}
			wg.Add(1)
			if err := pool.Invoke(port); err != nil {
				wg.Done()
				ps.logger.Error("提交端口 %d 失败: %v", port, err)
			}
		}
	}()

	var results []model.ScanResult
	for res := range completions {
		if !target.Contains(res.Port) {
			continue
		}
		results = append(results, res)
	}

	risk.Sort(results)
	report.Results = results
	report.ExposureScore = risk.ExposureScore(results)
	report.Duration = time.Since(report.StartedAt)
	report.Interrupted = ctx.Err() != nil

	ps.logger.WithFields(logrus.Fields{
		"open":        len(results),
		"exposure":    report.ExposureScore,
		"interrupted": report.Interrupted,
	}).Info("扫描完成，用时 %s", report.Duration.Round(time.Millisecond))

	return report, nil
}

// runTask 单个端口的完整流程，panic 会被捕获，该端口的结果丢弃
func (ps *PortScanner) runTask(ctx, taskCtx context.Context, target model.ScanTarget, port int) (result model.ScanResult, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ps.logger.Error("端口 %d 处理异常: %v\n%s", port, r, debug.Stack())
			ok = false
		}
	}()

	if err := ps.deps.Probe.Throttle(ctx); err != nil {
		return result, false
	}

	open, banner := ps.deps.Probe.Probe(taskCtx, target.Host, port)
	if !open {
		return result, false
	}

	return ps.analyze(taskCtx, target, port, banner), true
}

// analyze 指纹 -> 服务名 -> 漏洞关联 -> 风险 -> TLS -> 枚举
func (ps *PortScanner) analyze(ctx context.Context, target model.ScanTarget, port int, banner model.Banner) model.ScanResult {
	fp := ps.deps.Matcher.Match(banner, port)

	service := fp.Service
	if service == "" {
		service = model.ServiceName(ps.deps.ServiceNames, port)
	}

	result := model.ScanResult{
		Port:       port,
		Service:    service,
		Banner:     banner,
		Product:    strings.Trim(fp.Product, "()"),
		Version:    strings.Trim(fp.Version, "()"),
		Confidence: fp.Confidence,
	}

	result.CVE = ps.deps.Correlator.ByProduct(result.Product, result.Version)
	result.Exploit = model.NewExploitIndicator(result.CVE)
	result.CVENotes = ps.deps.Correlator.ByBanner(banner)
	result.Risk = ps.deps.Scorer.Score(port, result.CVE)

	if ps.deps.TLS != nil && ps.tlsPorts[port] {
		assessment, err := ps.deps.TLS.Assess(ctx, target.Host, port, target.ServerName)
		if err != nil {
			ps.logger.Warn("TLS-ERROR 端口 %d: %v", port, err)
		} else {
			result.TLS = assessment
		}
	}

	if ps.deps.Enum != nil {
		ps.deps.Enum.Enrich(ctx, target.Host, &result)
	}

	ps.logger.WithFields(logrus.Fields{
		"port":    port,
		"service": result.Service,
		"risk":    result.Risk.String(),
	}).Info("端口 %d 开放", port)

	return result
}
