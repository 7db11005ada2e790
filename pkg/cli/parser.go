package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"portintel/internal/config"
	"portintel/internal/cvedb"
	"portintel/internal/fingerprint"
	"portintel/internal/model"
	"portintel/internal/risk"
	"portintel/internal/scanner"
	"portintel/internal/tlsprobe"
	"portintel/internal/utils"
)

const Version = "1.0.0"

// 端口预设
var profiles = map[string][2]int{
	"fast":     {1, 100},
	"top-1000": {1, 1000},
	"full":     {1, 65535},
}

type app struct {
	cfgFile  string
	logLevel string
	cfg      *config.Config
}

// NewRootCmd 构造命令树
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:     "portintel",
		Short:   "portintel 端口情报扫描器",
		Version: Version,
		Long: `portintel 对单个主机做 TCP 端口扫描，识别服务指纹，关联本地漏洞库，
评估 TLS 配置并给出风险等级。仅用于你拥有或获得授权的主机。

示例:
  portintel scan 192.168.1.10 1 1024
  portintel scan 192.168.1.10 --top-1000 --format html --output report.html
  portintel kb import-nvd nvdcve-2.0-2024.json.zip --db data/portintel.db`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "配置文件路径 (默认查找 ./configs/portintel.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "日志级别 (debug, info, warn, error)")

	root.AddCommand(a.newScanCmd())
	root.AddCommand(a.newKBCmd())
	root.AddCommand(a.newReportCmd())
	return root
}

// Execute 运行命令行，出错时退出码为 1
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := utils.InitLogging(cfg.Log); err != nil {
		return errors.Wrap(err, "初始化日志失败")
	}
	a.cfg = cfg
	return nil
}

type scanFlags struct {
	threads       int
	timeout       float64
	bannerTimeout time.Duration
	rate          int
	sni           string
	format        string
	jsonOut       bool
	output        string
	fast          bool
	top1000       bool
	full          bool
	noTLS         bool
	noEnum        bool
	enumHTTPS     bool
	rules         string
	kb            string
	noProgress    bool
}

func (a *app) newScanCmd() *cobra.Command {
	f := &scanFlags{}

	cmd := &cobra.Command{
		Use:   "scan <target> [start_port] [end_port]",
		Short: "扫描目标主机的端口区间",
		Long: `扫描 target 上 start_port 到 end_port (闭区间) 的 TCP 端口。
端口也可以写成 "1-1000"，或者使用 --fast / --top-1000 / --full 预设。`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := resolvePorts(args[1:], f)
			if err != nil {
				return err
			}
			a.applyScanFlags(cmd, f)

			format := f.format
			if f.jsonOut {
				format = FormatJSON
			}
			formatter, err := NewOutputFormatter(format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			target := a.cfg.ToTarget(extractHostname(args[0]), start, end)
			var bar *pterm.ProgressbarPrinter
			if !f.noProgress && target.Validate() == nil {
				bar, _ = pterm.DefaultProgressbar.
					WithTotal(end - start + 1).
					WithTitle("扫描中").
					WithWriter(os.Stderr).
					WithRemoveWhenDone(true).
					Start()
			}

			report, err := a.runScan(ctx, target, progressUpdater(bar))
			if bar != nil {
				bar.Stop()
			}
			if err != nil {
				return err
			}
			if report.Interrupted {
				pterm.Warning.Println("扫描被用户中断，输出已完成的部分结果")
			}
			return formatter.PrintResult(report, f.output)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&f.threads, "threads", 0, "并发数 (默认按端口数量自动选择)")
	flags.Float64Var(&f.timeout, "timeout", 1.0, "连接超时 (秒)")
	flags.DurationVar(&f.bannerTimeout, "banner-timeout", 2*time.Second, "读取 banner 的超时")
	flags.IntVar(&f.rate, "rate", 0, "每秒新建连接数上限 (0 不限速)")
	flags.StringVar(&f.sni, "sni", "", "TLS 探测使用的服务器名")
	flags.StringVarP(&f.format, "format", "f", FormatText, "输出格式 (text, json, csv, html)")
	flags.BoolVar(&f.jsonOut, "json", false, "以 JSON 输出，等同于 --format json")
	flags.StringVarP(&f.output, "output", "o", "", "保存结果的文件")
	flags.BoolVar(&f.fast, "fast", false, "扫描 1-100")
	flags.BoolVar(&f.top1000, "top-1000", false, "扫描 1-1000")
	flags.BoolVar(&f.full, "full", false, "扫描 1-65535")
	flags.BoolVar(&f.noTLS, "no-tls", false, "跳过 TLS 评估")
	flags.BoolVar(&f.noEnum, "no-enum", false, "跳过匿名服务枚举")
	flags.BoolVar(&f.enumHTTPS, "enum-https", false, "HTTPS 服务也抓取页面标题")
	flags.StringVar(&f.rules, "rules", "", "指纹规则 YAML 文件")
	flags.StringVar(&f.kb, "kb", "", "漏洞库文件 (.yaml 或 SQLite)")
	flags.BoolVar(&f.noProgress, "no-progress", false, "不显示进度条")
	cmd.MarkFlagsMutuallyExclusive("fast", "top-1000", "full")

	return cmd
}

// applyScanFlags 显式指定的命令行参数覆盖配置文件
func (a *app) applyScanFlags(cmd *cobra.Command, f *scanFlags) {
	flags := cmd.Flags()
	cfg := a.cfg
	if flags.Changed("threads") {
		cfg.Scan.Workers = f.threads
	}
	if flags.Changed("timeout") {
		cfg.Scan.Timeout = time.Duration(f.timeout * float64(time.Second))
	}
	if flags.Changed("banner-timeout") {
		cfg.Scan.BannerTimeout = f.bannerTimeout
	}
	if flags.Changed("rate") {
		cfg.Scan.Rate = f.rate
	}
	if flags.Changed("sni") {
		cfg.Scan.ServerName = f.sni
	}
	if f.noTLS {
		cfg.TLS.Enabled = false
	}
	if f.noEnum {
		cfg.Enum.Enabled = false
	}
	if f.enumHTTPS {
		cfg.Enum.HTTPS = true
	}
	if f.rules != "" {
		cfg.Fingerprint.RulesFile = f.rules
	}
	if f.kb != "" {
		cfg.Knowledge.Path = f.kb
		cfg.Knowledge.Source = config.SourceSQLite
		if ext := strings.ToLower(filepath.Ext(f.kb)); ext == ".yaml" || ext == ".yml" {
			cfg.Knowledge.Source = config.SourceYAML
		}
	}
}

// resolvePorts 预设优先，其次是 "start end" 或 "start-end"
func resolvePorts(args []string, f *scanFlags) (int, int, error) {
	switch {
	case f.fast:
		return profiles["fast"][0], profiles["fast"][1], nil
	case f.top1000:
		return profiles["top-1000"][0], profiles["top-1000"][1], nil
	case f.full:
		return profiles["full"][0], profiles["full"][1], nil
	}

	switch len(args) {
	case 1:
		return ParsePortRange(args[0])
	case 2:
		start, err := parsePort(args[0])
		if err != nil {
			return 0, 0, err
		}
		end, err := parsePort(args[1])
		if err != nil {
			return 0, 0, err
		}
		return start, end, nil
	}
	return 0, 0, errors.New("必须指定起止端口，或者使用 --fast、--top-1000、--full")
}

// ParsePortRange 解析 "80" 或 "1-1000"
func ParsePortRange(s string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	start, err := parsePort(parts[0])
	if err != nil {
		return 0, 0, err
	}
	if len(parts) == 1 {
		return start, start, nil
	}
	end, err := parsePort(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parsePort 只检查格式，范围由扫描目标统一校验
func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(model.ErrInvalidTarget, "无效的端口: %q", s)
	}
	return port, nil
}

// extractHostname 去掉 URL 前缀和路径
func extractHostname(target string) string {
	if i := strings.Index(target, "://"); i != -1 {
		target = target[i+3:]
	}
	if i := strings.IndexAny(target, "/?#"); i != -1 {
		target = target[:i]
	}
	return target
}

func (a *app) runScan(ctx context.Context, target model.ScanTarget, progress func(done, total int)) (*model.ScanReport, error) {
	// 参数错误时不做任何准备工作
	if err := target.Validate(); err != nil {
		return nil, err
	}
	deps, err := buildDependencies(a.cfg)
	if err != nil {
		return nil, err
	}
	deps.Progress = progress
	return scanner.NewPortScanner(deps, nil).Scan(ctx, target)
}

// progressUpdater 把已完成端口数同步到进度条，bar 为空时不显示
func progressUpdater(bar *pterm.ProgressbarPrinter) func(done, total int) {
	if bar == nil {
		return nil
	}
	return func(done, total int) {
		if delta := done - bar.Current; delta > 0 {
			bar.Add(delta)
		}
	}
}

// buildDependencies 按配置组装扫描流水线
func buildDependencies(cfg *config.Config) (scanner.Dependencies, error) {
	var deps scanner.Dependencies

	rules := fingerprint.DefaultRules()
	if cfg.Fingerprint.RulesFile != "" {
		loaded, err := fingerprint.LoadRules(cfg.Fingerprint.RulesFile)
		if err != nil {
			return deps, err
		}
		rules = loaded
	}
	matcher, err := fingerprint.NewMatcher(rules)
	if err != nil {
		return deps, err
	}

	kb, err := loadKnowledge(cfg.Knowledge)
	if err != nil {
		return deps, err
	}

	var limiter *rate.Limiter
	if cfg.Scan.Rate > 0 {
		burst := cfg.Scan.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Scan.Rate), burst)
	}

	deps = scanner.Dependencies{
		Probe: scanner.NewProber(scanner.ProbeOptions{
			DialTimeout:     cfg.Scan.Timeout,
			BannerTimeout:   cfg.Scan.BannerTimeout,
			ActiveProbes:    model.ActiveProbes,
			Limiter:         limiter,
			MaxRetryElapsed: cfg.Scan.MaxRetryElapsed,
		}),
		Matcher:      matcher,
		Correlator:   cvedb.NewCorrelator(kb),
		Scorer:       risk.NewScorer(model.HighRiskPorts, model.MediumRiskPorts),
		ServiceNames: model.ServiceNames,
		TLSPorts:     model.TLSLikelyPorts,
	}
	if cfg.TLS.Enabled {
		deps.TLS = tlsprobe.NewProber(cfg.TLS.Timeout, nil)
	}
	if cfg.Enum.Enabled {
		deps.Enum = scanner.NewEnumerator(scanner.EnumOptions{
			Enabled:   true,
			Timeout:   cfg.Enum.Timeout,
			UserAgent: cfg.Enum.UserAgent,
			HTTPS:     cfg.Enum.HTTPS,
			FTP:       cfg.Enum.FTP,
			SMB:       cfg.Enum.SMB,
		}, nil)
	}
	return deps, nil
}

// loadKnowledge 读取漏洞库，SQLite 库为空时先写入内置数据
func loadKnowledge(kc config.KnowledgeConfig) (cvedb.KnowledgeBase, error) {
	switch kc.Source {
	case config.SourceYAML:
		return cvedb.LoadYAML(kc.Path)
	case config.SourceSQLite:
		db, err := cvedb.Open(kc.Path)
		if err != nil {
			return cvedb.KnowledgeBase{}, err
		}
		defer db.Close()

		stats, err := db.Counts()
		if err != nil {
			return cvedb.KnowledgeBase{}, err
		}
		if stats.Records == 0 && stats.Notes == 0 {
			if err := db.Seed(cvedb.Builtin(), "builtin"); err != nil {
				return cvedb.KnowledgeBase{}, err
			}
		}
		return db.Load()
	}
	return cvedb.Builtin(), nil
}

func (a *app) newKBCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "kb",
		Short: "管理本地 SQLite 漏洞库",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "数据库路径 (默认使用配置中的 knowledge.path)")

	open := func() (*cvedb.Database, error) {
		path := dbPath
		if path == "" {
			path = a.cfg.Knowledge.Path
		}
		return cvedb.Open(path)
	}

	seed := &cobra.Command{
		Use:   "seed [file.yaml]",
		Short: "写入内置漏洞库或 YAML 知识库",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, source := cvedb.Builtin(), "builtin"
			if len(args) == 1 {
				loaded, err := cvedb.LoadYAML(args[0])
				if err != nil {
					return err
				}
				kb, source = loaded, filepath.Base(args[0])
			}

			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Seed(kb, source); err != nil {
				return err
			}
			pterm.Success.Printfln("已写入 %d 条记录, %d 条备注到 %s", len(kb.Records), len(kb.Notes), db.Path())
			return nil
		},
	}

	importNVD := &cobra.Command{
		Use:   "import-nvd <file.json|file.zip>",
		Short: "导入离线 NVD JSON 数据",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := cvedb.ImportNVDFile(args[0])
			if err != nil {
				return err
			}
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Seed(cvedb.KnowledgeBase{Records: records}, filepath.Base(args[0])); err != nil {
				return err
			}
			pterm.Success.Printfln("已导入 %d 条 NVD 记录到 %s", len(records), db.Path())
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "显示漏洞库统计",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			s, err := db.Counts()
			if err != nil {
				return err
			}
			return pterm.DefaultTable.WithData(pterm.TableData{
				{"数据库", db.Path()},
				{"漏洞记录", strconv.Itoa(s.Records)},
				{"漏洞备注", strconv.Itoa(s.Notes)},
				{"可利用", strconv.Itoa(s.Exploits)},
				{"最近来源", s.LastSource},
				{"最近更新", s.LastUpdate},
			}).Render()
		},
	}

	cmd.AddCommand(seed, importNVD, stats)
	return cmd
}

func (a *app) newReportCmd() *cobra.Command {
	var input, format, output string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "从 JSON 扫描结果重新生成报告",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := NewOutputFormatter(format)
			if err != nil {
				return err
			}
			report, err := ReadReport(input)
			if err != nil {
				return err
			}
			if output == "" && format == FormatHTML {
				output = fmt.Sprintf("%s_report.html", report.Target)
			}
			if err := formatter.PrintResult(report, output); err != nil {
				return err
			}
			if output != "" {
				pterm.Success.Printfln("报告已保存到 %s", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON 扫描结果文件")
	cmd.Flags().StringVarP(&format, "format", "f", FormatHTML, "报告格式 (html, csv, text, json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "输出文件")
	cmd.MarkFlagRequired("input")
	return cmd
}
