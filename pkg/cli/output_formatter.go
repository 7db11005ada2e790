package cli

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"portintel/internal/model"
	"portintel/internal/risk"
)

// 支持的输出格式
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatHTML = "html"
)

// 表格里 banner 的最大显示长度
const bannerColumnWidth = 40

type OutputFormatter struct {
	format string
}

func NewOutputFormatter(format string) (*OutputFormatter, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatText
	}
	switch format {
	case FormatText, FormatJSON, FormatCSV, FormatHTML:
		return &OutputFormatter{format: format}, nil
	}
	return nil, errors.Errorf("不支持的输出格式: %s (可选 text, json, csv, html)", format)
}

// PrintResult 渲染报告，outputFile 为空时打印到标准输出
func (of *OutputFormatter) PrintResult(report *model.ScanReport, outputFile string) error {
	output, err := of.Render(report)
	if err != nil {
		return err
	}

	if outputFile != "" {
		if dir := filepath.Dir(outputFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return errors.Wrap(err, "创建输出目录失败")
			}
		}
		return errors.Wrap(os.WriteFile(outputFile, []byte(output), 0644), "写入输出文件失败")
	}

	fmt.Print(output)
	return nil
}

func (of *OutputFormatter) Render(report *model.ScanReport) (string, error) {
	switch of.format {
	case FormatJSON:
		return formatJSON(report)
	case FormatCSV:
		return formatCSV(report)
	case FormatHTML:
		return formatHTML(report)
	default:
		return formatText(report)
	}
}

// ReadReport 读取 JSON 格式的扫描报告，用于重新生成其他格式
func ReadReport(path string) (*model.ScanReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "读取扫描报告失败")
	}
	var report model.ScanReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.Wrapf(err, "解析扫描报告 %s 失败", path)
	}
	return &report, nil
}

func formatJSON(report *model.ScanReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "序列化 JSON 失败")
	}
	return string(data) + "\n", nil
}

func formatText(report *model.ScanReport) (string, error) {
	var builder strings.Builder

	builder.WriteString("\n📡 portintel 端口情报扫描\n")
	builder.WriteString(strings.Repeat("═", 60) + "\n")
	builder.WriteString(fmt.Sprintf("目标: %s\n", report.Target))
	builder.WriteString(fmt.Sprintf("端口: %d-%d\n", report.StartPort, report.EndPort))
	builder.WriteString(fmt.Sprintf("编号: %s\n", report.ID))
	builder.WriteString(fmt.Sprintf("时间: %s (用时 %s)\n\n",
		report.StartedAt.Format("2006-01-02 15:04:05"), report.Duration.Round(time.Millisecond)))

	if report.Interrupted {
		builder.WriteString(pterm.FgYellow.Sprint("⚠️  扫描被中断，以下结果不完整") + "\n\n")
	}

	if len(report.Results) == 0 {
		builder.WriteString("❌ 未发现开放端口\n")
		return builder.String(), nil
	}

	data := pterm.TableData{{"端口", "服务", "版本", "置信度", "风险", "CVE", "Banner"}}
	for _, r := range report.Results {
		cve := "-"
		if r.CVE != nil {
			cve = r.CVE.CVE
		}
		data = append(data, []string{
			fmt.Sprintf("%d/tcp", r.Port),
			r.Service,
			productVersion(r),
			fmt.Sprintf("%d%%", r.Confidence),
			riskLabel(r.Risk),
			cve,
			truncate(r.Banner.String(), bannerColumnWidth),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(data).Srender()
	if err != nil {
		return "", errors.Wrap(err, "渲染结果表格失败")
	}
	builder.WriteString("🔍 开放端口:\n")
	builder.WriteString(table + "\n")

	for _, r := range report.Results {
		if details := portDetails(r); details != "" {
			builder.WriteString(fmt.Sprintf("\n🔸 端口 %d/tcp (%s):\n", r.Port, r.Service))
			builder.WriteString(strings.Repeat("─", 40) + "\n")
			builder.WriteString(details)
		}
	}

	summary := risk.Summarize(report.Results)
	overall := risk.OverallTier(report.ExposureScore)
	builder.WriteString("\n" + strings.Repeat("═", 60) + "\n")
	builder.WriteString(fmt.Sprintf("📊 风险统计: 严重(%d) | 高(%d) | 中(%d) | 低(%d)\n",
		summary.Critical, summary.High, summary.Medium, summary.Low))
	builder.WriteString(fmt.Sprintf("🎯 暴露评分: %.1f / 10 (%s)\n", report.ExposureScore, riskLabel(overall)))

	return builder.String(), nil
}

// portDetails 单个端口的漏洞、TLS 和枚举信息，没有内容时返回空
func portDetails(r model.ScanResult) string {
	var b strings.Builder

	if r.CVE != nil {
		b.WriteString(fmt.Sprintf("%s %s (CVSS: %.1f %s)\n", cvssIcon(r.CVE.CVSS), r.CVE.CVE, r.CVE.CVSS, r.CVE.Severity))
		if r.CVE.Description != "" {
			b.WriteString(fmt.Sprintf("   📝 %s\n", truncate(r.CVE.Description, 100)))
		}
	}
	if r.Exploit != nil {
		ref := r.Exploit.Reference
		if ref == "" {
			ref = "无参考链接"
		}
		b.WriteString(fmt.Sprintf("   💣 存在公开利用: %s\n", ref))
	}
	for _, note := range r.CVENotes {
		b.WriteString(fmt.Sprintf("📌 %s [%s] %s\n", note.Software, note.Severity, strings.Join(note.CVEs, ", ")))
		if note.Notes != "" {
			b.WriteString(fmt.Sprintf("   %s\n", note.Notes))
		}
	}

	if r.TLS != nil {
		b.WriteString(fmt.Sprintf("🔒 %s %s (%d bits)\n", r.TLS.Version, r.TLS.Cipher.Name, r.TLS.Cipher.Bits))
		b.WriteString(fmt.Sprintf("   支持版本: %s\n", strings.Join(r.TLS.SupportedVersions, ", ")))
		if r.TLS.Certificate.Subject != "" {
			b.WriteString(fmt.Sprintf("   证书: %s (到期 %s)\n", r.TLS.Certificate.Subject,
				r.TLS.Certificate.NotAfter.Format("2006-01-02")))
		}
		if flags := tlsWarnings(r.TLS.Flags); len(flags) > 0 {
			b.WriteString("   ⚠️  " + strings.Join(flags, ", ") + "\n")
		}
	}

	if r.HTTPTitle != "" {
		b.WriteString(fmt.Sprintf("🌐 标题: %s\n", r.HTTPTitle))
	}
	if r.AnonymousFTP != nil {
		b.WriteString(fmt.Sprintf("👤 匿名 FTP: %s\n", allowed(*r.AnonymousFTP)))
	}
	if r.AnonymousSMB != nil {
		b.WriteString(fmt.Sprintf("👤 SMB 空会话: %s\n", allowed(*r.AnonymousSMB)))
	}

	return b.String()
}

func tlsWarnings(f model.TLSFlags) []string {
	var out []string
	if f.Expired {
		out = append(out, "证书已过期")
	}
	if !f.HostnameMatch {
		out = append(out, "主机名不匹配")
	}
	if f.SelfSigned {
		out = append(out, "自签名证书")
	}
	if f.WeakCipher {
		out = append(out, "弱密码套件")
	}
	if f.WeakProtocols {
		out = append(out, "支持旧版协议")
	}
	if f.DowngradeRisk {
		out = append(out, "存在降级风险")
	}
	return out
}

func formatCSV(report *model.ScanReport) (string, error) {
	var builder strings.Builder
	writer := csv.NewWriter(&builder)

	writer.Write([]string{
		"port", "service", "product", "version", "confidence", "risk",
		"cve", "cvss", "exploit", "notes", "tls_version", "http_title", "banner",
	})

	for _, r := range report.Results {
		cve, cvss, exploit := "", "", "false"
		if r.CVE != nil {
			cve = r.CVE.CVE
			cvss = strconv.FormatFloat(r.CVE.CVSS, 'f', 1, 64)
		}
		if r.Exploit != nil {
			exploit = "true"
		}

		var notes []string
		for _, note := range r.CVENotes {
			notes = append(notes, note.CVEs...)
		}

		tlsVersion := ""
		if r.TLS != nil {
			tlsVersion = r.TLS.Version
		}

		writer.Write([]string{
			strconv.Itoa(r.Port),
			r.Service,
			r.Product,
			r.Version,
			strconv.Itoa(r.Confidence),
			r.Risk.String(),
			cve,
			cvss,
			exploit,
			strings.Join(notes, ";"),
			tlsVersion,
			r.HTTPTitle,
			r.Banner.String(),
		})
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", errors.Wrap(err, "写入 CSV 失败")
	}
	return builder.String(), nil
}

var htmlReport = template.Must(template.New("report").Funcs(template.FuncMap{
	"riskColor": riskColor,
	"version":   productVersion,
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>扫描报告 - {{.Report.Target}}</title>
<style>
body { font-family: Arial, sans-serif; background-color: #111; color: #eee; margin: 40px; }
h1, h2 { color: #4CAF50; }
table { width: 100%; border-collapse: collapse; margin-top: 20px; }
th, td { border: 1px solid #333; padding: 8px; text-align: left; }
th { background-color: #222; }
.badge { padding: 4px 8px; border-radius: 4px; font-weight: bold; color: #111; }
</style>
</head>
<body>
<h1>portintel 扫描报告</h1>
<p>目标: {{.Report.Target}} ({{.Report.StartPort}}-{{.Report.EndPort}})</p>
<p>编号: {{.Report.ID}} | 开始: {{.Started}} | 用时: {{.Duration}}</p>
{{if .Report.Interrupted}}<p style="color:#ffcc00;">扫描被中断，结果不完整</p>{{end}}
<h2 style="color:{{riskColor .Overall}};">整体风险: {{.Overall}} (暴露评分 {{printf "%.1f" .Report.ExposureScore}})</h2>
<p>严重 {{.Summary.Critical}} | 高 {{.Summary.High}} | 中 {{.Summary.Medium}} | 低 {{.Summary.Low}}</p>
<table>
<tr><th>端口</th><th>服务</th><th>版本</th><th>风险</th><th>CVE</th><th>TLS</th><th>标题</th><th>Banner</th></tr>
{{range .Report.Results}}<tr>
<td>{{.Port}}/tcp</td>
<td>{{.Service}}</td>
<td>{{version .}}</td>
<td><span class="badge" style="background-color:{{riskColor .Risk}};">{{.Risk}}</span></td>
<td>{{if .CVE}}{{.CVE.CVE}} ({{printf "%.1f" .CVE.CVSS}}){{if .Exploit}} 💣{{end}}{{end}}{{range .CVENotes}}<br>{{.Software}}: {{range $i, $c := .CVEs}}{{if $i}}, {{end}}{{$c}}{{end}}{{end}}</td>
<td>{{if .TLS}}{{.TLS.Version}} {{.TLS.Cipher.Name}}{{end}}</td>
<td>{{.HTTPTitle}}</td>
<td>{{.Banner}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))

func formatHTML(report *model.ScanReport) (string, error) {
	var builder strings.Builder
	err := htmlReport.Execute(&builder, struct {
		Report   *model.ScanReport
		Summary  risk.Summary
		Overall  model.RiskTier
		Started  string
		Duration string
	}{
		Report:   report,
		Summary:  risk.Summarize(report.Results),
		Overall:  risk.OverallTier(report.ExposureScore),
		Started:  report.StartedAt.Format("2006-01-02 15:04:05"),
		Duration: report.Duration.Round(time.Millisecond).String(),
	})
	if err != nil {
		return "", errors.Wrap(err, "渲染 HTML 报告失败")
	}
	return builder.String(), nil
}

func productVersion(r model.ScanResult) string {
	switch {
	case r.Product != "" && r.Version != "":
		return r.Product + " " + r.Version
	case r.Product != "":
		return r.Product
	}
	return "-"
}

func riskLabel(tier model.RiskTier) string {
	switch tier {
	case model.RiskCritical:
		return pterm.FgRed.Sprint("🔴 " + tier.String())
	case model.RiskHigh:
		return pterm.FgLightRed.Sprint("🟠 " + tier.String())
	case model.RiskMedium:
		return pterm.FgYellow.Sprint("🟡 " + tier.String())
	default:
		return pterm.FgGreen.Sprint("🟢 " + tier.String())
	}
}

func riskColor(tier model.RiskTier) string {
	switch tier {
	case model.RiskCritical:
		return "#ff0000"
	case model.RiskHigh:
		return "#ff4d4d"
	case model.RiskMedium:
		return "#ffcc00"
	default:
		return "#4CAF50"
	}
}

func cvssIcon(score float64) string {
	switch {
	case score >= 9.0:
		return "🔥"
	case score >= 7.0:
		return "🔴"
	case score >= 4.0:
		return "🟠"
	}
	return "⚠️"
}

func allowed(ok bool) string {
	if ok {
		return "允许"
	}
	return "拒绝"
}

// truncate 按字符截断
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
