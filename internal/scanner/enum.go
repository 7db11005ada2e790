package scanner

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/stacktitan/smb/smb"

	"portintel/internal/model"
	"portintel/internal/utils"
)

var titleRegex = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// 标题页面最多读取的字节数
const maxTitleBody = 64 * 1024

// EnumOptions 匿名枚举参数
type EnumOptions struct {
	Enabled   bool
	Timeout   time.Duration
	UserAgent string
	// 为 true 时 HTTPS 服务也抓取标题
	HTTPS bool
	FTP   bool
	SMB   bool
}

// Enumerator 对已识别的服务做只读的匿名检查
type Enumerator struct {
	opts   EnumOptions
	client *http.Client
	logger *utils.Logger
}

func NewEnumerator(opts EnumOptions, logger *utils.Logger) *Enumerator {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "portintel/1.0"
	}
	if logger == nil {
		logger = utils.NewLogger("enum")
	}
	return &Enumerator{
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
				DisableKeepAlives: true,
			},
			// 只看首页本身
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Enrich 按服务类型补充枚举结果，失败只留空
func (e *Enumerator) Enrich(ctx context.Context, host string, result *model.ScanResult) {
	if !e.opts.Enabled {
		return
	}

	service := strings.ToUpper(result.Service)
	switch {
	case strings.HasPrefix(service, "HTTPS"):
		if e.opts.HTTPS {
			result.HTTPTitle = e.HTTPTitle(ctx, host, result.Port, true)
		}
	case strings.HasPrefix(service, "HTTP"):
		result.HTTPTitle = e.HTTPTitle(ctx, host, result.Port, false)
	case service == "FTP":
		if e.opts.FTP {
			if ok, err := e.AnonymousFTP(host, result.Port); err == nil {
				result.AnonymousFTP = &ok
			}
		}
	case service == "SMB":
		if e.opts.SMB {
			if ok, err := e.AnonymousSMB(ctx, host, result.Port); err == nil {
				result.AnonymousSMB = &ok
			}
		}
	}
}

// HTTPTitle 请求首页并提取 <title>
func (e *Enumerator) HTTPTitle(ctx context.Context, host string, port int, useTLS bool) string {
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(host, strconv.Itoa(port)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)
	req.Header.Set("Accept", "text/html,*/*")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Debug("获取标题失败 %s: %v", url, err)
		return ""
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTitleBody))
	if err != nil && len(body) == 0 {
		return ""
	}
	return extractTitle(body)
}

func extractTitle(body []byte) string {
	m := titleRegex.FindSubmatch(body)
	if m == nil {
		return ""
	}
	title := html.UnescapeString(string(m[1]))
	return strings.Join(strings.Fields(strings.ToValidUTF8(title, "\uFFFD")), " ")
}

// AnonymousFTP 尝试 anonymous/anonymous 登录
// 返回 (false, nil) 表示服务器拒绝匿名登录，error 表示连接本身失败
func (e *Enumerator) AnonymousFTP(host string, port int) (bool, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(e.opts.Timeout))
	if err != nil {
		e.logger.Debug("FTP 连接失败 %s: %v", addr, err)
		return false, err
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		// 530 登录被拒绝
		if strings.HasPrefix(err.Error(), "530") {
			return false, nil
		}
		return false, err
	}
	conn.Logout()
	return true, nil
}

// AnonymousSMB 尝试空会话，成功说明允许匿名访问
// smb 库不支持 ctx，超时由 select 控制，超时后后台连接会自行结束
func (e *Enumerator) AnonymousSMB(ctx context.Context, host string, port int) (bool, error) {
	type outcome struct {
		ok  bool
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		session, err := smb.NewSession(smb.Options{
			Host: host,
			Port: port,
		}, false)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		defer session.Close()
		done <- outcome{ok: session.IsAuthenticated}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-done:
		if res.err != nil && strings.Contains(strings.ToLower(res.err.Error()), "logon") {
			// 认证失败，说明服务可达但拒绝空会话
			return false, nil
		}
		return res.ok, res.err
	}
}
