package scanner

import (
	"context"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"portintel/internal/model"
	"portintel/internal/utils"
)

// 一次读取的最大字节数
const bannerReadSize = 2048

// ProbeOptions 连接探测参数
type ProbeOptions struct {
	DialTimeout   time.Duration
	BannerTimeout time.Duration
	// 被动读取为空时按端口发送的探测数据
	ActiveProbes map[int][]byte
	// 为空时不限速
	Limiter *rate.Limiter
	// 文件描述符耗尽时的最长重试时间
	MaxRetryElapsed time.Duration
	Logger          *utils.Logger
}

// Prober TCP 连接探测和 banner 获取
type Prober struct {
	opts   ProbeOptions
	dialer *net.Dialer
	logger *utils.Logger
}

func NewProber(opts ProbeOptions) *Prober {
	if opts.BannerTimeout <= 0 {
		opts.BannerTimeout = 2 * time.Second
	}
	if opts.MaxRetryElapsed <= 0 {
		opts.MaxRetryElapsed = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewLogger("probe")
	}
	return &Prober{
		opts:   opts,
		dialer: &net.Dialer{Timeout: opts.DialTimeout},
		logger: opts.Logger,
	}
}

// Throttle 等待限速令牌，ctx 取消时返回错误
func (p *Prober) Throttle(ctx context.Context) error {
	if p.opts.Limiter == nil {
		return ctx.Err()
	}
	return p.opts.Limiter.Wait(ctx)
}

// Probe 判断端口是否开放并尝试获取 banner
// 连接失败一律视为关闭，不返回错误
func (p *Prober) Probe(ctx context.Context, host string, port int) (bool, model.Banner) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := p.dial(ctx, addr)
	if err != nil {
		p.logger.Debug("端口 %d %s: %v", port, dialState(err), err)
		return false, model.NoBanner()
	}
	defer conn.Close()

	return true, p.grabBanner(conn, port)
}

// dial 遇到 "too many open files" 时指数退避重试，其余错误直接返回
func (p *Prober) dial(ctx context.Context, addr string) (net.Conn, error) {
	var conn net.Conn
	operation := func() error {
		c, err := p.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if isFDExhausted(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		conn = c
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = p.opts.MaxRetryElapsed

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("文件描述符不足，%v 后重试 %s", wait, addr)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// grabBanner 先被动读取，没有数据时再发送端口对应的主动探测
func (p *Prober) grabBanner(conn net.Conn, port int) model.Banner {
	buf := make([]byte, bannerReadSize)

	if text := p.read(conn, buf); text != "" {
		return model.NewBanner(text)
	}

	probe, ok := p.opts.ActiveProbes[port]
	if !ok {
		return model.NoBanner()
	}

	conn.SetWriteDeadline(time.Now().Add(p.opts.BannerTimeout))
	if _, err := conn.Write(probe); err != nil {
		p.logger.Debug("端口 %d 发送探测失败: %v", port, err)
		return model.NoBanner()
	}
	return model.NewBanner(p.read(conn, buf))
}

func (p *Prober) read(conn net.Conn, buf []byte) string {
	conn.SetReadDeadline(time.Now().Add(p.opts.BannerTimeout))
	n, _ := conn.Read(buf)
	if n <= 0 {
		return ""
	}
	return decodeBanner(buf[:n])
}

// decodeBanner 非法 UTF-8 替换为 U+FFFD 并去掉首尾空白
func decodeBanner(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), "\uFFFD"))
}

func isFDExhausted(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) ||
		strings.Contains(err.Error(), "too many open files")
}

// dialState 连接失败的大致原因，仅用于日志
func dialState(err error) string {
	var netErr net.Error
	msg := err.Error()
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return "filtered"
	case strings.Contains(msg, "refused"):
		return "closed"
	case strings.Contains(msg, "network is unreachable"), strings.Contains(msg, "no route to host"):
		return "unreachable"
	}
	return "closed"
}
