package model

import (
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidTarget 扫描参数不合法，在任何探测开始之前返回
var ErrInvalidTarget = errors.New("invalid scan target")

// ScanTarget 扫描目标与资源预算
type ScanTarget struct {
	Host          string
	StartPort     int
	EndPort       int
	Workers       int
	Timeout       time.Duration
	BannerTimeout time.Duration
	// ServerName 调用方指定的 SNI，为空时由 TLS 探测自行推断
	ServerName string
}

// Validate 校验端口范围与并发预算
func (t ScanTarget) Validate() error {
	if t.Host == "" {
		return errors.Wrap(ErrInvalidTarget, "目标地址不能为空")
	}
	if t.StartPort < 1 || t.EndPort > 65535 {
		return errors.Wrapf(ErrInvalidTarget, "端口范围必须在 1-65535 之间: %d-%d", t.StartPort, t.EndPort)
	}
	if t.StartPort > t.EndPort {
		return errors.Wrapf(ErrInvalidTarget, "起始端口不能大于结束端口: %d-%d", t.StartPort, t.EndPort)
	}
	if t.Workers <= 0 {
		return errors.Wrapf(ErrInvalidTarget, "并发数必须大于 0: %d", t.Workers)
	}
	if t.Timeout <= 0 {
		return errors.Wrapf(ErrInvalidTarget, "超时时间必须大于 0: %s", t.Timeout)
	}
	return nil
}

// Ports 返回闭区间内的全部端口，升序
func (t ScanTarget) Ports() []int {
	if t.EndPort < t.StartPort {
		return nil
	}
	ports := make([]int, 0, t.EndPort-t.StartPort+1)
	for port := t.StartPort; port <= t.EndPort; port++ {
		ports = append(ports, port)
	}
	return ports
}

// Contains 端口是否落在扫描范围内
func (t ScanTarget) Contains(port int) bool {
	return port >= t.StartPort && port <= t.EndPort
}

// DefaultWorkers 根据端口数量给出默认并发数
func DefaultWorkers(portCount int) int {
	switch {
	case portCount <= 100:
		return 50
	case portCount <= 1000:
		return 200
	default:
		return 400
	}
}
