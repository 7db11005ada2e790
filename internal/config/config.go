package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"portintel/internal/model"
	"portintel/internal/utils"
)

// 环境变量前缀，例如 PORTINTEL_SCAN_WORKERS
const EnvPrefix = "PORTINTEL"

// ErrInvalidConfig 配置内容不合法
var ErrInvalidConfig = errors.New("invalid config")

// 漏洞库来源
const (
	SourceBuiltin = "builtin"
	SourceYAML    = "yaml"
	SourceSQLite  = "sqlite"
)

// Config 扫描器配置
type Config struct {
	Scan        ScanConfig        `yaml:"scan" mapstructure:"scan"`
	TLS         TLSConfig         `yaml:"tls" mapstructure:"tls"`
	Enum        EnumConfig        `yaml:"enum" mapstructure:"enum"`
	Knowledge   KnowledgeConfig   `yaml:"knowledge" mapstructure:"knowledge"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" mapstructure:"fingerprint"`
	Log         utils.LogConfig   `yaml:"log" mapstructure:"log"`
}

// ScanConfig 端口扫描参数
type ScanConfig struct {
	Workers         int           `yaml:"workers" mapstructure:"workers"` // 0 表示按端口数量自动选择
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	BannerTimeout   time.Duration `yaml:"banner_timeout" mapstructure:"banner_timeout"`
	Rate            int           `yaml:"rate" mapstructure:"rate"` // 每秒新建连接数，0 不限速
	Burst           int           `yaml:"burst" mapstructure:"burst"`
	MaxRetryElapsed time.Duration `yaml:"max_retry_elapsed" mapstructure:"max_retry_elapsed"`
	ServerName      string        `yaml:"server_name" mapstructure:"server_name"`
}

// TLSConfig TLS 评估参数
type TLSConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// EnumConfig 匿名服务枚举参数
type EnumConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent string        `yaml:"user_agent" mapstructure:"user_agent"`
	HTTPS     bool          `yaml:"https" mapstructure:"https"`
	FTP       bool          `yaml:"ftp" mapstructure:"ftp"`
	SMB       bool          `yaml:"smb" mapstructure:"smb"`
}

// KnowledgeConfig 漏洞库来源
type KnowledgeConfig struct {
	Source string `yaml:"source" mapstructure:"source"` // builtin, yaml, sqlite
	Path   string `yaml:"path" mapstructure:"path"`
}

// FingerprintConfig 指纹规则
type FingerprintConfig struct {
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"` // 为空时使用内置规则
}

// Load 读取配置文件、环境变量和默认值
// path 为空时在 ./configs 和当前目录查找 portintel.yaml，找不到就只用默认值
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "读取配置文件 %s 失败", path)
		}
	} else {
		v.SetConfigName("portintel")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "读取配置文件失败")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "解析配置失败")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 只包含默认值的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// 默认值都是合法类型，不会失败
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scan.workers", 0)
	v.SetDefault("scan.timeout", "1s")
	v.SetDefault("scan.banner_timeout", "2s")
	v.SetDefault("scan.rate", 0)
	v.SetDefault("scan.burst", 1)
	v.SetDefault("scan.max_retry_elapsed", "10s")
	v.SetDefault("scan.server_name", "")

	v.SetDefault("tls.enabled", true)
	v.SetDefault("tls.timeout", "5s")

	v.SetDefault("enum.enabled", true)
	v.SetDefault("enum.timeout", "3s")
	v.SetDefault("enum.user_agent", "portintel/1.0")
	v.SetDefault("enum.https", false)
	v.SetDefault("enum.ftp", true)
	v.SetDefault("enum.smb", true)

	v.SetDefault("knowledge.source", SourceBuiltin)
	v.SetDefault("knowledge.path", "data/portintel.db")

	v.SetDefault("fingerprint.rules_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.file_path", "logs/portintel.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Scan.Workers < 0 {
		return errors.Wrapf(ErrInvalidConfig, "scan.workers 不能为负数: %d", c.Scan.Workers)
	}
	if c.Scan.Timeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "scan.timeout 必须大于 0: %s", c.Scan.Timeout)
	}
	if c.Scan.BannerTimeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "scan.banner_timeout 必须大于 0: %s", c.Scan.BannerTimeout)
	}
	if c.Scan.Rate < 0 {
		return errors.Wrapf(ErrInvalidConfig, "scan.rate 不能为负数: %d", c.Scan.Rate)
	}
	if c.TLS.Enabled && c.TLS.Timeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "tls.timeout 必须大于 0: %s", c.TLS.Timeout)
	}
	if c.Enum.Enabled && c.Enum.Timeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "enum.timeout 必须大于 0: %s", c.Enum.Timeout)
	}

	switch c.Knowledge.Source {
	case SourceBuiltin:
	case SourceYAML, SourceSQLite:
		if c.Knowledge.Path == "" {
			return errors.Wrapf(ErrInvalidConfig, "knowledge.source 为 %s 时必须指定 knowledge.path", c.Knowledge.Source)
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "不支持的漏洞库来源: %s", c.Knowledge.Source)
	}
	return nil
}

// ToTarget 生成扫描目标，未指定并发数时按端口数量选择
func (c *Config) ToTarget(host string, startPort, endPort int) model.ScanTarget {
	workers := c.Scan.Workers
	if workers == 0 {
		workers = model.DefaultWorkers(endPort - startPort + 1)
	}
	return model.ScanTarget{
		Host:          host,
		StartPort:     startPort,
		EndPort:       endPort,
		Workers:       workers,
		Timeout:       c.Scan.Timeout,
		BannerTimeout: c.Scan.BannerTimeout,
		ServerName:    c.Scan.ServerName,
	}
}
