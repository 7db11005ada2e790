package fingerprint

import (
	"os"
	"path/filepath"
	"regexp/syntax"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portintel/internal/model"
)

func newDefaultMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher(DefaultRules())
	require.NoError(t, err)
	return m
}

func TestMatchVsFTPd(t *testing.T) {
	m := newDefaultMatcher(t)

	fp := m.Match(model.NewBanner("220 vsFTPd 2.3.4 ready"), 21)
	assert.Equal(t, model.Fingerprint{Service: "FTP", Product: "vsFTPd", Version: "2.3.4", Confidence: 95}, fp)
}

func TestMatchCaseInsensitive(t *testing.T) {
	m := newDefaultMatcher(t)

	fp := m.Match(model.NewBanner("SSH-2.0-openssh_7.4p1 Debian"), 22)
	assert.Equal(t, "OpenSSH", fp.Product)
	assert.Equal(t, "7.4p1", fp.Version)
	assert.Equal(t, 95, fp.Confidence)
}

func TestMatchOptionalVersionGroup(t *testing.T) {
	m := newDefaultMatcher(t)

	fp := m.Match(model.NewBanner("HTTP/1.0 200 OK\r\nServer: nginx\r\n"), 80)
	assert.Equal(t, "nginx", fp.Product)
	assert.Empty(t, fp.Version)

	fp = m.Match(model.NewBanner("HTTP/1.1 200 OK\r\nServer: Apache/2.2.8 (Ubuntu)"), 80)
	assert.Equal(t, "Apache", fp.Product)
	assert.Equal(t, "2.2.8", fp.Version)
}

func TestMatchFallbacks(t *testing.T) {
	m := newDefaultMatcher(t)

	none := m.Match(model.NoBanner(), 21)
	assert.Equal(t, model.Fingerprint{Confidence: 0}, none)

	blank := m.Match(model.NewBanner("   \r\n"), 21)
	assert.Equal(t, 0, blank.Confidence)

	unknown := m.Match(model.NewBanner("+OK welcome to something"), 110)
	assert.Equal(t, model.Fingerprint{Confidence: 10}, unknown)
}

func TestMatchFirstRuleWins(t *testing.T) {
	m, err := NewMatcher([]model.FingerprintRule{
		{Service: "HTTP", Product: "generic", Pattern: `server`, Confidence: 20},
		{Service: "HTTP", Product: "nginx", Pattern: `nginx/([\d\.]+)`, Confidence: 90},
	})
	require.NoError(t, err)

	fp := m.Match(model.NewBanner("Server: nginx/1.20.0"), 80)
	assert.Equal(t, "generic", fp.Product)
	assert.Equal(t, 20, fp.Confidence)
}

func TestMatchDeterministic(t *testing.T) {
	m := newDefaultMatcher(t)
	banner := model.NewBanner("SSH-2.0-dropbear_2019.78")

	first := m.Match(banner, 22)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, m.Match(banner, 22))
	}
}

func TestNewMatcherInvalidPattern(t *testing.T) {
	_, err := NewMatcher([]model.FingerprintRule{{Product: "bad", Pattern: `([`}})
	require.Error(t, err)

	var synErr *syntax.Error
	assert.True(t, errors.As(err, &synErr), "应保留正则编译错误")
	assert.True(t, strings.HasPrefix(err.Error(), "编译指纹规则 #0 (bad) 失败"), err.Error())
}

func TestLoadRulesKeepsCause(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist), "应保留文件不存在的原因")
	assert.Contains(t, err.Error(), "读取指纹规则失败")

	_, err = ParseRules([]byte("rules: ["))
	require.Error(t, err)
	assert.NotEqual(t, err, errors.Cause(err), "解析错误应带上下文")
}

func TestParseRules(t *testing.T) {
	raw := []byte(`
rules:
  - service: FTP
    product: Pure-FTPd
    pattern: 'Pure-FTPd'
    confidence: 70
`)
	rules, err := ParseRules(raw)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "Pure-FTPd", rules[0].Product)
	assert.Equal(t, 70, rules[0].Confidence)

	_, err = ParseRules([]byte("rules:\n  - product: x\n    confidence: 50\n"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("rules:\n  - pattern: x\n    confidence: 150\n"))
	assert.Error(t, err)
}
