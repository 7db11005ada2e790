package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portintel/internal/cvedb"
	"portintel/internal/fingerprint"
	"portintel/internal/model"
	"portintel/internal/risk"
	"portintel/internal/testutil"
)

// fakeProber 按表返回端口状态，未列出的端口视为关闭
type fakeProber struct {
	banners map[int]string
	panics  map[int]bool
	delay   time.Duration
	probed  sync.Map
	calls   atomic.Int32
}

func (f *fakeProber) Throttle(ctx context.Context) error {
	return ctx.Err()
}

func (f *fakeProber) Probe(ctx context.Context, host string, port int) (bool, model.Banner) {
	f.calls.Add(1)
	f.probed.Store(port, true)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics[port] {
		panic("boom")
	}
	banner, ok := f.banners[port]
	if !ok {
		return false, model.NoBanner()
	}
	return true, model.NewBanner(banner)
}

type fakeTLS struct {
	err   error
	calls atomic.Int32
}

func (f *fakeTLS) Assess(ctx context.Context, host string, port int, serverName string) (*model.TLSAssessment, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &model.TLSAssessment{Version: model.TLSv13, ServerName: serverName}, nil
}

func newTestScanner(t *testing.T, probe PortProber, tls TLSAssessor) *PortScanner {
	t.Helper()
	matcher, err := fingerprint.NewMatcher(fingerprint.DefaultRules())
	require.NoError(t, err)
	return NewPortScanner(Dependencies{
		Probe:        probe,
		Matcher:      matcher,
		Correlator:   cvedb.NewCorrelator(cvedb.Builtin()),
		Scorer:       risk.NewDefaultScorer(),
		TLS:          tls,
		ServiceNames: model.ServiceNames,
		TLSPorts:     model.TLSLikelyPorts,
	}, nil)
}

func target(start, end int) model.ScanTarget {
	return model.ScanTarget{
		Host:      "127.0.0.1",
		StartPort: start,
		EndPort:   end,
		Workers:   8,
		Timeout:   time.Second,
	}
}

func ports(results []model.ScanResult) []int {
	out := make([]int, 0, len(results))
	for _, r := range results {
		out = append(out, r.Port)
	}
	return out
}

func TestScanVsftpdScenario(t *testing.T) {
	probe := &fakeProber{banners: map[int]string{21: "220 vsFTPd 2.3.4 ready"}}
	report, err := newTestScanner(t, probe, nil).Scan(context.Background(), target(1, 100))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	assert.Equal(t, 21, res.Port)
	assert.Equal(t, "FTP", res.Service)
	assert.Equal(t, "vsFTPd", res.Product)
	assert.Equal(t, "2.3.4", res.Version)
	assert.Equal(t, 95, res.Confidence)
	require.NotNil(t, res.CVE)
	assert.Equal(t, "CVE-2011-2523", res.CVE.CVE)
	assert.Equal(t, model.RiskCritical, res.Risk)
	require.NotNil(t, res.Exploit)
	assert.Equal(t, "https://nvd.nist.gov/vuln/detail/CVE-2011-2523", res.Exploit.Reference)
	require.Len(t, res.CVENotes, 1)

	assert.NotEmpty(t, report.ID)
	assert.False(t, report.Interrupted)
	assert.InDelta(t, 10.0, report.ExposureScore, 0.11)
}

func TestScanRefusedPortOmitted(t *testing.T) {
	probe := &fakeProber{banners: map[int]string{22: "SSH-2.0-OpenSSH_9.6"}}
	report, err := newTestScanner(t, probe, nil).Scan(context.Background(), target(9990, 10000))
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	_, probed := probe.probed.Load(9999)
	assert.True(t, probed)
	assert.Equal(t, int32(11), probe.calls.Load())
}

func TestScanOnlyProbesRange(t *testing.T) {
	probe := &fakeProber{banners: map[int]string{
		22:   "SSH-2.0-OpenSSH_4.7p1",
		80:   "Server: Apache/2.2.8",
		8080: "Server: nginx/1.25",
	}}
	report, err := newTestScanner(t, probe, nil).Scan(context.Background(), target(20, 100))
	require.NoError(t, err)

	assert.Equal(t, []int{22, 80}, ports(report.Results))
	_, probed := probe.probed.Load(8080)
	assert.False(t, probed)
}

func TestScanOrdering(t *testing.T) {
	probe := &fakeProber{banners: map[int]string{
		21:   "220 vsFTPd 2.3.4",
		22:   "SSH-2.0-OpenSSH_9.6",
		23:   "login:",
		25:   "220 mail ESMTP Exim 4.96",
		80:   "Server: Apache/2.2.8",
		443:  "",
		8080: "Server: nginx/1.25",
		3306: "mysql",
	}}

	var first []int
	for i := 0; i < 3; i++ {
		report, err := newTestScanner(t, probe, nil).Scan(context.Background(), target(1, 8080))
		require.NoError(t, err)

		got := ports(report.Results)
		assert.Equal(t, []int{21, 22, 23, 80, 443, 8080, 25, 3306}, got)
		if first == nil {
			first = got
		}
		assert.Equal(t, first, got, "不同完成顺序下排序结果一致")

		for j := 1; j < len(report.Results); j++ {
			assert.LessOrEqual(t, report.Results[j-1].Risk, report.Results[j].Risk)
		}
	}
}

func TestScanCVEOverridesBaseline(t *testing.T) {
	probe := &fakeProber{banners: map[int]string{
		22:   "SSH-2.0-OpenSSH_4.7p1", // 7.5
		8080: "Server: Apache/2.2.8",  // 8.5
	}}
	s := newTestScanner(t, probe, nil)

	report, err := s.Scan(context.Background(), target(22, 22))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, model.RiskHigh, report.Results[0].Risk)
	assert.Nil(t, report.Results[0].Exploit, "该记录没有公开利用")

	report, err = s.Scan(context.Background(), target(8080, 8080))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, model.RiskHigh, report.Results[0].Risk)
	require.NotNil(t, report.Results[0].Exploit)
	assert.Empty(t, report.Results[0].Exploit.Reference, "非标准编号没有链接")
}

func TestScanServiceFallback(t *testing.T) {
	probe := &fakeProber{banners: map[int]string{
		3306:  "5.7.33-log",
		31337: "",
	}}
	report, err := newTestScanner(t, probe, nil).Scan(context.Background(), target(3306, 31337))
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	assert.Equal(t, "MySQL", report.Results[0].Service)
	assert.Equal(t, 10, report.Results[0].Confidence)
	assert.Equal(t, "Unknown", report.Results[1].Service)
	assert.Equal(t, 0, report.Results[1].Confidence)
	assert.False(t, report.Results[1].Banner.Present())
}

func TestScanInvalidTarget(t *testing.T) {
	probe := &fakeProber{}
	s := newTestScanner(t, probe, nil)

	for _, tgt := range []model.ScanTarget{
		target(0, 10),
		target(10, 70000),
		target(100, 10),
		{Host: "127.0.0.1", StartPort: 1, EndPort: 10, Workers: 0, Timeout: time.Second},
		{Host: "", StartPort: 1, EndPort: 10, Workers: 1, Timeout: time.Second},
	} {
		report, err := s.Scan(context.Background(), tgt)
		assert.Nil(t, report)
		assert.True(t, errors.Is(err, model.ErrInvalidTarget), "%+v", tgt)
	}
	assert.Zero(t, probe.calls.Load(), "参数错误时不应发起任何探测")
}

func TestScanPanicIsolated(t *testing.T) {
	probe := &fakeProber{
		banners: map[int]string{21: "220 vsFTPd 2.3.4", 22: "SSH-2.0-OpenSSH_9.6", 23: "login:"},
		panics:  map[int]bool{22: true},
	}
	report, err := newTestScanner(t, probe, nil).Scan(context.Background(), target(20, 25))
	require.NoError(t, err)
	assert.Equal(t, []int{21, 23}, ports(report.Results))
}

func TestScanCancelled(t *testing.T) {
	banners := make(map[int]string)
	for p := 1; p <= 2000; p++ {
		banners[p] = "open"
	}
	probe := &fakeProber{banners: banners, delay: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	tgt := target(1, 2000)
	tgt.Workers = 4
	report, err := newTestScanner(t, probe, nil).Scan(ctx, tgt)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.True(t, report.Interrupted)
	assert.Less(t, len(report.Results), 2000)
	for _, r := range report.Results {
		assert.True(t, r.Port >= 1 && r.Port <= 2000)
	}
}

func TestScanTLSPorts(t *testing.T) {
	probe := &fakeProber{banners: map[int]string{443: "", 8443: "", 80: "Server: nginx/1.25"}}
	tls := &fakeTLS{}

	tgt := target(1, 9000)
	tgt.ServerName = "example.com"
	report, err := newTestScanner(t, probe, tls).Scan(context.Background(), tgt)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	assert.Equal(t, int32(2), tls.calls.Load())
	for _, r := range report.Results {
		if r.Port == 80 {
			assert.Nil(t, r.TLS)
			continue
		}
		require.NotNil(t, r.TLS, "端口 %d", r.Port)
		assert.Equal(t, "example.com", r.TLS.ServerName)
	}
}

func TestScanTLSErrorDegrades(t *testing.T) {
	probe := &fakeProber{banners: map[int]string{443: ""}}
	tls := &fakeTLS{err: errors.New("handshake failure")}

	report, err := newTestScanner(t, probe, tls).Scan(context.Background(), target(443, 443))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Nil(t, report.Results[0].TLS)
	assert.Equal(t, model.RiskMedium, report.Results[0].Risk)
}

func TestScanReportsProgress(t *testing.T) {
	probe := &fakeProber{banners: map[int]string{21: "220 vsFTPd 2.3.4", 80: ""}}
	s := newTestScanner(t, probe, nil)

	var (
		mu    sync.Mutex
		calls []int
		total int
	)
	s.deps.Progress = func(done, n int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, done)
		total = n
	}

	report, err := s.Scan(context.Background(), target(1, 100))
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 100, total)
	require.Len(t, calls, 100, "关闭的端口也计入进度")
	for i, done := range calls {
		assert.Equal(t, i+1, done)
	}
}

func TestScanRealSockets(t *testing.T) {
	srv := testutil.NewBannerServer("220 ProFTPD 1.3.5 Server (Debian)\r\n")
	require.NoError(t, srv.Start())
	defer srv.Stop()

	matcher, err := fingerprint.NewMatcher(fingerprint.DefaultRules())
	require.NoError(t, err)
	s := NewPortScanner(Dependencies{
		Probe: NewProber(ProbeOptions{
			DialTimeout:   time.Second,
			BannerTimeout: 500 * time.Millisecond,
		}),
		Matcher:    matcher,
		Correlator: cvedb.NewCorrelator(cvedb.Builtin()),
		Scorer:     risk.NewDefaultScorer(),
	}, nil)

	report, err := s.Scan(context.Background(), target(srv.Port(), srv.Port()))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	assert.Equal(t, "ProFTPD", res.Product)
	assert.Equal(t, "1.3.5", res.Version)
	assert.Nil(t, res.CVE)
	require.Len(t, res.CVENotes, 1)
	assert.Equal(t, "CVE-2015-3306", res.CVENotes[0].CVEs[0])
	assert.Equal(t, model.RiskLow, res.Risk)
}
