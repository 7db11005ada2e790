package cvedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portintel/internal/model"
)

func TestByProductBuiltin(t *testing.T) {
	c := NewCorrelator(Builtin())

	rec := c.ByProduct("vsFTPd", "2.3.4")
	require.NotNil(t, rec)
	assert.Equal(t, "CVE-2011-2523", rec.CVE)
	assert.Equal(t, 9.8, rec.CVSS)
	assert.True(t, rec.Exploit)

	rec = c.ByProduct("Apache", "2.2.8")
	require.NotNil(t, rec)
	assert.Equal(t, 8.5, rec.CVSS)

	rec = c.ByProduct("OpenSSH", "4.7p1")
	require.NotNil(t, rec)
	assert.Equal(t, "CVE-2008-4109", rec.CVE)
}

func TestByProductRequiresBoth(t *testing.T) {
	c := NewCorrelator(Builtin())

	assert.Nil(t, c.ByProduct("vsFTPd", ""))
	assert.Nil(t, c.ByProduct("", "2.3.4"))
	assert.Nil(t, c.ByProduct("nginx", "1.25.3"))
}

func TestByProductContainmentIsCaseSensitive(t *testing.T) {
	c := NewCorrelator(Builtin())
	assert.Nil(t, c.ByProduct("vsftpd", "2.3.4"))
}

func TestByProductFirstRecordWins(t *testing.T) {
	c := NewCorrelator(KnowledgeBase{Records: []model.CveRecord{
		{Key: "nginx 1.2", CVE: "CVE-A", CVSS: 5.0},
		{Key: "nginx 1.20", CVE: "CVE-B", CVSS: 9.0},
	}})

	rec := c.ByProduct("nginx", "1.20.1")
	require.NotNil(t, rec)
	assert.Equal(t, "CVE-A", rec.CVE)
}

func TestByProductReturnsSnapshot(t *testing.T) {
	kb := Builtin()
	c := NewCorrelator(kb)

	kb.Records[0].CVSS = 1.0
	rec := c.ByProduct("vsFTPd", "2.3.4")
	require.NotNil(t, rec)
	assert.Equal(t, 9.8, rec.CVSS, "构造后修改原始表不应影响关联结果")

	rec.CVSS = 0
	again := c.ByProduct("vsFTPd", "2.3.4")
	assert.Equal(t, 9.8, again.CVSS, "返回值是拷贝")
}

func TestByProductVersionRange(t *testing.T) {
	c := NewCorrelator(KnowledgeBase{Records: []model.CveRecord{
		{Product: "http_server", VersionStart: "2.4.49", VersionEnd: "2.4.49", CVE: "CVE-2021-41773", CVSS: 7.5},
		{Product: "openssh", VersionEndExcl: "8.5", CVE: "CVE-2021-28041", CVSS: 7.1},
		{Product: "nginx", CVE: "CVE-ANY", CVSS: 9.9},
	}})

	rec := c.ByProduct("Apache", "2.4.49")
	require.NotNil(t, rec)
	assert.Equal(t, "CVE-2021-41773", rec.CVE)

	assert.Nil(t, c.ByProduct("Apache", "2.4.51"))

	rec = c.ByProduct("OpenSSH", "8.4p1")
	require.NotNil(t, rec)
	assert.Equal(t, "CVE-2021-28041", rec.CVE)
	assert.Nil(t, c.ByProduct("OpenSSH", "8.5"))

	assert.Nil(t, c.ByProduct("nginx", "1.0"), "没有版本区间的记录不参与匹配")
}

func TestByBannerCollectsAll(t *testing.T) {
	c := NewCorrelator(KnowledgeBase{Notes: []model.VulnNote{
		{Software: "vsftpd", CVEs: []string{"CVE-1"}},
		{Software: "vsFTPd 2.3.4", CVEs: []string{"CVE-2"}},
		{Software: "OpenSSH", CVEs: []string{"CVE-3"}},
	}})

	notes := c.ByBanner(model.NewBanner("220 (vsFTPd 2.3.4)"))
	require.Len(t, notes, 2)
	assert.Equal(t, "vsftpd", notes[0].Software)
	assert.Equal(t, "vsFTPd 2.3.4", notes[1].Software)
}

func TestByBannerEmpty(t *testing.T) {
	c := NewCorrelator(Builtin())
	assert.Empty(t, c.ByBanner(model.NoBanner()))
	assert.Empty(t, c.ByBanner(model.NewBanner("SSH-2.0-OpenSSH_9.6")))
}

func TestPathsAreIndependent(t *testing.T) {
	c := NewCorrelator(Builtin())
	banner := model.NewBanner("220 vsFTPd 2.3.4 ready")

	rec := c.ByProduct("vsFTPd", "2.3.4")
	notes := c.ByBanner(banner)
	require.NotNil(t, rec)
	require.Len(t, notes, 1)
	assert.Equal(t, rec.CVE, notes[0].CVEs[0])
}

func TestKnowledgeBaseValidate(t *testing.T) {
	assert.NoError(t, Builtin().Validate())

	bad := KnowledgeBase{Records: []model.CveRecord{{CVE: "CVE-X", CVSS: 5}}}
	assert.Error(t, bad.Validate())

	bad = KnowledgeBase{Records: []model.CveRecord{{Key: "x", CVSS: 11}}}
	assert.Error(t, bad.Validate())

	bad = KnowledgeBase{Notes: []model.VulnNote{{Notes: "x"}}}
	assert.Error(t, bad.Validate())
}
