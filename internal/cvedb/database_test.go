package cvedb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portintel/internal/model"
)

func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabaseSeedAndLoad(t *testing.T) {
	db := openTestDatabase(t)

	require.NoError(t, db.Seed(Builtin(), "builtin"))

	kb, err := db.Load()
	require.NoError(t, err)
	assert.Equal(t, Builtin(), kb)

	stats, err := db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 11, stats.Notes)
	assert.Equal(t, 2, stats.Exploits)
	assert.Equal(t, "builtin", stats.LastSource)
	assert.NotEmpty(t, stats.LastUpdate)
}

func TestDatabaseSeedIsIdempotent(t *testing.T) {
	db := openTestDatabase(t)

	require.NoError(t, db.Seed(Builtin(), "builtin"))

	updated := Builtin()
	updated.Records[1].CVSS = 8.8
	require.NoError(t, db.Seed(updated, "builtin"))

	kb, err := db.Load()
	require.NoError(t, err)
	require.Len(t, kb.Records, 3)
	assert.Equal(t, "Apache 2.2", kb.Records[1].Key, "重复写入保持原有顺序")
	assert.Equal(t, 8.8, kb.Records[1].CVSS)
	assert.Len(t, kb.Notes, 11)
}

func TestDatabaseRangeRecordsRoundTrip(t *testing.T) {
	db := openTestDatabase(t)

	kb := KnowledgeBase{Records: []model.CveRecord{
		{Product: "openssh", VersionEndExcl: "8.5", CVE: "CVE-2021-28041", CVSS: 7.1, Severity: "HIGH"},
	}}
	require.NoError(t, db.Seed(kb, "nvd"))

	loaded, err := db.Load()
	require.NoError(t, err)

	c := NewCorrelator(loaded)
	rec := c.ByProduct("OpenSSH", "8.4p1")
	require.NotNil(t, rec)
	assert.Equal(t, "CVE-2021-28041", rec.CVE)
	assert.Empty(t, loaded.Notes)
}

func TestDatabaseRejectsInvalid(t *testing.T) {
	db := openTestDatabase(t)

	err := db.Seed(KnowledgeBase{Records: []model.CveRecord{{CVE: "CVE-X"}}}, "bad")
	assert.Error(t, err)

	stats, err := db.Counts()
	require.NoError(t, err)
	assert.Zero(t, stats.Records)
	assert.Empty(t, stats.LastSource)
}
