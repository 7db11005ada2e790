package cvedb

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"portintel/internal/model"
	"portintel/internal/utils"
)

// Database 本地 sqlite 漏洞快照，扫描前一次性加载
type Database struct {
	db     *sqlx.DB
	path   string
	logger *utils.Logger
}

// Stats 知识库统计
type Stats struct {
	Records    int    `db:"records" json:"records"`
	Notes      int    `db:"notes" json:"notes"`
	Exploits   int    `db:"exploits" json:"exploits"`
	LastSource string `db:"last_source" json:"last_source"`
	LastUpdate string `db:"last_update" json:"last_update"`
}

type noteRow struct {
	Software string `db:"software"`
	CVEs     string `db:"cves"`
	Severity string `db:"severity"`
	Notes    string `db:"notes"`
}

const schema = `
CREATE TABLE IF NOT EXISTS cve_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	match_key TEXT NOT NULL DEFAULT '',
	product TEXT NOT NULL DEFAULT '',
	version_start TEXT NOT NULL DEFAULT '',
	version_end TEXT NOT NULL DEFAULT '',
	version_end_excl TEXT NOT NULL DEFAULT '',
	cve_id TEXT NOT NULL,
	cvss_score REAL NOT NULL DEFAULT 0,
	severity TEXT NOT NULL DEFAULT '',
	exploit BOOLEAN NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	UNIQUE (match_key, product, version_start, version_end, version_end_excl, cve_id)
);

CREATE INDEX IF NOT EXISTS idx_cve_records_product ON cve_records(product);

CREATE TABLE IF NOT EXISTS vuln_notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	software TEXT UNIQUE NOT NULL,
	cves TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS update_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	last_update TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	source TEXT,
	records_added INTEGER
);
`

// Open 打开（不存在则创建）漏洞库
func Open(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "创建数据库目录失败")
		}
	}

	db, err := sqlx.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "打开数据库失败")
	}
	// sqlite 单写者
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "初始化数据表失败")
	}

	return &Database{
		db:     db,
		path:   dbPath,
		logger: utils.NewLogger("cvedb"),
	}, nil
}

// Seed 在一个事务内写入知识库，重复条目原地更新，保持原有顺序
func (d *Database) Seed(kb KnowledgeBase, source string) error {
	if err := kb.Validate(); err != nil {
		return err
	}

	tx, err := d.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "开启事务失败")
	}
	defer tx.Rollback()

	for _, rec := range kb.Records {
		_, err := tx.NamedExec(`
			INSERT INTO cve_records
			(match_key, product, version_start, version_end, version_end_excl, cve_id, cvss_score, severity, exploit, description)
			VALUES (:match_key, :product, :version_start, :version_end, :version_end_excl, :cve_id, :cvss_score, :severity, :exploit, :description)
			ON CONFLICT (match_key, product, version_start, version_end, version_end_excl, cve_id)
			DO UPDATE SET cvss_score = excluded.cvss_score, severity = excluded.severity,
				exploit = excluded.exploit, description = excluded.description`, rec)
		if err != nil {
			return errors.Wrapf(err, "写入漏洞记录 %s 失败", rec.CVE)
		}
	}

	for _, note := range kb.Notes {
		row := noteRow{
			Software: note.Software,
			CVEs:     strings.Join(note.CVEs, ","),
			Severity: note.Severity,
			Notes:    note.Notes,
		}
		_, err := tx.NamedExec(`
			INSERT INTO vuln_notes (software, cves, severity, notes)
			VALUES (:software, :cves, :severity, :notes)
			ON CONFLICT (software)
			DO UPDATE SET cves = excluded.cves, severity = excluded.severity, notes = excluded.notes`, row)
		if err != nil {
			return errors.Wrapf(err, "写入漏洞备注 %s 失败", note.Software)
		}
	}

	added := len(kb.Records) + len(kb.Notes)
	if _, err := tx.Exec(`INSERT INTO update_history (source, records_added) VALUES (?, ?)`, source, added); err != nil {
		return errors.Wrap(err, "记录更新历史失败")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "提交事务失败")
	}
	d.logger.Info("漏洞库写入完成: %d 条记录, %d 条备注 (来源 %s)", len(kb.Records), len(kb.Notes), source)
	return nil
}

// Load 按写入顺序读出完整知识库
func (d *Database) Load() (KnowledgeBase, error) {
	var kb KnowledgeBase

	if err := d.db.Select(&kb.Records, `
		SELECT match_key, product, version_start, version_end, version_end_excl,
			cve_id, cvss_score, severity, exploit, description
		FROM cve_records ORDER BY id`); err != nil {
		return kb, errors.Wrap(err, "读取漏洞记录失败")
	}

	var rows []noteRow
	if err := d.db.Select(&rows, `SELECT software, cves, severity, notes FROM vuln_notes ORDER BY id`); err != nil {
		return kb, errors.Wrap(err, "读取漏洞备注失败")
	}
	for _, row := range rows {
		note := model.VulnNote{Software: row.Software, Severity: row.Severity, Notes: row.Notes}
		if row.CVEs != "" {
			note.CVEs = strings.Split(row.CVEs, ",")
		}
		kb.Notes = append(kb.Notes, note)
	}

	return kb, nil
}

// Counts 统计记录数、备注数和最近一次更新
func (d *Database) Counts() (Stats, error) {
	var stats Stats
	err := d.db.Get(&stats, `
		SELECT
			(SELECT COUNT(*) FROM cve_records) AS records,
			(SELECT COUNT(*) FROM vuln_notes) AS notes,
			(SELECT COUNT(*) FROM cve_records WHERE exploit) AS exploits,
			COALESCE((SELECT source FROM update_history ORDER BY id DESC LIMIT 1), '') AS last_source,
			COALESCE((SELECT CAST(last_update AS TEXT) FROM update_history ORDER BY id DESC LIMIT 1), '') AS last_update`)
	if err != nil {
		return stats, errors.Wrap(err, "统计漏洞库失败")
	}
	return stats, nil
}

// Path 数据库文件路径
func (d *Database) Path() string {
	return d.path
}

func (d *Database) Close() error {
	return d.db.Close()
}
