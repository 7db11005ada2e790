package cvedb

import "portintel/internal/model"

// Builtin 内置的漏洞快照，未配置外部知识库时使用
func Builtin() KnowledgeBase {
	return KnowledgeBase{
		Records: []model.CveRecord{
			{
				Key:         "vsFTPd 2.3.4",
				CVE:         "CVE-2011-2523",
				CVSS:        9.8,
				Severity:    "CRITICAL",
				Exploit:     true,
				Description: "Backdoor command execution vulnerability",
			},
			{
				Key:         "Apache 2.2",
				CVE:         "Multiple CVEs",
				CVSS:        8.5,
				Severity:    "HIGH",
				Exploit:     true,
				Description: "Outdated Apache 2.2.x vulnerabilities",
			},
			{
				Key:         "OpenSSH 4.7",
				CVE:         "CVE-2008-4109",
				CVSS:        7.5,
				Severity:    "HIGH",
				Exploit:     false,
				Description: "User enumeration vulnerability",
			},
		},
		Notes: []model.VulnNote{
			{Software: "vsFTPd 2.3.4", CVEs: []string{"CVE-2011-2523"}, Severity: "CRITICAL", Notes: "Backdoored release, smiley-face username spawns a root shell on 6200/tcp"},
			{Software: "ProFTPD 1.3.5", CVEs: []string{"CVE-2015-3306"}, Severity: "CRITICAL", Notes: "mod_copy allows unauthenticated file copy"},
			{Software: "OpenSSH_4.7", CVEs: []string{"CVE-2008-4109"}, Severity: "HIGH", Notes: "Signal handler race, user enumeration"},
			{Software: "OpenSSH_7.2", CVEs: []string{"CVE-2016-6210"}, Severity: "MEDIUM", Notes: "Username enumeration through timing"},
			{Software: "Apache/2.4.49", CVEs: []string{"CVE-2021-41773"}, Severity: "CRITICAL", Notes: "Path traversal and RCE with mod_cgi"},
			{Software: "Apache/2.4.50", CVEs: []string{"CVE-2021-42013"}, Severity: "CRITICAL", Notes: "Incomplete fix for CVE-2021-41773"},
			{Software: "nginx/1.20.0", CVEs: []string{"CVE-2021-23017"}, Severity: "HIGH", Notes: "Resolver off-by-one write"},
			{Software: "Microsoft-IIS/6.0", CVEs: []string{"CVE-2017-7269"}, Severity: "CRITICAL", Notes: "WebDAV ScStoragePathFromUrl buffer overflow"},
			{Software: "Exim 4.87", CVEs: []string{"CVE-2019-10149"}, Severity: "CRITICAL", Notes: "Remote command execution in deliver_message"},
			{Software: "Samba 3.0.20", CVEs: []string{"CVE-2007-2447"}, Severity: "CRITICAL", Notes: "username map script command injection"},
			{Software: "UnrealIRCd 3.2.8.1", CVEs: []string{"CVE-2010-2075"}, Severity: "CRITICAL", Notes: "Backdoored source distribution"},
		},
	}
}
