package model

// ServiceNames 常见端口到服务名的映射，指纹未命中时兜底
var ServiceNames = map[int]string{
	21:   "FTP",
	22:   "SSH",
	23:   "Telnet",
	25:   "SMTP",
	53:   "DNS",
	80:   "HTTP",
	110:  "POP3",
	139:  "NetBIOS",
	143:  "IMAP",
	443:  "HTTPS",
	445:  "SMB",
	993:  "IMAPS",
	995:  "POP3S",
	3306: "MySQL",
	3389: "RDP",
	5432: "PostgreSQL",
	5900: "VNC",
	6379: "Redis",
	8080: "HTTP-Proxy",
	8443: "HTTPS-Alt",
}

// HighRiskPorts 远程管理和明文遗留协议
var HighRiskPorts = []int{21, 22, 23, 445, 3389}

// MediumRiskPorts 常见 Web 端口
var MediumRiskPorts = []int{80, 443, 8080}

// TLSLikelyPorts 通常直接使用 TLS 的端口
var TLSLikelyPorts = []int{
	443, 444, 465, 563, 585, 587,
	636, 989, 990, 992, 993, 994, 995,
	8443, 9443,
}

// ActiveProbes 被动读取无响应时发送的主动探测
var ActiveProbes = map[int][]byte{
	80: []byte("HEAD / HTTP/1.0\r\n\r\n"),
	25: []byte("EHLO test\r\n"),
	21: []byte("\r\n"),
}

// ServiceName 返回端口对应的常见服务名
func ServiceName(names map[int]string, port int) string {
	if name, ok := names[port]; ok {
		return name
	}
	return "Unknown"
}
