// internal/detector/services.go
// Static well-known port to service name table

package detector

// serviceTable is built once at package init and never mutated
var serviceTable = map[int]string{
	21:    "FTP",
	22:    "SSH",
	23:    "Telnet",
	25:    "SMTP",
	53:    "DNS",
	80:    "HTTP",
	81:    "HTTP",
	110:   "POP3",
	111:   "RPCBind",
	135:   "MSRPC",
	139:   "NetBIOS-SSN",
	143:   "IMAP",
	161:   "SNMP",
	389:   "LDAP",
	443:   "HTTPS",
	445:   "SMB",
	465:   "SMTPS",
	587:   "SMTP Submission",
	873:   "Rsync",
	993:   "IMAPS",
	995:   "POP3S",
	1080:  "SOCKS",
	1433:  "MSSQL",
	1521:  "Oracle",
	2049:  "NFS",
	2181:  "ZooKeeper",
	2375:  "Docker API",
	3306:  "MySQL",
	3389:  "RDP",
	5000:  "HTTP",
	5432:  "PostgreSQL",
	5601:  "Kibana",
	5900:  "VNC",
	5985:  "WinRM",
	6379:  "Redis",
	7001:  "WebLogic",
	8000:  "HTTP",
	8080:  "HTTP-Proxy",
	8081:  "HTTP",
	8443:  "HTTPS-Alt",
	8888:  "HTTP",
	9000:  "HTTP",
	9090:  "HTTP",
	9200:  "Elasticsearch",
	9300:  "Elasticsearch Transport",
	11211: "Memcached",
	27017: "MongoDB",
}

// ServiceName returns the well-known service label for port
func ServiceName(port int) (string, bool) {
	name, ok := serviceTable[port]
	return name, ok
}
