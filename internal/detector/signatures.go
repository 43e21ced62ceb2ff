// internal/detector/signatures.go
// Passive signature classification of raw connection bytes

package detector

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// Strategy inspects a buffer and returns a banner, or "" for no match.
// Strategies never perform I/O and must tolerate buffers of any length.
type Strategy struct {
	Name  string
	Match func(buf []byte) string
}

// Strategies is evaluated in order on every Classify call; first non-blank banner wins
var Strategies = []Strategy{
	{Name: "mysql-greeting", Match: mysqlStrategy},
	{Name: "rdp-confirm", Match: rdpStrategy},
	{Name: "http-response", Match: HTTPResponse},
	{Name: "text-decode", Match: DecodeText},
}

// Classify runs the strategy list against buf
func Classify(buf []byte) string {
	banner, _ := ClassifyWith(Strategies, buf)
	return banner
}

// ClassifyWith returns the first non-blank banner and the name of the strategy that produced it
func ClassifyWith(strategies []Strategy, buf []byte) (string, string) {
	for _, s := range strategies {
		if banner := s.Match(buf); strings.TrimSpace(banner) != "" {
			return banner, s.Name
		}
	}
	return "", ""
}

// MySQL greeting: protocol version 10 in the first payload byte
const mysqlProtocolV10 = 0x0A

// IsMySQLHandshake reports whether buf looks like a MySQL server greeting
func IsMySQLHandshake(buf []byte) bool {
	return len(buf) > 5 && buf[4] == mysqlProtocolV10
}

// knownAuthPlugins are the plugin name prefixes searched for after a NUL
var knownAuthPlugins = [][]byte{
	[]byte("caching_sha2_password"),
	[]byte("mysql_native_password"),
	[]byte("mysql_clear_password"),
	[]byte("mysql_old_password"),
	[]byte("sha256_password"),
	[]byte("client_ed25519"),
	[]byte("auth_gssapi_client"),
	[]byte("authentication_"),
}

// ExtractMySQLBanner builds "MySQL <version>[ <auth plugin>]" from a greeting.
// It returns "" when no NUL-terminated UTF-8 version follows offset 5.
func ExtractMySQLBanner(buf []byte) string {
	if len(buf) <= 5 {
		return ""
	}
	rest := buf[5:]
	end := bytes.IndexByte(rest, 0)
	if end <= 0 || !utf8.Valid(rest[:end]) {
		return ""
	}

	banner := "MySQL " + string(rest[:end])
	if plugin := mysqlAuthPlugin(buf); plugin != "" {
		banner += " " + plugin
	}
	return banner
}

// mysqlAuthPlugin finds the authentication plugin name, best effort
func mysqlAuthPlugin(buf []byte) string {
	for _, name := range knownAuthPlugins {
		marker := append([]byte{0}, name...)
		idx := bytes.Index(buf, marker)
		if idx < 0 {
			continue
		}
		plugin := buf[idx+1:]
		if end := bytes.IndexByte(plugin, 0); end >= 0 {
			plugin = plugin[:end]
		}
		if utf8.Valid(plugin) {
			return string(plugin)
		}
	}

	// Fall back to whatever trails the last NUL
	last := bytes.LastIndexByte(buf, 0)
	if last < 0 || last+1 >= len(buf) {
		return ""
	}
	tail := buf[last+1:]
	if !utf8.Valid(tail) {
		return ""
	}
	return strings.TrimSpace(string(tail))
}

func mysqlStrategy(buf []byte) string {
	if !IsMySQLHandshake(buf) {
		return ""
	}
	return ExtractMySQLBanner(buf)
}

// RDPLabel is returned when a TPKT-framed X.224 data TPDU is seen
const RDPLabel = "RDP Protocol Detected"

// IsRDPConfirm checks for TPKT v3 followed by an X.224 DT TPDU with EOT set
func IsRDPConfirm(buf []byte) bool {
	return len(buf) >= 7 &&
		buf[0] == 0x03 && buf[1] == 0x00 &&
		buf[4] == 0x02 && buf[5] == 0xF0 && buf[6] == 0x80
}

func rdpStrategy(buf []byte) string {
	if IsRDPConfirm(buf) {
		return RDPLabel
	}
	return ""
}
