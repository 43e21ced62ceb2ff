// internal/detector/text.go
// Text protocol parsing and printable fallback decoding

package detector

import (
	"strings"
	"unicode/utf8"
)

// HTTPPlaceholder is used when an HTTP response yields no usable line
const HTTPPlaceholder = "HTTP Service"

// HTTPResponse parses an HTTP response head into "<status> | Server: <value>"
func HTTPResponse(buf []byte) string {
	if !utf8.Valid(buf) || !strings.HasPrefix(string(buf), "HTTP/") {
		return ""
	}

	var status, server string
	for i, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if i == 0 {
			// a bare version token carries no status
			if len(strings.Fields(line)) > 1 {
				status = line
			}
			continue
		}
		if line == "" {
			break // end of headers
		}
		if len(line) > 7 && strings.EqualFold(line[:7], "server:") && server == "" {
			server = strings.TrimSpace(line[7:])
		}
	}

	switch {
	case status != "" && server != "":
		return status + " | Server: " + server
	case status != "":
		return status
	case server != "":
		return "Server: " + server
	default:
		return HTTPPlaceholder
	}
}

// DecodeText returns buf as display text. Clean UTF-8 is kept with line breaks
// folded into spaces; anything else is reduced to its printable ASCII bytes.
func DecodeText(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	if isCleanText(buf) {
		return strings.Join(strings.Fields(string(buf)), " ")
	}
	return Printable(buf)
}

// isCleanText reports valid UTF-8 without control bytes other than TAB, CR and LF
func isCleanText(buf []byte) bool {
	if !utf8.Valid(buf) {
		return false
	}
	for _, b := range buf {
		if b < 0x20 && b != '\t' && b != '\r' && b != '\n' {
			return false
		}
		if b == 0x7F {
			return false
		}
	}
	return true
}

// Printable keeps graphic ASCII bytes and spaces, in order
func Printable(buf []byte) string {
	var sb strings.Builder
	sb.Grow(len(buf))
	for _, b := range buf {
		if b == ' ' || (b >= 0x21 && b <= 0x7E) {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}
