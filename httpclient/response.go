package httpclient

import (
	"strconv"
	"strings"

	"github.com/bpcore/flowproxy/istream"
)

// responseState is spec §3/§4.H.2's response FSM: STATUS → HEADERS →
// BODY → END.
type responseState int

const (
	stateStatus responseState = iota
	stateHeaders
	stateBody
	stateEnd
)

// Status is a parsed HTTP/1.1 status line.
type Status struct {
	Code   int
	Reason string
}

func parseStatusLine(line string) (Status, error) {
	// "HTTP/x.y SSS Reason"
	const prefix = "HTTP/"
	if !strings.HasPrefix(line, prefix) {
		return Status{}, istream.NewError("GARBAGE", "malformed HTTP status line", true, nil)
	}
	rest := line[len(prefix):]
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return Status{}, istream.NewError("GARBAGE", "malformed HTTP status line", true, nil)
	}
	version := rest[:sp]
	if !strings.Contains(version, ".") {
		return Status{}, istream.NewError("GARBAGE", "invalid HTTP version", true, nil)
	}
	rest = strings.TrimLeft(rest[sp+1:], " ")
	codeStr := rest
	reason := ""
	if sp2 := strings.IndexByte(rest, ' '); sp2 >= 0 {
		codeStr = rest[:sp2]
		reason = rest[sp2+1:]
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 599 {
		return Status{}, istream.NewError("GARBAGE", "invalid HTTP status code", true, nil)
	}
	return Status{Code: code, Reason: reason}, nil
}

// isUpgrade reports whether status+headers describe a successful
// protocol upgrade (spec §6: "a successful status code carries a
// Connection: upgrade header and no length framing").
func isUpgrade(status int, headers map[string]string) bool {
	if status < 200 || status >= 300 {
		return false
	}
	return strings.Contains(strings.ToLower(headers["Connection"]), "upgrade")
}

func hopByHop(name string) bool {
	switch strings.ToLower(name) {
	case "connection", "proxy-authenticate", "transfer-encoding":
		return true
	}
	return false
}
