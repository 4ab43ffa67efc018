package fastcgi

// RequestMeta carries the environment values spec §4.H.1 step 2 lists
// for the PARAMS records: the well-known CGI variables plus whatever
// forwarded HTTP_* headers and caller extras the proxy layer (out of
// this core's scope) decided to pass through.
type RequestMeta struct {
	Method         string
	RequestURI     string
	ScriptFilename string
	ScriptName     string
	PathInfo       string
	QueryString    string
	DocumentRoot   string
	ServerSoftware string
	RemoteAddr     string
	ContentType    string
	ContentLength  int64 // -1 if unknown
	HTTPS          bool
	// Headers holds forwarded request headers, already named without
	// the HTTP_ prefix (e.g. "Host", "User-Agent"); Build adds the
	// prefix and the CGI-standard uppercasing/dash-to-underscore
	// conversion.
	Headers map[string]string
	// Extra carries caller-supplied additional PARAMS pairs verbatim,
	// applied after everything above (so a caller may override).
	Extra map[string]string
}

// Build assembles the ordered PARAMS name/value pairs for meta, in
// the order spec §4.H.1 step 2 lists them. Grounded on
// caddyhttp/fastcgi/fastcgi.go's buildEnv.
func (m RequestMeta) Build() []NameValue {
	pairs := make([]NameValue, 0, 16+len(m.Headers)+len(m.Extra))
	add := func(name, value string) {
		if value == "" {
			return
		}
		pairs = append(pairs, NameValue{name, value})
	}

	add("REQUEST_METHOD", m.Method)
	add("REQUEST_URI", m.RequestURI)
	add("SCRIPT_FILENAME", m.ScriptFilename)
	add("SCRIPT_NAME", m.ScriptName)
	add("PATH_INFO", m.PathInfo)
	add("QUERY_STRING", m.QueryString)
	add("DOCUMENT_ROOT", m.DocumentRoot)
	add("SERVER_SOFTWARE", m.ServerSoftware)
	add("REMOTE_ADDR", m.RemoteAddr)
	if m.ContentLength >= 0 {
		cl := formatInt(m.ContentLength)
		add("HTTP_CONTENT_LENGTH", cl)
		add("CONTENT_LENGTH", cl)
	}
	add("CONTENT_TYPE", m.ContentType)
	if m.HTTPS {
		add("HTTPS", "on")
	}
	for name, value := range m.Headers {
		add("HTTP_"+cgiHeaderName(name), value)
	}
	for name, value := range m.Extra {
		add(name, value)
	}
	return pairs
}

// NameValue is one decoded/encoded FastCGI PARAMS pair.
type NameValue struct {
	Name  string
	Value string
}

func formatInt(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// cgiHeaderName converts an HTTP header name ("User-Agent") to its
// CGI HTTP_ suffix form ("USER_AGENT").
func cgiHeaderName(h string) string {
	out := make([]byte, len(h))
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch {
		case c == '-':
			out[i] = '_'
		case c >= 'a' && c <= 'z':
			out[i] = c - ('a' - 'A')
		default:
			out[i] = c
		}
	}
	return string(out)
}

// EncodeParamsRecords frames pairs as one or more PARAMS records
// (each content capped at MaxRecordContent) followed by the empty
// PARAMS record that terminates the block (spec §4.H.1 steps 2-3).
func EncodeParamsRecords(requestID uint16, pairs []NameValue) []byte {
	var content []byte
	var out []byte
	flush := func() {
		if len(content) == 0 {
			return
		}
		out = frameRecord(out, TypeParams, requestID, content)
		content = content[:0]
	}
	for _, p := range pairs {
		var pair []byte
		pair = encodeNameValue(pair, p.Name, p.Value)
		if len(content)+len(pair) > MaxRecordContent {
			flush()
		}
		content = append(content, pair...)
	}
	flush()
	// Empty PARAMS record: end of params.
	out = frameRecord(out, TypeParams, requestID, nil)
	return out
}
