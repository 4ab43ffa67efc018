package escape

// URL percent-encodes every byte outside the RFC 3986 "unreserved"
// set. Grounded on original_source/src/escape/HTML.hxx's table-driven
// shape, applied to the URL alphabet instead.
var URL Class = urlClass{}

type urlClass struct{}

var urlUnreserved = [256]bool{}

const hexDigits = "0123456789ABCDEF"

func init() {
	for c := 'A'; c <= 'Z'; c++ {
		urlUnreserved[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		urlUnreserved[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		urlUnreserved[c] = true
	}
	for _, c := range "-_.~" {
		urlUnreserved[c] = true
	}
}

func (urlClass) Find(data []byte) int {
	for i, c := range data {
		if !urlUnreserved[c] {
			return i
		}
	}
	return -1
}

func (urlClass) CharToEntity(c byte) []byte {
	return []byte{'%', hexDigits[c>>4], hexDigits[c&0xf]}
}
