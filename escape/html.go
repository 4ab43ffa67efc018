package escape

import "bytes"

// HTML escapes the five characters HTML text content/attribute values
// are unsafe without escaping. Grounded on
// original_source/src/escape/HTML.hxx.
var HTML Class = htmlClass{}

type htmlClass struct{}

var htmlNeedsEscape = [256]bool{
	'<':  true,
	'>':  true,
	'&':  true,
	'"':  true,
	'\'': true,
}

var htmlEntities = map[byte][]byte{
	'<':  []byte("&lt;"),
	'>':  []byte("&gt;"),
	'&':  []byte("&amp;"),
	'"':  []byte("&quot;"),
	'\'': []byte("&apos;"),
}

func (htmlClass) Find(data []byte) int {
	return bytes.IndexFunc(data, func(r rune) bool {
		return r < 256 && htmlNeedsEscape[byte(r)]
	})
}

func (htmlClass) CharToEntity(c byte) []byte { return htmlEntities[c] }
