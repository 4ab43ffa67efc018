package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/source"
)

// TestSubstReplacesWholeMatchWithinOnePush checks the simple case where
// a rule's match text arrives entirely within a single push.
func TestSubstReplacesWholeMatchWithinOnePush(t *testing.T) {
	in := source.NewString("hello ${name}, welcome")
	s := NewSubst(in, []SubstPair{{Match: []byte("${name}"), Replacement: []byte("world")}})
	out := &collector{}
	s.SetHandler(out)
	drainUntilTerminal(t, s, out)

	assert.Equal(t, "hello world, welcome", string(out.data))
	assert.True(t, out.eof)
}

// TestSubstMatchStraddlingTwoPushes is the scenario the holdback logic
// exists for: a rule's match text is split across two OnData pushes,
// and Subst must still recognize it.
func TestSubstMatchStraddlingTwoPushes(t *testing.T) {
	in := source.NewString("x")
	s := NewSubst(in, []SubstPair{{Match: []byte("${name}"), Replacement: []byte("world")}})
	out := &collector{}
	s.SetHandler(out)

	n, disp := s.OnData([]byte("prefix ${na"))
	assert.Equal(t, 11, n)
	assert.Equal(t, istream.Continue, disp)
	n, _ = s.OnData([]byte("me} suffix"))
	assert.Equal(t, 10, n)
	s.OnEOF()
	drainUntilTerminal(t, s, out)

	assert.Equal(t, "prefix world suffix", string(out.data))
	assert.True(t, out.eof)
}

// TestSubstNoMatchPassesThroughUnchanged checks input with no matching
// rule text passes through byte-for-byte.
func TestSubstNoMatchPassesThroughUnchanged(t *testing.T) {
	in := source.NewString("nothing to replace here")
	s := NewSubst(in, []SubstPair{{Match: []byte("${name}"), Replacement: []byte("world")}})
	out := &collector{}
	s.SetHandler(out)
	drainUntilTerminal(t, s, out)

	assert.Equal(t, "nothing to replace here", string(out.data))
	assert.True(t, out.eof)
}
