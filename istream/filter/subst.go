package filter

import (
	"bytes"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// SubstPair is one (match, replacement) rule for Subst.
type SubstPair struct {
	Match       []byte
	Replacement []byte
}

// Subst performs streaming literal substring replacement against a
// fixed set of rules, matching even when a rule's match text straddles
// two pushes. Unlike Replace (which lets an external controller
// splice whole substreams in by offset), Subst's rules are static and
// chosen by longest-match. Grounded on
// original_source/src/istream/SubstIstream.cxx (ternary-search-tree
// matcher); this implementation uses a simple longest-prefix scan over
// the (typically small) rule set rather than building an actual TST,
// since the rule counts this core handles do not warrant one.
type Subst struct {
	base
	input    istream.Stream
	rules    []SubstPair
	maxMatch int

	carry    []byte // unmatched tail held back in case a rule completes across a push
	pending  []byte // output ready for the handler
	inputEOF bool
}

func NewSubst(input istream.Stream, rules []SubstPair) *Subst {
	max := 0
	for _, r := range rules {
		if len(r.Match) > max {
			max = len(r.Match)
		}
	}
	s := &Subst{input: input, rules: rules, maxMatch: max}
	input.SetHandler(s)
	return s
}

func (s *Subst) SetHandler(h istream.Handler) { s.setHandler(h) }

func (s *Subst) Available(partial bool) int64 { return -1 }

func (s *Subst) Skip(n int64) int64 { return 0 }

func (s *Subst) Read() {
	if len(s.pending) > 0 {
		s.tryFlush()
		return
	}
	if s.inputEOF {
		s.pending = append(s.pending, s.carry...)
		s.carry = nil
		if len(s.pending) > 0 {
			s.tryFlush()
			return
		}
		s.deliverEOF()
		return
	}
	s.input.Read()
}

func (s *Subst) FillBucketList(list *bucket.List) error {
	list.EnableFallback()
	return nil
}

func (s *Subst) ConsumeBucketList(n int) (int, bool) { return 0, false }

func (s *Subst) ConsumeDirect(n int64) error { return nil }

func (s *Subst) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (s *Subst) SetDirect(mask istream.DirectMask) {}

func (s *Subst) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.input.Close()
}

func (s *Subst) tryFlush() {
	if s.handler == nil || len(s.pending) == 0 {
		return
	}
	n, disp := s.handler.OnData(s.pending)
	if disp == istream.Destroyed {
		return
	}
	s.pending = s.pending[n:]
	if len(s.pending) == 0 && s.inputEOF && len(s.carry) == 0 {
		s.deliverEOF()
	}
}

// findMatch finds the first rule match in buf, preferring the
// earliest position and, among ties, the longest match.
func (s *Subst) findMatch(buf []byte) (pos int, rule *SubstPair) {
	pos = -1
	for i := range s.rules {
		r := &s.rules[i]
		if idx := bytes.Index(buf, r.Match); idx >= 0 {
			if pos < 0 || idx < pos || (idx == pos && len(r.Match) > len(rule.Match)) {
				pos = idx
				rule = r
			}
		}
	}
	return pos, rule
}

func (s *Subst) OnData(data []byte) (int, istream.Disposition) {
	buf := append(s.carry, data...)
	s.carry = nil

	for {
		pos, rule := s.findMatch(buf)
		if pos < 0 {
			// Hold back up to maxMatch-1 trailing bytes in case a
			// match starts there and completes on the next push.
			holdBack := s.maxMatch - 1
			if holdBack < 0 {
				holdBack = 0
			}
			if len(buf) > holdBack {
				s.pending = append(s.pending, buf[:len(buf)-holdBack]...)
				s.carry = append(s.carry, buf[len(buf)-holdBack:]...)
			} else {
				s.carry = append(s.carry, buf...)
			}
			break
		}
		s.pending = append(s.pending, buf[:pos]...)
		s.pending = append(s.pending, rule.Replacement...)
		buf = buf[pos+len(rule.Match):]
	}

	s.tryFlush()
	return len(data), istream.Continue
}

func (s *Subst) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (s *Subst) OnEOF() {
	s.inputEOF = true
	s.pending = append(s.pending, s.carry...)
	s.carry = nil
	s.tryFlush()
}

func (s *Subst) OnError(err error) { s.deliverError(err) }
