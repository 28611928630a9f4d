package transcript

import (
	"cmp"
	"slices"
)

// Tag identifies the kind of edit an [Opcode] describes.
type Tag int

const (
	TagEqual Tag = iota
	TagReplace
	TagDelete
	TagInsert
)

// String returns the lower-case tag name.
func (t Tag) String() string {
	switch t {
	case TagEqual:
		return "equal"
	case TagReplace:
		return "replace"
	case TagDelete:
		return "delete"
	case TagInsert:
		return "insert"
	default:
		return "unknown"
	}
}

// Opcode is one edit-script instruction. ref[I1:I2] relates to obs[J1:J2].
// Across an opcode sequence the ranges are contiguous and together cover both
// sequences exactly.
type Opcode struct {
	Tag    Tag
	I1, I2 int
	J1, J2 int
}

// Aligner computes an edit script between a reference and an observed token
// sequence. Implementations must be pure and safe for concurrent use.
type Aligner interface {
	Align(ref, obs []string) []Opcode
}

// autoJunkMin is the observed-sequence length from which very frequent tokens
// stop seeding matches.
const autoJunkMin = 200

// SequenceMatcher is the default [Aligner]. It finds the longest matching
// block, recurses on the unmatched regions to either side, and derives
// opcodes from the resulting matching blocks.
//
// With AutoJunk enabled (the default from [NewSequenceMatcher]), tokens that
// make up more than 1% of an observed sequence of at least 200 tokens are not
// used to seed matches; they can still extend a match found elsewhere. This
// keeps the search fast on long transcripts dominated by "the", "," and ".".
type SequenceMatcher struct {
	AutoJunk bool
}

var _ Aligner = SequenceMatcher{}

// NewSequenceMatcher returns a [SequenceMatcher] with AutoJunk enabled.
func NewSequenceMatcher() SequenceMatcher {
	return SequenceMatcher{AutoJunk: true}
}

// Align implements [Aligner].
func (m SequenceMatcher) Align(ref, obs []string) []Opcode {
	// Identical input always yields one equal opcode, even when AutoJunk
	// would have dropped every token from the index.
	if slices.Equal(ref, obs) {
		if len(ref) == 0 {
			return nil
		}
		return []Opcode{{Tag: TagEqual, I2: len(ref), J2: len(obs)}}
	}
	s := &matchState{a: ref, b: obs, b2j: indexTokens(obs, m.AutoJunk)}
	return opcodes(s.matchingBlocks())
}

// AlignText lower-cases and tokenizes both texts and aligns them with the
// default [SequenceMatcher].
func AlignText(reference, observed string) []Opcode {
	return NewSequenceMatcher().Align(Lower(Tokenize(reference)), Lower(Tokenize(observed)))
}

// block is a run of size equal tokens starting at a[i] and b[j].
type block struct {
	i, j, size int
}

type matchState struct {
	a, b []string
	b2j  map[string][]int
}

// indexTokens maps every token of b to its ascending positions. With autoJunk,
// popular tokens are dropped from the index.
func indexTokens(b []string, autoJunk bool) map[string][]int {
	b2j := make(map[string][]int)
	for j, tok := range b {
		b2j[tok] = append(b2j[tok], j)
	}
	if n := len(b); autoJunk && n >= autoJunkMin {
		limit := n/100 + 1
		for tok, idx := range b2j {
			if len(idx) > limit {
				delete(b2j, tok)
			}
		}
	}
	return b2j
}

// longestMatch finds the longest block of equal tokens in a[alo:ahi] and
// b[blo:bhi]. Among equally long blocks it returns the one that starts
// earliest in a, and of those the one that starts earliest in b.
func (s *matchState) longestMatch(alo, ahi, blo, bhi int) block {
	best := block{i: alo, j: blo}

	// j2len[j] is the length of the longest match ending at a[i-1], b[j].
	j2len := map[int]int{}
	for i := alo; i < ahi; i++ {
		next := make(map[int]int, len(j2len))
		for _, j := range s.b2j[s.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > best.size {
				best = block{i: i - k + 1, j: j - k + 1, size: k}
			}
		}
		j2len = next
	}

	// Extend across tokens that were left out of the index.
	for best.i > alo && best.j > blo && s.a[best.i-1] == s.b[best.j-1] {
		best.i--
		best.j--
		best.size++
	}
	for best.i+best.size < ahi && best.j+best.size < bhi &&
		s.a[best.i+best.size] == s.b[best.j+best.size] {
		best.size++
	}
	return best
}

// matchingBlocks returns the non-adjacent matching blocks in ascending order,
// terminated by a zero-size sentinel at (len(a), len(b)).
func (s *matchState) matchingBlocks() []block {
	type span struct{ alo, ahi, blo, bhi int }

	queue := []span{{0, len(s.a), 0, len(s.b)}}
	var found []block
	for len(queue) > 0 {
		sp := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		m := s.longestMatch(sp.alo, sp.ahi, sp.blo, sp.bhi)
		if m.size == 0 {
			continue
		}
		found = append(found, m)
		if sp.alo < m.i && sp.blo < m.j {
			queue = append(queue, span{sp.alo, m.i, sp.blo, m.j})
		}
		if m.i+m.size < sp.ahi && m.j+m.size < sp.bhi {
			queue = append(queue, span{m.i + m.size, sp.ahi, m.j + m.size, sp.bhi})
		}
	}
	slices.SortFunc(found, func(x, y block) int {
		if c := cmp.Compare(x.i, y.i); c != 0 {
			return c
		}
		if c := cmp.Compare(x.j, y.j); c != 0 {
			return c
		}
		return cmp.Compare(x.size, y.size)
	})

	// Merge blocks that touch on both sides.
	merged := make([]block, 0, len(found)+1)
	var cur block
	for _, b := range found {
		if cur.i+cur.size == b.i && cur.j+cur.size == b.j {
			cur.size += b.size
			continue
		}
		if cur.size > 0 {
			merged = append(merged, cur)
		}
		cur = b
	}
	if cur.size > 0 {
		merged = append(merged, cur)
	}
	return append(merged, block{i: len(s.a), j: len(s.b)})
}

// opcodes turns matching blocks into an edit script.
func opcodes(blocks []block) []Opcode {
	var ops []Opcode
	i, j := 0, 0
	for _, b := range blocks {
		switch {
		case i < b.i && j < b.j:
			ops = append(ops, Opcode{Tag: TagReplace, I1: i, I2: b.i, J1: j, J2: b.j})
		case i < b.i:
			ops = append(ops, Opcode{Tag: TagDelete, I1: i, I2: b.i, J1: j, J2: b.j})
		case j < b.j:
			ops = append(ops, Opcode{Tag: TagInsert, I1: i, I2: b.i, J1: j, J2: b.j})
		}
		i, j = b.i+b.size, b.j+b.size
		if b.size > 0 {
			ops = append(ops, Opcode{Tag: TagEqual, I1: b.i, I2: i, J1: b.j, J2: j})
		}
	}
	return ops
}
