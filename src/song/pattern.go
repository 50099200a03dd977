package song

// ----- Pattern ----- //

// Pattern holds notes indexed by their tick position. Virtual patterns
// reference other patterns that sound whenever this one does.
type Pattern struct {
	Name   string
	Length int64 // ticks

	notes    map[int64][]*Note
	virtuals []*Pattern
}

func NewPattern(name string, length int64) *Pattern {
	return &Pattern{
		Name:   name,
		Length: length,
		notes:  make(map[int64][]*Note),
	}
}

// AddNote inserts the note at its own position.
func (p *Pattern) AddNote(n *Note) {
	p.notes[n.Position] = append(p.notes[n.Position], n)
}

// NotesAt returns all notes at the given tick, in insertion order.
func (p *Pattern) NotesAt(tick int64) []*Note {
	return p.notes[tick]
}

// RemoveNote deletes the note from its position, if present.
func (p *Pattern) RemoveNote(n *Note) {
	ns := p.notes[n.Position]
	for i, nn := range ns {
		if nn == n {
			p.notes[n.Position] = append(ns[:i], ns[i+1:]...)
			return
		}
	}
}

// AddVirtual registers another pattern to play along with this one.
func (p *Pattern) AddVirtual(v *Pattern) {
	for _, vv := range p.virtuals {
		if vv == v {
			return
		}
	}
	p.virtuals = append(p.virtuals, v)
}

// AddFlattenedVirtualPatterns adds the transitive closure of virtual
// patterns to the list.
func (p *Pattern) AddFlattenedVirtualPatterns(pl *PatternList) {
	for _, v := range p.virtuals {
		if pl.Index(v) < 0 {
			pl.Add(v)
			v.AddFlattenedVirtualPatterns(pl)
		}
	}
}

// RemoveFlattenedVirtualPatterns removes the transitive closure of
// virtual patterns from the list.
func (p *Pattern) RemoveFlattenedVirtualPatterns(pl *PatternList) {
	for _, v := range p.virtuals {
		if pl.Del(v) {
			v.RemoveFlattenedVirtualPatterns(pl)
		}
	}
}

// ----- PatternList ----- //

// PatternList is an ordered set of patterns.
type PatternList struct {
	patterns []*Pattern
}

func NewPatternList(patterns ...*Pattern) *PatternList {
	return &PatternList{patterns: patterns}
}

func (pl *PatternList) Size() int {
	return len(pl.patterns)
}

func (pl *PatternList) Get(i int) *Pattern {
	if i < 0 || i >= len(pl.patterns) {
		return nil
	}
	return pl.patterns[i]
}

func (pl *PatternList) Add(p *Pattern) {
	pl.patterns = append(pl.patterns, p)
}

// Del removes the pattern and reports whether it was present.
func (pl *PatternList) Del(p *Pattern) bool {
	for i, pp := range pl.patterns {
		if pp == p {
			pl.patterns = append(pl.patterns[:i], pl.patterns[i+1:]...)
			return true
		}
	}
	return false
}

// Index returns the position of the pattern or -1.
func (pl *PatternList) Index(p *Pattern) int {
	for i, pp := range pl.patterns {
		if pp == p {
			return i
		}
	}
	return -1
}

func (pl *PatternList) Clear() {
	pl.patterns = pl.patterns[:0]
}

// All returns the backing slice; callers must not mutate it.
func (pl *PatternList) All() []*Pattern {
	return pl.patterns
}

// LongestPatternLength returns the length of the longest pattern, or
// MaxNotes for an empty list.
func (pl *PatternList) LongestPatternLength() int64 {
	if len(pl.patterns) == 0 {
		return MaxNotes
	}
	var longest int64
	for _, p := range pl.patterns {
		if p.Length > longest {
			longest = p.Length
		}
	}
	return longest
}
