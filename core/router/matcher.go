package router

import "strings"

// lengthSlack is a cheap pre-filter: a pattern and a candidate whose
// lengths differ by more than this are never compared segment by segment.
const lengthSlack = 50

// Matches reports whether the route key candidate matches pattern. Both
// are "<method-id>:<path>" keys. A pattern segment starting with ':'
// matches exactly one non-empty candidate segment; every other segment
// must be byte-identical, and segment counts must be equal.
func Matches(pattern, candidate string) bool {
	diff := len(pattern) - len(candidate)
	if diff > lengthSlack || -diff > lengthSlack {
		return false
	}

	pc := strings.IndexByte(pattern, ':')
	if pc < 0 {
		return false
	}
	cc := strings.IndexByte(candidate, ':')
	if cc < 0 {
		return false
	}
	if pc != cc || pattern[:pc] != candidate[:cc] {
		return false
	}

	pp := pattern[pc+1:]
	cp := candidate[cc+1:]

	if pp == cp {
		return true
	}
	if strings.IndexByte(pp, ':') < 0 {
		return false
	}

	return matchSegments(pp, cp)
}

// matchSegments walks both paths segment by segment without allocating
func matchSegments(pattern, path string) bool {
	for {
		pseg, prest, pmore := cutSegment(pattern)
		cseg, crest, cmore := cutSegment(path)

		if len(pseg) > 0 && pseg[0] == ':' {
			if len(cseg) == 0 {
				return false
			}
		} else if pseg != cseg {
			return false
		}

		if pmore != cmore {
			return false
		}
		if !pmore {
			return true
		}
		pattern, path = prest, crest
	}
}

// cutSegment splits s at the first '/'
func cutSegment(s string) (seg, rest string, more bool) {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return s, "", false
}
