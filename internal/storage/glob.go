package storage

// globMatch reports whether key matches a KEYS pattern. Supported are * and ? wildcards,
// [abc] [^abc] [a-z] classes and \ escapes. Bytes are compared, not runes
func globMatch(pattern, key string) bool {
	p, k := 0, 0
	// position of the last * and the key offset it is currently expanded to
	starP, starK := -1, 0

	for k < len(key) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				starP, starK = p, k
				p++
				continue
			case '?':
				p++
				k++
				continue
			case '[':
				if next, ok := matchClass(pattern, p, key[k]); ok {
					p = next
					k++
					continue
				}
			default:
				c, next := pattern[p], p+1
				if c == '\\' && next < len(pattern) {
					c, next = pattern[next], next+1
				}
				if c == key[k] {
					p = next
					k++
					continue
				}
			}
		}

		if starP < 0 {
			return false
		}
		starK++
		p, k = starP+1, starK
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass matches c against the class opening at pattern[p] and returns the index after it.
// An unclosed class extends to the end of the pattern
func matchClass(pattern string, p int, c byte) (int, bool) {
	i := p + 1
	negate := i < len(pattern) && pattern[i] == '^'
	if negate {
		i++
	}

	matched := false
	for i < len(pattern) && pattern[i] != ']' {
		switch {
		case pattern[i] == '\\' && i+1 < len(pattern):
			i++
			matched = matched || pattern[i] == c
		case i+2 < len(pattern) && pattern[i+1] == '-':
			lo, hi := pattern[i], pattern[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			matched = matched || (c >= lo && c <= hi)
			i += 2
		default:
			matched = matched || pattern[i] == c
		}
		i++
	}
	if i < len(pattern) {
		i++
	}

	return i, matched != negate
}
