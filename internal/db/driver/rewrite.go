package driver

import "strconv"

// RewritePlaceholders converts `?` positional placeholders to PostgreSQL's
// numbered `$1..$n` form, left to right. It is a pure function.
//
// Placeholders inside single-quoted literals, double-quoted identifiers, or
// line comments are left untouched, and `??` escapes to a literal `?`.
func RewritePlaceholders(query string) string {
	var b []byte
	n := 0

	for i := 0; i < len(query); i++ {
		c := query[i]
		switch c {
		case '\'', '"':
			// Copy the quoted section verbatim, honoring doubled quotes.
			quote := c
			b = append(b, c)
			for i++; i < len(query); i++ {
				b = append(b, query[i])
				if query[i] == quote {
					if i+1 < len(query) && query[i+1] == quote {
						i++
						b = append(b, query[i])
						continue
					}
					break
				}
			}
		case '-':
			if i+1 < len(query) && query[i+1] == '-' {
				// Line comment runs to end of line.
				for ; i < len(query) && query[i] != '\n'; i++ {
					b = append(b, query[i])
				}
				if i < len(query) {
					b = append(b, '\n')
				}
			} else {
				b = append(b, c)
			}
		case '?':
			if i+1 < len(query) && query[i+1] == '?' {
				i++
				b = append(b, '?')
				continue
			}
			n++
			b = append(b, '$')
			b = strconv.AppendInt(b, int64(n), 10)
		default:
			b = append(b, c)
		}
	}

	return string(b)
}
