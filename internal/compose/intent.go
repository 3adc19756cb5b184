package compose

import "strings"

// ParseIntent scans text for markers of the form
//
//	[intent: token]
//
// where the keyword is case-insensitive, whitespace around each part is
// allowed, and token is one or more of [a-z0-9_-] (upper case is folded).
// The first well-formed marker supplies the intent; every well-formed
// marker is removed from the returned text. Anything else in brackets is
// left alone. With no marker the intent is DefaultIntent.
func ParseIntent(text string) (intent, stripped string) {
	var b strings.Builder
	b.Grow(len(text))
	rest := text
	for {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		token, n, ok := scanMarker(rest[open:])
		if !ok {
			b.WriteByte('[')
			rest = rest[open+1:]
			continue
		}
		if intent == "" {
			intent = token
		}
		rest = rest[open+n:]
	}
	if intent == "" {
		return DefaultIntent, text
	}
	return intent, tidy(b.String())
}

// scanMarker reads a marker at the start of s, which begins with '['. It
// returns the lower-cased token and the marker's byte length.
func scanMarker(s string) (string, int, bool) {
	i := 1
	i = skipSpace(s, i)
	const kw = "intent"
	if len(s) < i+len(kw) || !strings.EqualFold(s[i:i+len(kw)], kw) {
		return "", 0, false
	}
	i = skipSpace(s, i+len(kw))
	if i >= len(s) || s[i] != ':' {
		return "", 0, false
	}
	i = skipSpace(s, i+1)
	start := i
	for i < len(s) && isTokenByte(s[i]) {
		i++
	}
	if i == start {
		return "", 0, false
	}
	token := strings.ToLower(s[start:i])
	i = skipSpace(s, i)
	if i >= len(s) || s[i] != ']' {
		return "", 0, false
	}
	return token, i + 1, true
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

func isTokenByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-':
		return true
	}
	return false
}

// tidy trims the whitespace a removed marker leaves behind at line ends
// and at either end of the text.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
