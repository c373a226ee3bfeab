package glob

import (
	"log/slog"
	"regexp"
	"strings"
)

const (
	globstar    = "**"
	pathRegex   = `[/\\]`
	noPathRegex = `[^/\\]`
)

// compileRegex is the fallback for patterns without a trivial shape. A
// pattern that does not produce a valid expression never matches.
func compileRegex(pattern string) *Pattern {
	re, err := regexp.Compile("^" + toRegexp(pattern) + "$")
	if err != nil {
		slog.Debug("glob pattern does not compile", "pattern", pattern, "error", err)
		return never
	}
	return &Pattern{kind: kindRegex, source: pattern, re: re}
}

func starsToRegexp(stars int, last bool) string {
	switch stars {
	case 0:
		return ""
	case 1:
		return noPathRegex + "*?"
	}
	if last {
		return "(?:" + pathRegex + "|" + noPathRegex + "+" + pathRegex + "|" + pathRegex + noPathRegex + "+)*?"
	}
	return "(?:" + pathRegex + "|" + noPathRegex + "+" + pathRegex + ")*?"
}

// splitGlobAware splits pattern on sep, treating sep inside {} or [] as a
// literal.
func splitGlobAware(pattern string, sep rune) []string {
	if pattern == "" {
		return nil
	}

	var segments []string
	var cur strings.Builder
	inBraces, inBrackets := false, false
	for _, ch := range pattern {
		switch ch {
		case sep:
			if !inBraces && !inBrackets {
				segments = append(segments, cur.String())
				cur.Reset()
				continue
			}
		case '{':
			inBraces = true
		case '}':
			inBraces = false
		case '[':
			inBrackets = true
		case ']':
			inBrackets = false
		}
		cur.WriteRune(ch)
	}
	if cur.Len() > 0 {
		segments = append(segments, cur.String())
	}
	return segments
}

func toRegexp(pattern string) string {
	segments := splitGlobAware(pattern, '/')
	if len(segments) == 0 {
		return ""
	}

	allGlobstars := true
	for _, s := range segments {
		if s != globstar {
			allGlobstars = false
			break
		}
	}
	if allGlobstars {
		return ".*"
	}

	var b strings.Builder
	prevGlobstar := false
	for i, segment := range segments {
		if segment == globstar {
			if !prevGlobstar {
				b.WriteString(starsToRegexp(2, i == len(segments)-1))
			}
			prevGlobstar = true
			continue
		}
		prevGlobstar = false

		segmentToRegexp(&b, segment)

		// Keep the separator so "some/**/*.js" cannot match "something".
		if i < len(segments)-1 && (segments[i+1] != globstar || i+2 < len(segments)) {
			b.WriteString(pathRegex)
		}
	}
	return b.String()
}

func segmentToRegexp(b *strings.Builder, segment string) {
	var braceVal, bracketVal strings.Builder
	inBraces, inBrackets := false, false

	for _, ch := range segment {
		if inBraces && ch != '}' {
			braceVal.WriteRune(ch)
			continue
		}

		// ']' is literal as the first character of a class.
		if inBrackets && (ch != ']' || bracketVal.Len() == 0) {
			switch {
			case ch == '-':
				bracketVal.WriteRune(ch)
			case (ch == '^' || ch == '!') && bracketVal.Len() == 0:
				bracketVal.WriteByte('^')
			case ch == '/':
				// no separators inside a class
			default:
				bracketVal.WriteString(regexp.QuoteMeta(string(ch)))
			}
			continue
		}

		switch ch {
		case '{':
			inBraces = true
		case '[':
			inBrackets = true
		case '}':
			choices := splitGlobAware(braceVal.String(), ',')
			alts := make([]string, len(choices))
			for i, choice := range choices {
				alts[i] = toRegexp(choice)
			}
			b.WriteString("(?:" + strings.Join(alts, "|") + ")")
			inBraces = false
			braceVal.Reset()
		case ']':
			b.WriteString("[" + bracketVal.String() + "]")
			inBrackets = false
			bracketVal.Reset()
		case '?':
			b.WriteString(noPathRegex)
		case '*':
			b.WriteString(starsToRegexp(1, false))
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
}
