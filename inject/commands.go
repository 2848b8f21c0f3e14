package inject

import (
	"regexp"
	"strings"
)

// Segment is one typed unit of an injected fragment: either literal text or
// a named key tapped Count times.
type Segment struct {
	Text  string
	Key   string
	Count int
}

// commandMap maps spoken phrases to key names. Matching is whole-segment,
// case-insensitive, between punctuation boundaries.
var commandMap = map[string]string{
	"enter":       "Return",
	"enters":      "Return",
	"enter key":   "Return",
	"type enter":  "Return",
	"press enter": "Return",
	"new line":    "Return",
	"next line":   "Return",
}

var separatorRe = regexp.MustCompile(`[.?!,;]+`)

// ParseSegments splits a transcript into text and key segments. A segment
// consisting solely of a known command phrase (or a run of "enter"s) becomes
// a key tap; the punctuation the recognizer attached after a command is
// swallowed so the typed text doesn't end with a stray comma.
func ParseSegments(transcript string) []Segment {
	parts := splitKeepSeparators(transcript)

	var (
		out         []Segment
		textBuf     strings.Builder
		skipNextSep bool
	)

	flush := func() {
		if textBuf.Len() > 0 {
			out = append(out, Segment{Text: textBuf.String()})
			textBuf.Reset()
		}
	}

	for _, p := range parts {
		if p.sep {
			if skipNextSep {
				skipNextSep = false
				continue
			}
			textBuf.WriteString(p.s)
			continue
		}

		clean := strings.ToLower(strings.TrimSpace(p.s))
		if clean == "" {
			continue
		}

		if key, ok := commandMap[clean]; ok {
			flush()
			out = append(out, Segment{Key: key, Count: 1})
			skipNextSep = true
			continue
		}

		// "enter enter enter" taps the key once per word.
		if n := repeatedEnterCount(clean); n > 0 {
			flush()
			out = append(out, Segment{Key: "Return", Count: n})
			skipNextSep = true
			continue
		}

		textBuf.WriteString(p.s)
	}

	flush()
	return out
}

func repeatedEnterCount(s string) int {
	words := strings.Fields(s)
	if len(words) == 0 {
		return 0
	}
	for _, w := range words {
		if w != "enter" && w != "enters" {
			return 0
		}
	}
	return len(words)
}

type part struct {
	s   string
	sep bool
}

// splitKeepSeparators splits on punctuation runs, keeping them as their own
// parts so commands can swallow their trailing punctuation.
func splitKeepSeparators(s string) []part {
	var parts []part
	last := 0
	for _, loc := range separatorRe.FindAllStringIndex(s, -1) {
		if loc[0] > last {
			parts = append(parts, part{s: s[last:loc[0]]})
		}
		parts = append(parts, part{s: s[loc[0]:loc[1]], sep: true})
		last = loc[1]
	}
	if last < len(s) {
		parts = append(parts, part{s: s[last:]})
	}
	return parts
}
