// Package text extracts sentence boundaries from incrementally growing
// buffers using UAX #29 segmentation.
package text

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/sentences"
)

// trailing characters that may follow a terminator and still close the
// sentence (quotes and brackets).
const closers = `"')]»”’`

// FirstSentence returns the first complete sentence in buf, trimmed of
// surrounding whitespace, together with the untouched remainder. ok is false
// when buf holds no complete sentence boundary yet; the caller should wait
// for more text.
func FirstSentence(buf string) (sentence, rest string, ok bool) {
	pos := 0
	tokens := sentences.FromString(buf)
	for tokens.Next() {
		segment := tokens.Value()
		end := pos + len(segment)
		if strings.TrimSpace(segment) == "" {
			pos = end
			continue
		}
		if !endsSentence(segment) {
			return "", buf, false
		}
		return strings.TrimSpace(segment), buf[end:], true
	}
	return "", buf, false
}

// Sentences splits buf into its complete sentences plus the incomplete
// residue. Used for final drains where the residue is synthesized as-is.
func Sentences(buf string) (complete []string, residue string) {
	residue = buf
	for {
		s, rest, ok := FirstSentence(residue)
		if !ok {
			return complete, residue
		}
		complete = append(complete, s)
		residue = rest
	}
}

func endsSentence(segment string) bool {
	s := strings.TrimRightFunc(segment, unicode.IsSpace)
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if strings.ContainsRune(closers, r) {
			s = s[:len(s)-size]
			continue
		}
		return isTerminator(r)
	}
	return false
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？', '\n':
		return true
	}
	return false
}
