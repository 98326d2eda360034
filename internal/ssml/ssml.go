// Package ssml detects and splits SSML documents into independently
// synthesizable units: one chunk per first-level child of <speak>.
package ssml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

var ErrNoDocument = errors.New("ssml: no complete speak document")

// Shaped reports whether the buffer starts like an SSML document. The test
// is purely syntactic: a lower-cased <?xml or <speak prefix.
func Shaped(s string) bool {
	t := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(t, "<?xml") || strings.HasPrefix(t, "<speak")
}

// Complete reports whether the buffer holds a complete document: it is
// Shaped and the closing tag has arrived.
func Complete(s string) bool {
	return Shaped(s) && strings.Contains(strings.ToLower(s), "</speak>")
}

// Escape XML-escapes plain text, covering & < > " '.
func Escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// Wrap escapes plain text and wraps it in a speak element, shielding
// backends that auto-interpret XML-looking input.
func Wrap(s string) string {
	return "<speak>" + Escape(s) + "</speak>"
}

// PrepareText returns text ready to hand to a synthesizer backend: plain
// input containing angle brackets is escaped and wrapped, everything else
// passes through untouched.
func PrepareText(s string) string {
	if strings.ContainsAny(s, "<>") {
		return Wrap(s)
	}
	return s
}

// Split parses the first complete <speak>…</speak> in doc and returns one
// chunk per first-level child element, each re-wrapped as
// <speak [attrs]>CHILD</speak> with the child subtree and the speak
// attributes preserved verbatim from the source bytes. Text between
// first-level children is dropped. rest is the residue after </speak>.
func Split(doc string) (chunks []string, rest string, err error) {
	dec := xml.NewDecoder(strings.NewReader(doc))

	var attrs string
	inSpeak := false
	for {
		before := dec.InputOffset()
		tok, err := dec.Token()
		if err != nil {
			return nil, "", fmt.Errorf("ssml: parse: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			after := dec.InputOffset()
			if !inSpeak {
				if strings.ToLower(t.Name.Local) != "speak" {
					return nil, "", fmt.Errorf("ssml: unexpected root element %q", t.Name.Local)
				}
				attrs = rawAttrs(doc[before:after])
				inSpeak = true
				continue
			}
			// First-level child: consume its whole subtree and slice the
			// original bytes so nested markup survives byte-for-byte.
			if err := dec.Skip(); err != nil {
				return nil, "", fmt.Errorf("ssml: parse child %q: %w", t.Name.Local, err)
			}
			end := dec.InputOffset()
			chunks = append(chunks, "<speak"+attrs+">"+doc[before:end]+"</speak>")
		case xml.EndElement:
			if inSpeak && strings.ToLower(t.Name.Local) == "speak" {
				return chunks, doc[dec.InputOffset():], nil
			}
		default:
			// Prolog, comments and inter-child text are dropped.
		}
	}
}

// rawAttrs extracts the verbatim attribute text from a raw start tag such as
// `<speak version="1.0" xml:lang="en">`, including the leading space.
func rawAttrs(tag string) string {
	s := strings.TrimSpace(tag)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	s = strings.TrimSuffix(s, "/")
	// Drop the element name.
	i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' })
	if i < 0 {
		return ""
	}
	attrs := strings.TrimRight(s[i:], " \t\n\r")
	if strings.TrimSpace(attrs) == "" {
		return ""
	}
	return attrs
}
