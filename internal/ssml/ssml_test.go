package ssml

import (
	"fmt"
	"strings"
	"testing"
)

func TestShaped(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"<speak>Hi.</speak>", true},
		{"  <SPEAK version=\"1.0\">", true},
		{"<?xml version=\"1.0\"?><speak>", true},
		{"Hello world.", false},
		{"<p>Hello</p>", false},
		{"", false},
	}
	for _, c := range cases {
		if got := Shaped(c.in); got != c.want {
			t.Fatalf("Shaped(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestComplete(t *testing.T) {
	if Complete("<speak><s>One.</s>") {
		t.Fatal("incomplete document reported complete")
	}
	if !Complete("<speak><s>One.</s></speak>") {
		t.Fatal("complete document not detected")
	}
	if Complete("Hello.</speak>") {
		t.Fatal("plain text with stray closing tag reported complete")
	}
}

func TestSplitChildCount(t *testing.T) {
	for n := 1; n <= 5; n++ {
		var b strings.Builder
		b.WriteString("<speak>")
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, "<s>Sentence %d.</s>", i)
		}
		b.WriteString("</speak>")

		chunks, rest, err := Split(b.String())
		if err != nil {
			t.Fatalf("split n=%d: %v", n, err)
		}
		if len(chunks) != n {
			t.Fatalf("n=%d: got %d chunks", n, len(chunks))
		}
		if rest != "" {
			t.Fatalf("n=%d: unexpected residue %q", n, rest)
		}
		for i, c := range chunks {
			want := fmt.Sprintf("<speak><s>Sentence %d.</s></speak>", i)
			if c != want {
				t.Fatalf("chunk %d = %q, want %q", i, c, want)
			}
		}
	}
}

func TestSplitPreservesAttributesAndSubtrees(t *testing.T) {
	doc := `<speak version="1.0" xmlns:custom="urn:x" xml:lang="en-US"><p><s>One.</s><custom:mark name="a&amp;b"/></p><s rate="slow">Two.</s></speak>tail`
	chunks, rest, err := Split(doc)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks: %q", len(chunks), chunks)
	}
	wantAttrs := ` version="1.0" xmlns:custom="urn:x" xml:lang="en-US"`
	want0 := "<speak" + wantAttrs + `><p><s>One.</s><custom:mark name="a&amp;b"/></p></speak>`
	if chunks[0] != want0 {
		t.Fatalf("chunk 0 = %q, want %q", chunks[0], want0)
	}
	want1 := "<speak" + wantAttrs + `><s rate="slow">Two.</s></speak>`
	if chunks[1] != want1 {
		t.Fatalf("chunk 1 = %q, want %q", chunks[1], want1)
	}
	if rest != "tail" {
		t.Fatalf("rest = %q", rest)
	}
}

func TestSplitDropsInterChildText(t *testing.T) {
	chunks, _, err := Split("<speak>dropped<s>Kept.</s>also dropped</speak>")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "<speak><s>Kept.</s></speak>" {
		t.Fatalf("unexpected chunks: %q", chunks)
	}
}

func TestSplitMalformed(t *testing.T) {
	if _, _, err := Split("<speak><s>One.</speak>"); err == nil {
		t.Fatal("expected parse error for mismatched tags")
	}
	if _, _, err := Split("<div>Hi.</div>"); err == nil {
		t.Fatal("expected error for non-speak root")
	}
}

func TestEscapeAndWrap(t *testing.T) {
	got := Wrap(`1 < 2 & "three" > 'four'`)
	if !strings.HasPrefix(got, "<speak>") || !strings.HasSuffix(got, "</speak>") {
		t.Fatalf("not wrapped: %q", got)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(got, "<speak>"), "</speak>")
	if strings.ContainsAny(body, "<>\"'") || strings.Contains(body, "& ") {
		t.Fatalf("unescaped characters remain: %q", body)
	}
}

func TestPrepareText(t *testing.T) {
	if got := PrepareText("Plain sentence."); got != "Plain sentence." {
		t.Fatalf("plain text altered: %q", got)
	}
	got := PrepareText("a < b")
	if !strings.HasPrefix(got, "<speak>") {
		t.Fatalf("markup-looking text not wrapped: %q", got)
	}
}
