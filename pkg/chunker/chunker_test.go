package chunker

import (
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
)

func TestFirstChunkCutsAtPunctuation(t *testing.T) {
	c := New(Config{FirstMinChars: 4, FirstMaxChars: 16})
	got := c.Push("你好呀朋友。今天")
	want := []string{"你好呀朋友。"}
	if !slices.Equal(got, want) {
		t.Fatalf("Push = %q, want %q", got, want)
	}
	rest, ok := c.Flush()
	if !ok || rest != "今天" {
		t.Fatalf("Flush = %q, %v", rest, ok)
	}
}

func TestDefaultFirstChunk(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
		rest string
	}{
		{"no punctuation", "abcdefghij", []string{"abcd"}, "efghij"},
		{"punctuation at min", "你好吗？今天天气", []string{"你好吗？"}, "今天天气"},
		{"punctuation after min", "你好呀朋友。今天", []string{"你好呀朋"}, "友。今天"},
		{"short", "abc", nil, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{})
			got := c.Push(tt.in)
			if !slices.Equal(got, tt.want) {
				t.Fatalf("Push = %q, want %q", got, tt.want)
			}
			rest, _ := c.Flush()
			if rest != tt.rest {
				t.Fatalf("Flush = %q, want %q", rest, tt.rest)
			}
		})
	}
}

func TestDefaultFirstChunkAcrossDeltas(t *testing.T) {
	c := New(Config{})
	if got := c.Push("ab"); got != nil {
		t.Fatalf("Push = %q, want nothing", got)
	}
	if got := c.Push("cd"); !slices.Equal(got, []string{"abcd"}) {
		t.Fatalf("Push = %q, want first chunk at %d runes", got, DefaultFirstMinChars)
	}
}

func TestPunctuationBeforeMinIsIgnored(t *testing.T) {
	c := New(Config{})
	// "好。" ends at rune 2, before FirstMinChars.
	if got := c.Push("好。"); got != nil {
		t.Fatalf("Push = %q, want nothing", got)
	}
	got := c.Push("我们走吧！")
	if !slices.Equal(got, []string{"好。我们"}) {
		t.Fatalf("Push = %q", got)
	}
}

func TestHardCut(t *testing.T) {
	c := New(Config{})
	got := c.Push(strings.Repeat("a", 84))
	want := []string{strings.Repeat("a", DefaultFirstMinChars), strings.Repeat("a", DefaultMaxChars), strings.Repeat("a", DefaultMaxChars)}
	if !slices.Equal(got, want) {
		t.Fatalf("Push = %q, want %q", got, want)
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending = %d", c.Pending())
	}
}

func TestHardCutLongerFirstChunk(t *testing.T) {
	c := New(Config{FirstMinChars: 2, FirstMaxChars: 5, MinChars: 3, MaxChars: 6})
	got := c.Push(strings.Repeat("a", 17))
	want := []string{"aaaaa", "aaaaaa", "aaaaaa"}
	if !slices.Equal(got, want) {
		t.Fatalf("Push = %q, want %q", got, want)
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending = %d", c.Pending())
	}
}

func TestLiteralFirstMinHardCut(t *testing.T) {
	c := New(Config{FirstMinChars: 3, FirstMaxChars: 3})
	got := c.Push("abcdef")
	if len(got) == 0 || got[0] != "abc" {
		t.Fatalf("Push = %q, want first chunk %q", got, "abc")
	}
}

func TestLaterChunksUseMinChars(t *testing.T) {
	c := New(Config{FirstMinChars: 2, MinChars: 6, MaxChars: 40})
	got := c.Push("嗨！好的。我明白了。")
	// "嗨！" is the first chunk; "好的。" is too short for MinChars.
	want := []string{"嗨！", "好的。我明白了。"}
	if !slices.Equal(got, want) {
		t.Fatalf("Push = %q, want %q", got, want)
	}
}

func TestFlushResetsFirstChunk(t *testing.T) {
	c := New(Config{FirstMinChars: 3, MinChars: 10})
	c.Push("一二。三四五")
	if _, ok := c.Flush(); !ok {
		t.Fatal("Flush returned nothing")
	}
	got := c.Push("六七。")
	if !slices.Equal(got, []string{"六七。"}) {
		t.Fatalf("Push after Flush = %q", got)
	}
}

func TestFlushDropsWhitespace(t *testing.T) {
	c := New(Config{})
	c.Push(" \n ")
	if s, ok := c.Flush(); ok {
		t.Fatalf("Flush = %q, want nothing", s)
	}
	if s, ok := c.Flush(); ok || s != "" {
		t.Fatalf("second Flush = %q, %v", s, ok)
	}
}

func TestConcatenationInvariant(t *testing.T) {
	alphabet := []rune("你好世界abc xyz。！？?!;\n，,")
	rng := rand.New(rand.NewPCG(1, 2))

	for trial := range 200 {
		c := New(Config{
			FirstMinChars: 1 + rng.IntN(6),
			MinChars:      1 + rng.IntN(12),
			MaxChars:      12 + rng.IntN(30),
		})
		var in, out strings.Builder
		for range 1 + rng.IntN(30) {
			n := rng.IntN(8)
			delta := make([]rune, n)
			for i := range delta {
				delta[i] = alphabet[rng.IntN(len(alphabet))]
			}
			in.WriteString(string(delta))
			for _, chunk := range c.Push(string(delta)) {
				out.WriteString(chunk)
			}
		}
		// End on a non-space rune so Flush keeps the remainder.
		in.WriteString("x")
		for _, chunk := range c.Push("x") {
			out.WriteString(chunk)
		}
		if rest, ok := c.Flush(); ok {
			out.WriteString(rest)
		}
		if in.String() != out.String() {
			t.Fatalf("trial %d: chunks %q != input %q", trial, out.String(), in.String())
		}
	}
}
