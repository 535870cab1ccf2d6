package runlength

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"a",
		"ab",
		"aaa",
		strings.Repeat("z", 500),
		"abcabcabc",
		"héllo wörld ✓ 日本語",
		strings.Repeat("ab", 200) + strings.Repeat("c", 129) + "d",
		`{"items":[],"total":0,"count":0}`,
	}
	for _, s := range cases {
		got, err := Decode(Encode([]byte(s)))
		if err != nil {
			t.Fatalf("Decode(%q): %v", s, err)
		}
		if string(got) != s {
			t.Fatalf("round trip mismatch: got %q want %q", got, s)
		}
	}
}

func TestRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := r.Intn(1024)
		b := make([]byte, n)
		for j := range b {
			// small alphabet to produce runs
			b[j] = byte(r.Intn(3))
		}
		got, err := Decode(Encode(b))
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if !bytes.Equal(got, b) {
			t.Fatalf("iteration %d: mismatch", i)
		}
	}
}

func TestCompressSkipsIncompressible(t *testing.T) {
	in := []byte("abcdefgh")
	out, ok := Compress(in)
	if ok {
		t.Fatalf("expected incompressible input to be left alone")
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("incompressible input modified")
	}

	runs := bytes.Repeat([]byte{'x'}, 300)
	out, ok = Compress(runs)
	if !ok || len(out) >= len(runs) {
		t.Fatalf("expected runs to shrink: ok=%v len=%d", ok, len(out))
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{5, 'a', 'b'}); err == nil {
		t.Fatalf("expected error on short literal block")
	}
	if _, err := Decode([]byte{0xFE}); err == nil {
		t.Fatalf("expected error on run header without byte")
	}
}
