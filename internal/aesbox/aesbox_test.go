package aesbox

import "testing"

func TestSBoxKnownEntries(t *testing.T) {
	cases := []struct {
		in, want byte
	}{
		{0x00, 0x63},
		{0x01, 0x7c},
		{0x53, 0xed},
		{0xff, 0x16},
	}
	for _, c := range cases {
		if got := SBox[c.in]; got != c.want {
			t.Errorf("SBox[%#02x]=%#02x want %#02x", c.in, got, c.want)
		}
	}
}

func TestSBoxIsPermutation(t *testing.T) {
	var seen [256]bool
	for i := 0; i < 256; i++ {
		v := SBox[i]
		if seen[v] {
			t.Fatalf("value %#02x appears twice", v)
		}
		seen[v] = true
	}
}

func TestIntermediate(t *testing.T) {
	if got := Intermediate(0x00, 0x00); got != 0x63 {
		t.Fatalf("Intermediate(0,0)=%#02x want 0x63", got)
	}
	if got := Intermediate(0x12, 0x41); got != SBox[0x53] {
		t.Fatalf("Intermediate(0x12,0x41)=%#02x want %#02x", got, SBox[0x53])
	}
}

func TestWeight(t *testing.T) {
	for _, c := range []struct {
		b    byte
		want int
	}{{0x00, 0}, {0x01, 1}, {0x0f, 4}, {0xa5, 4}, {0xff, 8}} {
		if got := Weight(c.b); got != c.want {
			t.Errorf("Weight(%#02x)=%d want %d", c.b, got, c.want)
		}
	}
}
