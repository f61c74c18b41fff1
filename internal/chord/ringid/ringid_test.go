package ringid

import "testing"

func TestModulus(t *testing.T) {
	if got := Modulus(8); got != 256 {
		t.Fatalf("Modulus(8) = %d, want 256", got)
	}
	if got := Modulus(32); got != 1<<32 {
		t.Fatalf("Modulus(32) = %d, want %d", got, uint64(1)<<32)
	}
}

func TestHashIDDeterministic(t *testing.T) {
	a := HashID("127.0.0.1:5000", 32)
	b := HashID("127.0.0.1:5000", 32)
	if a != b {
		t.Fatalf("HashID not deterministic: %d != %d", a, b)
	}
	if a >= Modulus(32) {
		t.Fatalf("HashID out of range: %d", a)
	}
}

func TestHashIDRespectsBitlen(t *testing.T) {
	id := HashID("some-key", 8)
	if id >= 256 {
		t.Fatalf("HashID(_, 8) = %d, want < 256", id)
	}
}

func TestIsInArcNonWrapping(t *testing.T) {
	cases := []struct {
		x, a, b uint64
		want    bool
	}{
		{5, 1, 10, true},
		{1, 1, 10, true},
		{10, 1, 10, true},
		{0, 1, 10, false},
		{11, 1, 10, false},
	}
	for _, c := range cases {
		if got := IsInArc(c.x, c.a, c.b, 8); got != c.want {
			t.Errorf("IsInArc(%d,%d,%d)=%v, want %v", c.x, c.a, c.b, got, c.want)
		}
	}
}

func TestIsInArcWrapping(t *testing.T) {
	// a > b: arc wraps through 0. Spec example: is_in_arc(0, 250, 10) = true.
	if !IsInArc(0, 250, 10, 8) {
		t.Fatal("expected wrap-around arc to contain 0")
	}
	if !IsInArc(255, 250, 10, 8) {
		t.Fatal("expected wrap-around arc to contain 255")
	}
	if !IsInArc(5, 250, 10, 8) {
		t.Fatal("expected wrap-around arc to contain 5")
	}
	if IsInArc(128, 250, 10, 8) {
		t.Fatal("expected wrap-around arc to exclude 128")
	}
}

func TestIsInArcCanonicalFormLaw(t *testing.T) {
	// is_in_arc(x, a, b) == is_in_arc((x-a) mod 2^m, 0, (b-a) mod 2^m)
	const bitlen = 8
	mod := Modulus(bitlen)
	cases := []struct{ x, a, b uint64 }{
		{5, 1, 10},
		{0, 250, 10},
		{128, 250, 10},
		{200, 200, 200},
	}
	for _, c := range cases {
		got := IsInArc(c.x, c.a, c.b, bitlen)
		shiftedX := (c.x + mod - c.a%mod) % mod
		shiftedB := (c.b + mod - c.a%mod) % mod
		want := IsInArc(shiftedX, 0, shiftedB, bitlen)
		if got != want {
			t.Errorf("canonical form law violated for x=%d a=%d b=%d: got %v want %v", c.x, c.a, c.b, got, want)
		}
	}
}

func TestBlobIDAndHome(t *testing.T) {
	id := BlobID([]byte("hello world"))
	if len(id) != 64 {
		t.Fatalf("BlobID length = %d, want 64 (hex sha256)", len(id))
	}
	home, err := BlobHomeID(id, 32)
	if err != nil {
		t.Fatalf("BlobHomeID: %v", err)
	}
	if home >= Modulus(32) {
		t.Fatalf("home id out of range: %d", home)
	}
}

func TestBlobHomeIDRejectsInvalidHex(t *testing.T) {
	if _, err := BlobHomeID("not-hex!!", 32); err == nil {
		t.Fatal("expected error for invalid hex blob id")
	}
}
