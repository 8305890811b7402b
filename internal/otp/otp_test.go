package otp

import (
	"bytes"
	"strconv"
	"testing"
)

func TestGenerateRange(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := Generate()
		if err != nil {
			t.Fatalf("Generate error: %v", err)
		}
		if len(code) != Digits {
			t.Fatalf("expected %d digits, got %q", Digits, code)
		}
		n, err := strconv.Atoi(code)
		if err != nil || n < minCode || n > maxCode {
			t.Fatalf("code out of range: %q", code)
		}
	}
}

func TestGenerateFromZeroSourceIsLowerBound(t *testing.T) {
	code, err := GenerateFrom(bytes.NewReader(make([]byte, 64)))
	if err != nil {
		t.Fatalf("GenerateFrom error: %v", err)
	}
	if code != "100000" {
		t.Fatalf("expected lower bound, got %q", code)
	}
}

func TestGenerateFromExhaustedSource(t *testing.T) {
	if _, err := GenerateFrom(bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error from empty source")
	}
	if _, err := GenerateFrom(nil); err == nil {
		t.Fatal("expected error from nil source")
	}
}

func TestEqual(t *testing.T) {
	cases := []struct {
		stored, supplied string
		want             bool
	}{
		{"482913", "482913", true},
		{"482913", "482914", false},
		{"482913", " 482913", false},
		{"482913", "48291", false},
		{"", "", false},
		{"", "000000", false},
	}
	for _, c := range cases {
		if got := Equal(c.stored, c.supplied); got != c.want {
			t.Fatalf("Equal(%q, %q) = %v, want %v", c.stored, c.supplied, got, c.want)
		}
	}
}
