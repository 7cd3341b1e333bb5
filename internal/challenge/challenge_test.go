package challenge

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestGenerateLengthAndAlphabet(t *testing.T) {
	for _, length := range []int{1, 4, 6, 8, 32} {
		c, err := Generate(length)
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if len(c.Solution) != length {
			t.Fatalf("expected solution length %d, got %d", length, len(c.Solution))
		}
		for i := 0; i < len(c.Solution); i++ {
			if !strings.ContainsRune(Alphabet, rune(c.Solution[i])) {
				t.Fatalf("solution char %q outside alphabet", c.Solution[i])
			}
		}
	}
}

func TestGenerateRejectsOversize(t *testing.T) {
	if _, err := Generate(MaxLength + 1); err == nil {
		t.Fatalf("expected length rejection")
	}
}

func TestGenerateDefaultsLength(t *testing.T) {
	c, err := Generate(0)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(c.Solution) != DefaultLength {
		t.Fatalf("expected default length %d, got %d", DefaultLength, len(c.Solution))
	}
}

func TestDeriveDeterministic(t *testing.T) {
	c1, err := Derive("secret-a", "session-1", 8)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	c2, err := Derive("secret-a", "session-1", 8)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if c1.Solution != c2.Solution || c1.Text != c2.Text {
		t.Fatalf("expected identical derivation, got %q vs %q", c1.Solution, c2.Solution)
	}
	c3, err := Derive("secret-a", "session-2", 8)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if c3.Solution == c1.Solution {
		t.Fatalf("expected session id to change derivation")
	}
	c4, err := Derive("secret-b", "session-1", 8)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if c4.Solution == c1.Solution {
		t.Fatalf("expected secret to change derivation")
	}
}

func TestDeriveRejectsEmptyMaterial(t *testing.T) {
	if _, err := Derive("", "session", 6); err == nil {
		t.Fatalf("expected empty secret rejection")
	}
	if _, err := Derive("secret", "", 6); err == nil {
		t.Fatalf("expected empty session rejection")
	}
}

func TestVerifySolutionNormalizes(t *testing.T) {
	text := Render("K3P9R2")
	cases := []struct {
		answer string
		want   bool
	}{
		{"K3P9R2", true},
		{"k3p9r2", true},
		{" k3 p9 r2 ", true},
		{"K3P9R", false},
		{"wrong", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := VerifySolution(text, tc.answer); got != tc.want {
			t.Fatalf("verify(%q) = %v, want %v", tc.answer, got, tc.want)
		}
	}
}

func TestVerifySolutionEmptyText(t *testing.T) {
	if VerifySolution("", "anything") {
		t.Fatalf("expected empty text to fail verification")
	}
}

func TestRenderRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		length := rapid.IntRange(1, MaxLength).Draw(t, "length")
		idx := rapid.SliceOfN(rapid.IntRange(0, len(Alphabet)-1), length, length).Draw(t, "idx")
		sol := make([]byte, length)
		for i, j := range idx {
			sol[i] = Alphabet[j]
		}
		solution := string(sol)
		text := Render(solution)
		if !VerifySolution(text, solution) {
			t.Fatalf("round trip failed for %q", solution)
		}
		if SolutionFromText(text) != solution {
			t.Fatalf("render not invertible for %q", solution)
		}
	})
}
