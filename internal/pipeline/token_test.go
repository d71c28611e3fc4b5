package pipeline

import (
	"strings"
	"testing"
)

func TestMaskToken_Short(t *testing.T) {
	for _, tok := range []string{"", "a", "abcd", "12345678"} {
		got := MaskToken(tok)
		if got != strings.Repeat("*", len(tok)) {
			t.Errorf("MaskToken(%q) = %q, want all mask characters", tok, got)
		}
	}
}

func TestMaskToken_Long(t *testing.T) {
	for _, tok := range []string{"123456789", "secret-deploy-token-value", "abcdEFGHijkl"} {
		got := MaskToken(tok)
		if len(got) != len(tok) {
			t.Errorf("len(MaskToken(%q)) = %d, want %d", tok, len(got), len(tok))
		}
		if got[:4] != tok[:4] {
			t.Errorf("MaskToken(%q) prefix = %q, want %q", tok, got[:4], tok[:4])
		}
		if got[len(got)-4:] != tok[len(tok)-4:] {
			t.Errorf("MaskToken(%q) suffix = %q, want %q", tok, got[len(got)-4:], tok[len(tok)-4:])
		}
		middle := got[4 : len(got)-4]
		if strings.Trim(middle, "*") != "" {
			t.Errorf("MaskToken(%q) middle = %q, want only mask characters", tok, middle)
		}
	}
}

func TestTokensEqual(t *testing.T) {
	if !TokensEqual("s3cret-token", "s3cret-token") {
		t.Error("TokensEqual(same) = false")
	}
	if TokensEqual("s3cret-token", "s3cret-tokeN") {
		t.Error("TokensEqual(different) = true")
	}
	if TokensEqual("", "") {
		t.Error("TokensEqual(empty, empty) = true, want false")
	}
	if TokensEqual("anything", "") {
		t.Error("TokensEqual with unset secret = true, want false")
	}
}
