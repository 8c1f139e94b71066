package tokencount

import "testing"

func TestCountEmptyString(t *testing.T) {
	c := New()
	if got := c.Count(""); got != 0 {
		t.Errorf("expected 0 tokens for empty string, got %d", got)
	}
}

func TestCountNonEmptyString(t *testing.T) {
	c := New()
	got := c.Count("the quick brown fox jumps over the lazy dog")
	if got <= 0 {
		t.Errorf("expected a positive token count, got %d", got)
	}
}

func TestCountIsStableAcrossCalls(t *testing.T) {
	c := New()
	text := "repeated measurement of the same string"
	first := c.Count(text)
	second := c.Count(text)
	if first != second {
		t.Errorf("expected stable counts, got %d then %d", first, second)
	}
}
