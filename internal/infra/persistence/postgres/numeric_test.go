package postgres

import (
	"testing"
)

func TestDecimalFromText(t *testing.T) {
	got, err := decimalFromText(" 123.456 ")
	if err != nil {
		t.Fatalf("decimalFromText: %v", err)
	}
	if got.String() != "123.456" {
		t.Fatalf("expected 123.456, got %s", got)
	}
}

func TestDecimalFromTextRejectsEmpty(t *testing.T) {
	if _, err := decimalFromText("  "); err == nil {
		t.Fatal("expected error for empty numeric text")
	}
}

func TestDecimalFromTextRejectsGarbage(t *testing.T) {
	if _, err := decimalFromText("12,5"); err == nil {
		t.Fatal("expected error for malformed numeric text")
	}
}

func TestDecimalsFromTexts(t *testing.T) {
	got, err := decimalsFromTexts([]string{"1", "0", "0.5"})
	if err != nil {
		t.Fatalf("decimalsFromTexts: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 values, got %d", len(got))
	}
	if got[2].String() != "0.5" {
		t.Fatalf("expected 0.5, got %s", got[2])
	}
}

func TestDecimalsFromTextsPropagatesError(t *testing.T) {
	if _, err := decimalsFromTexts([]string{"1", "x"}); err == nil {
		t.Fatal("expected error for malformed element")
	}
}
