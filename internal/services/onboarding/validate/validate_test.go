package validate

import (
	"errors"
	"testing"

	apperrors "github.com/emberline/threshold/internal/platform/errors"
)

func TestEmailAcceptsValidAddresses(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"a@b.co", "a@b.co"},
		{"  ada@lovelace.dev  ", "ada@lovelace.dev"},
		{"first.last@sub.example.com", "first.last@sub.example.com"},
	}
	for _, tc := range cases {
		got, err := Email(tc.raw)
		if err != nil {
			t.Fatalf("Email(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("Email(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestEmailRejectsMalformedAddresses(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"not-an-email",
		"@b.co",
		"a@b",
		"a@b.",
		"a@.co",
		"a@@b.co",
		"a b@c.co",
		"a@b c.co",
	}
	for _, raw := range cases {
		_, err := Email(raw)
		if err == nil {
			t.Fatalf("Email(%q): expected error", raw)
		}
		if got := apperrors.CodeOf(err); got != apperrors.CodeAnswerInvalidFormat {
			t.Fatalf("Email(%q) code = %q, want %q", raw, got, apperrors.CodeAnswerInvalidFormat)
		}
	}
}

func TestNameRequiresMinimumLength(t *testing.T) {
	if _, err := Name("A"); apperrors.CodeOf(err) != apperrors.CodeAnswerTooShort {
		t.Fatalf("expected too-short error, got %v", err)
	}
	if _, err := Name("  A  "); apperrors.CodeOf(err) != apperrors.CodeAnswerTooShort {
		t.Fatalf("expected too-short error for padded input, got %v", err)
	}

	got, err := Name("  Ada ")
	if err != nil {
		t.Fatalf("Name: %v", err)
	}
	if got != "Ada" {
		t.Fatalf("Name = %q, want trimmed %q", got, "Ada")
	}
}

func TestSingleChoice(t *testing.T) {
	choices := []string{"Tech", "Marketing", "Sales"}

	got, err := SingleChoice("Tech", choices)
	if err != nil {
		t.Fatalf("single choice: %v", err)
	}
	if got != "Tech" {
		t.Fatalf("choice = %q, want Tech", got)
	}

	if _, err := SingleChoice("", choices); apperrors.CodeOf(err) != apperrors.CodeAnswerNoSelection {
		t.Fatalf("expected no-selection error, got %v", err)
	}
	if _, err := SingleChoice("Gardening", choices); apperrors.CodeOf(err) != apperrors.CodeAnswerUnknownChoice {
		t.Fatalf("expected unknown-choice error, got %v", err)
	}
}

func TestMultiChoicePreservesOrderAndDropsDuplicates(t *testing.T) {
	choices := []string{"React", "Python", "SQL", "Docker"}

	got, err := MultiChoice([]string{"SQL", "React", "SQL", "Docker"}, choices)
	if err != nil {
		t.Fatalf("multi choice: %v", err)
	}
	want := []string{"SQL", "React", "Docker"}
	if len(got) != len(want) {
		t.Fatalf("selection len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selection[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMultiChoiceRejectsEmptyAndUnknown(t *testing.T) {
	choices := []string{"React", "Python"}

	if _, err := MultiChoice(nil, choices); apperrors.CodeOf(err) != apperrors.CodeAnswerEmptySelection {
		t.Fatalf("expected empty-selection error, got %v", err)
	}
	if _, err := MultiChoice([]string{"", "  "}, choices); apperrors.CodeOf(err) != apperrors.CodeAnswerEmptySelection {
		t.Fatalf("expected empty-selection error for blank labels, got %v", err)
	}
	if _, err := MultiChoice([]string{"COBOL"}, choices); apperrors.CodeOf(err) != apperrors.CodeAnswerUnknownChoice {
		t.Fatalf("expected unknown-choice error, got %v", err)
	}
}

func TestValidationErrorsArePure(t *testing.T) {
	// Same input, same result: no hidden state between calls.
	for i := 0; i < 3; i++ {
		_, err1 := Email("broken")
		_, err2 := Email("broken")
		if !errors.Is(err1, err2) {
			t.Fatal("expected identical validation errors across calls")
		}
	}
}
