// Package validate checks raw wizard answers against per-step rules.
// All checks are pure: they normalize and verify input without touching
// any state, so repeated invocation with the same input is harmless.
package validate

import (
	"strings"

	apperrors "github.com/emberline/threshold/internal/platform/errors"
)

// Kind selects the validation rule applied to a step's answer.
type Kind int

const (
	// KindEmail requires a syntactically plausible email address.
	KindEmail Kind = iota
	// KindName requires a trimmed free-text value of at least MinNameLength.
	KindName
	// KindSingleChoice requires exactly one of the step's listed choices.
	KindSingleChoice
	// KindMultiChoice requires a non-empty subset of the step's choices.
	KindMultiChoice
)

// MinNameLength is the minimum trimmed length accepted for name answers.
const MinNameLength = 2

// Email normalizes and validates an email answer. The accepted shape is
// local@domain.tld: a non-empty local part, a single @, a domain with an
// interior dot, and no whitespace anywhere.
func Email(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" || strings.ContainsAny(value, " \t\n\r") {
		return "", invalidEmail(value)
	}
	at := strings.Index(value, "@")
	if at <= 0 || at != strings.LastIndex(value, "@") {
		return "", invalidEmail(value)
	}
	domain := value[at+1:]
	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return "", invalidEmail(value)
	}
	return value, nil
}

// Name normalizes and validates a display-name answer.
func Name(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if len(value) < MinNameLength {
		return "", apperrors.WithMetadata(
			apperrors.CodeAnswerTooShort,
			"name must be at least 2 characters",
			map[string]string{"min": "2"},
		)
	}
	return value, nil
}

// SingleChoice validates a single-choice answer against the step's
// choices. The success value is the chosen label.
func SingleChoice(choice string, choices []string) (string, error) {
	choice = strings.TrimSpace(choice)
	if choice == "" {
		return "", apperrors.New(apperrors.CodeAnswerNoSelection, "no choice selected")
	}
	if !contains(choices, choice) {
		return "", apperrors.WithMetadata(
			apperrors.CodeAnswerUnknownChoice,
			"choice is not one of the step's options",
			map[string]string{"choice": choice},
		)
	}
	return choice, nil
}

// MultiChoice validates a multi-choice answer against the step's choices.
// The success value preserves selection order and drops duplicates.
func MultiChoice(selected []string, choices []string) ([]string, error) {
	seen := make(map[string]bool, len(selected))
	var result []string
	for _, choice := range selected {
		choice = strings.TrimSpace(choice)
		if choice == "" || seen[choice] {
			continue
		}
		if !contains(choices, choice) {
			return nil, apperrors.WithMetadata(
				apperrors.CodeAnswerUnknownChoice,
				"choice is not one of the step's options",
				map[string]string{"choice": choice},
			)
		}
		seen[choice] = true
		result = append(result, choice)
	}
	if len(result) == 0 {
		return nil, apperrors.New(apperrors.CodeAnswerEmptySelection, "at least one choice is required")
	}
	return result, nil
}

func invalidEmail(value string) error {
	return apperrors.WithMetadata(
		apperrors.CodeAnswerInvalidFormat,
		"answer is not a valid email address",
		map[string]string{"value": value},
	)
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
