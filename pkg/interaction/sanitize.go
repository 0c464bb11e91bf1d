package interaction

import (
	"fmt"
	"html"
	"strings"

	"github.com/shellflow/shellflow/pkg/models"
)

// Affirmative vocabulary for confirmation answers. Anything else, including
// the empty string, normalizes to "no".
var affirmatives = map[string]struct{}{
	"y": {}, "yes": {}, "true": {}, "ok": {}, "confirm": {}, "1": {},
}

// Substrings treated as injection signatures in free-text answers. A match
// rejects the response outright instead of stripping the offending part.
var injectionSignatures = []string{
	"$(", "`", ";", "&&", "||", "|", ">", "<", "\n", "\r", "../",
}

// sanitize validates and normalizes a raw response for the interaction's
// declared type. Passwords pass through unmodified; the caller is
// responsible for marking them sensitive.
func sanitize(interaction *models.Interaction, raw string) (string, error) {
	switch interaction.Type {
	case models.InteractionConfirm, models.InteractionRecommendConfirm:
		if _, ok := affirmatives[strings.ToLower(strings.TrimSpace(raw))]; ok {
			return "yes", nil
		}

		return "no", nil

	case models.InteractionSelect:
		answer := strings.TrimSpace(raw)
		for _, option := range interaction.Options {
			if answer == option {
				return answer, nil
			}
		}

		return "", &models.ValidationError{
			Field:   "response",
			Message: fmt.Sprintf("%q is not one of the offered options", answer),
		}

	case models.InteractionPassword:
		return raw, nil

	case models.InteractionInput, models.InteractionForm, models.InteractionFile:
		for _, signature := range injectionSignatures {
			if strings.Contains(raw, signature) {
				return "", models.NewFlowError(models.ErrKindSecurity,
					"remove shell metacharacters from the response",
					fmt.Errorf("response contains %q", signature))
			}
		}

		return html.EscapeString(raw), nil

	default:
		return "", &models.ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("interaction type %q accepts no response", interaction.Type),
		}
	}
}

// defaultAnswer is the response substituted when an interaction times out.
func defaultAnswer(interaction *models.Interaction) string {
	switch interaction.Type {
	case models.InteractionConfirm, models.InteractionRecommendConfirm:
		return "no"
	case models.InteractionSelect:
		if len(interaction.Options) > 0 {
			return interaction.Options[0]
		}

		return ""
	default:
		return ""
	}
}
