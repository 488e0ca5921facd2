package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(?:\+?\d[\d()\-\s.]{7,}\d)`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
)

// MaskPII redacts emails, card numbers and phone numbers from issue text
// before it is embedded in a provider prompt and leaves the process. Cards are
// masked before phones: a long digit run must keep its last four, not collapse
// into a phone redaction.
func MaskPII(value string) string {
	masked := emailPattern.ReplaceAllStringFunc(value, func(_ string) string {
		return "[email_redacted]"
	})
	masked = cardPattern.ReplaceAllStringFunc(masked, maskCardNumber)
	masked = phonePattern.ReplaceAllStringFunc(masked, func(_ string) string {
		return "[phone_redacted]"
	})
	return masked
}

func maskCardNumber(value string) string {
	digits := make([]rune, 0, len(value))
	for _, char := range value {
		if char >= '0' && char <= '9' {
			digits = append(digits, char)
		}
	}
	if len(digits) < 8 {
		return "[card_redacted]"
	}

	last4 := string(digits[len(digits)-4:])
	return "**** **** **** " + last4
}
