// Package policy guards what leaves the service. Client DMs may carry
// contact details, social handles or payment data; those are masked before
// the text is handed to a reply-suggestion collaborator.
package policy

import "regexp"

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	handlePattern = regexp.MustCompile(`@[A-Za-z0-9][A-Za-z0-9._]{1,29}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks contact, handle and payment patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	// Emails go first so the handle pattern cannot eat half an address.
	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	next = handlePattern.ReplaceAllString(out, "[REDACTED_HANDLE]")
	changed = changed || next != out
	out = next

	return out, changed
}
