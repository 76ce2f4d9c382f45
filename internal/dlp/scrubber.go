// Package dlp detects and redacts PII in request content before it leaves
// the gateway.
//
// Detection is a single regex pass over an ordered pattern table. Patterns
// are ordered by specificity: unambiguous structured formats (email, IBAN,
// credit card) run before broad numeric patterns (phone, dates) so a value
// is claimed by the most specific detector that matches it.
//
// Each match is replaced by a typed placeholder of the form <NAME>, e.g.
// <EMAIL_ADDRESS>. Placeholders contain only uppercase letters, underscores
// and angle brackets, so no placeholder can re-match any pattern — scrubbing
// is idempotent.
//
// Failure isolation: the scrubber never fails a request. Any internal error
// forwards the original text and logs the incident. This is a deliberate
// availability-over-privacy trade-off.
package dlp

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/promgate/llm-gateway/internal/providers"
)

// Placeholder tokens, fixed by the gateway's redaction contract.
const (
	PlaceholderEmail          = "<EMAIL_ADDRESS>"
	PlaceholderPhone          = "<PHONE_NUMBER>"
	PlaceholderCreditCard     = "<CREDIT_CARD>"
	PlaceholderPerson         = "<PERSON_NAME>"
	PlaceholderLocation       = "<LOCATION>"
	PlaceholderIBAN           = "<IBAN_CODE>"
	PlaceholderSSN            = "<SSN>"
	PlaceholderIP             = "<IP_ADDRESS>"
	PlaceholderURL            = "<URL>"
	PlaceholderDriverLicense  = "<DRIVER_LICENSE>"
	PlaceholderPassport       = "<PASSPORT>"
	PlaceholderDateTime       = "<DATE_TIME>"
	PlaceholderMedicalLicense = "<MEDICAL_LICENSE>"
	PlaceholderNationalID     = "<NATIONAL_ID>"
)

// pattern pairs a compiled regex with its replacement placeholder.
type pattern struct {
	re          *regexp.Regexp
	placeholder string
}

// Scrubber replaces detected PII spans with typed placeholders.
// Safe for concurrent use: patterns are compiled once and never mutated.
type Scrubber struct {
	patterns []pattern
	log      *slog.Logger
}

// New compiles the pattern table and returns a ready Scrubber.
func New(log *slog.Logger) *Scrubber {
	if log == nil {
		log = slog.Default()
	}

	// Ordered most-specific first. A value consumed by an earlier pattern is
	// no longer visible to later, broader ones (credit card before phone,
	// SSN before phone, URL before anything that could match a bare host).
	specs := []struct {
		expr        string
		placeholder string
	}{
		// Email: unambiguous structural markers (@, domain, TLD).
		{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, PlaceholderEmail},
		// URL with explicit scheme.
		{`\bhttps?://[^\s<>"']+`, PlaceholderURL},
		// IBAN: country code + check digits + BBAN.
		{`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`, PlaceholderIBAN},
		// Credit card: four 4-digit groups, optionally separated.
		{`\b(?:\d{4}[\-\s]?){3}\d{4}\b`, PlaceholderCreditCard},
		// SSN: hyphenated or bare 9-digit form.
		{`\b\d{3}-\d{2}-\d{4}\b|\b\d{9}\b`, PlaceholderSSN},
		// IPv6: colon-hex syntax is structurally unambiguous.
		{`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b|\b(?:[0-9a-fA-F]{1,4}:){1,6}:[0-9a-fA-F]{1,4}\b`, PlaceholderIP},
		// IPv4.
		{`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`, PlaceholderIP},
		// US passport: 9 alphanumeric starting with a letter, keyword-anchored.
		{`(?i)\bpassport(?:\s+(?:no|number|#))?[:.\s]*[A-Z][0-9]{8}\b`, PlaceholderPassport},
		// Driver license, keyword-anchored.
		{`(?i)\b(?:driver'?s?\s+licen[cs]e|DL)(?:\s+(?:no|number|#))?[:.\s]*[A-Z0-9]{5,13}\b`, PlaceholderDriverLicense},
		// Medical license (DEA-style), keyword-anchored.
		{`(?i)\b(?:medical\s+licen[cs]e|DEA)(?:\s+(?:no|number|#))?[:.\s]*[A-Z]{2}\d{7}\b`, PlaceholderMedicalLicense},
		// National ID, keyword-anchored.
		{`(?i)\bnational\s+id(?:\s+(?:no|number|#))?[:.\s]*[A-Z0-9\-]{6,15}\b`, PlaceholderNationalID},
		// Phone: NANP shapes with optional country code and separators. The
		// separator after the country code is only allowed when the code is
		// present, so the match never starts on bare whitespace.
		{`(?:\+?1[\-.\s]?)?\(?\d{3}\)?[\-.\s]?\d{3}[\-.\s]?\d{4}\b`, PlaceholderPhone},
		// Dates: numeric slash/dash forms and "Month DD, YYYY".
		{`\b\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b`, PlaceholderDateTime},
		{`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b`, PlaceholderDateTime},
		// Person name: honorific-prefixed capitalized names only; a broader
		// name detector needs NER and is out of reach for a regex pass.
		{`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b`, PlaceholderPerson},
		// Location: street address with a street-type suffix keyword.
		{`(?i)\b\d+\s+[A-Za-z][A-Za-z\s]*(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\.?\b`, PlaceholderLocation},
	}

	s := &Scrubber{log: log}
	for _, spec := range specs {
		re, err := regexp.Compile(spec.expr)
		if err != nil {
			// A pattern that fails to compile is a programming error; skip it
			// rather than refuse to start, per the availability contract.
			log.Error("dlp_pattern_compile_error",
				slog.String("pattern", spec.expr),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.patterns = append(s.patterns, pattern{re: re, placeholder: spec.placeholder})
	}
	return s
}

// ScrubText replaces all detected PII spans in text with typed placeholders.
// Empty input passes through unchanged.
func (s *Scrubber) ScrubText(text string) string {
	if text == "" {
		return text
	}
	result := text
	for _, p := range s.patterns {
		result = p.re.ReplaceAllString(result, p.placeholder)
	}
	return result
}

// ScrubRequest rewrites every message content of req in place. A nil scrubber
// is a no-op, so the gateway can run with redaction disabled.
func (s *Scrubber) ScrubRequest(ctx context.Context, req *providers.ChatRequest) {
	if s == nil || req == nil {
		return
	}
	for i := range req.Messages {
		scrubbed := s.scrubSafe(ctx, req.Messages[i].Content)
		req.Messages[i].Content = scrubbed
	}
}

// scrubSafe guards a single ScrubText call against panics from pathological
// inputs. The original text is forwarded on failure.
func (s *Scrubber) scrubSafe(ctx context.Context, text string) (out string) {
	out = text
	defer func() {
		if r := recover(); r != nil {
			s.log.WarnContext(ctx, "dlp_scrub_error", slog.Any("panic", r))
			out = text
		}
	}()
	return s.ScrubText(text)
}
