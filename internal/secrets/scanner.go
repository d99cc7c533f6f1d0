// Package secrets finds and masks credentials in text returned to clients.
package secrets

// Detection represents a detected secret in text.
type Detection struct {
	PatternName string // e.g. "AWS Access Key"
	Start       int    // byte offset
	End         int    // byte offset
}

// Scanner scans text for secrets using pre-compiled regex patterns.
type Scanner struct {
	patterns []Pattern
}

// NewScanner creates a scanner with the default secret patterns.
func NewScanner() *Scanner {
	return &Scanner{patterns: DefaultPatterns()}
}

// Scan checks a single text string for secrets and returns all detections.
func (s *Scanner) Scan(text string) []Detection {
	var detections []Detection
	for _, p := range s.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{
				PatternName: p.Name,
				Start:       loc[0],
				End:         loc[1],
			})
		}
	}
	return detections
}

// Redact masks every detected secret. Patterns apply in order, so a private
// key block is removed whole before its contents could match anything else.
func (s *Scanner) Redact(text string) string {
	for _, p := range s.patterns {
		if !p.Regex.MatchString(text) {
			continue
		}
		repl := p.Replace
		if repl == "" {
			repl = mask
		}
		text = p.Regex.ReplaceAllString(text, repl)
	}
	return text
}
