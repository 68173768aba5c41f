package privacy

import (
	"regexp"
	"strings"
	"unicode"
)

// Pre-compiled patterns. Order matters for error text: emails before paths so that
// an address is replaced as a unit.
var (
	emailRe       = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	pathRe        = regexp.MustCompile(`\S*[/\\]\S*`)
	opaqueRunRe   = regexp.MustCompile(`[A-Za-z0-9+=_\-]+`)
	hexRe         = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	commandTokRe  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`)
	flagNameRe    = regexp.MustCompile(`^--?[A-Za-z][A-Za-z0-9_-]*$`)
	toolNameStrip = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	versionStrip  = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	// exceptionNameRe is the one long run error text may keep: a CamelCase
	// exception class such as ConnectionRefusedError.
	exceptionNameRe = regexp.MustCompile(`^[A-Z][a-z]+(?:[A-Z][a-z]+)*(?:Error|Exception)$`)
)

// blockedFlagSubstrings removes a flag whenever its name contains one of these,
// regardless of any other allow-listing.
var blockedFlagSubstrings = []string{
	"token",
	"password",
	"passwd",
	"secret",
	"key",
	"auth",
	"credential",
}

const (
	maxCommandToken = 64
	maxToolName     = 128
	maxToolVersion  = 64
)

// opaqueRun reports whether a space-free run in error text must be redacted.
// Every run of minLen or more goes, letters-only included, unless it names an
// exception class.
func opaqueRun(s string, minLen int) bool {
	return len(s) >= minLen && !exceptionNameRe.MatchString(s)
}

// looksOpaque flags strings that read like keys, hashes or encoded blobs rather than
// words. Hex and anything carrying digits or base64 padding qualify once long enough;
// letters-only strings qualify when their case flips as often as random text does.
func looksOpaque(s string, minLen int) bool {
	if len(s) < minLen {
		return false
	}
	if hexRe.MatchString(s) {
		return true
	}
	if strings.ContainsAny(s, "+=") {
		return true
	}
	var digits, flips, letters int
	prevUpper, prevLetter := false, false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
			prevLetter = false
		case unicode.IsLetter(r):
			letters++
			upper := unicode.IsUpper(r)
			if prevLetter && upper != prevUpper {
				flips++
			}
			prevUpper, prevLetter = upper, true
		default:
			prevLetter = false
		}
	}
	if digits > 0 {
		return true
	}
	return letters > 1 && float64(flips)/float64(letters-1) > 0.4
}

func flagBlocked(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range blockedFlagSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
