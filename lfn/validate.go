package lfn

import (
	"strings"
	"unicode/utf8"

	"github.com/embedfat/fatguard"
)

// MaxLongNameLength is the code-point cap spec §4.4.3 imposes.
const MaxLongNameLength = 255

var invalidLiteralChars = "\\/:*?<>|\""

// ValidateLongName checks a candidate long name against spec §4.4.3:
// no control characters, no DEL, none of \/:*?<>|", not all dots, within
// the length cap, and well-formed UTF-8.
func ValidateLongName(name string) error {
	if !utf8.ValidString(name) {
		return fatguard.ErrInvalidLongName.WithMessage("malformed UTF-8")
	}

	runes := []rune(name)
	if len(runes) > MaxLongNameLength {
		return fatguard.ErrInvalidLongName.WithMessage("name exceeds 255 code points")
	}

	allDots := true
	for _, r := range runes {
		if r != '.' {
			allDots = false
		}
		if r < 0x20 || r == 0x7F {
			return fatguard.ErrInvalidLongName.WithMessage("control character in name")
		}
		if strings.ContainsRune(invalidLiteralChars, r) {
			return fatguard.ErrInvalidLongName.WithMessage("reserved character in name")
		}
	}
	if allDots {
		return fatguard.ErrInvalidLongName.WithMessage("name consists entirely of '.'")
	}
	return nil
}

// NormalizeLongName applies the trim rule spec §8's round-trip property
// requires of decode_long_name: trim leading spaces and trailing
// spaces/periods.
func NormalizeLongName(name string) string {
	name = strings.TrimLeft(name, " ")
	return strings.TrimRight(name, " .")
}
