package lfn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/boljen/go-bitmap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/embedfat/fatguard"
)

// ShortNameBitArraySize is this implementation's choice for
// FS_FAT_LFN_BIT_ARRAY_SIZE (spec §4.4.2): the number of candidate
// suffix indices scanned per window before advancing the search. Recorded
// as an Open Question decision in DESIGN.md.
const ShortNameBitArraySize = 4096

// MaxShortNameIndex is this implementation's choice for
// FS_FAT_LFN_MAX_SHORT_NAME: the largest numeric suffix ever tried before
// giving up with fatguard.ErrShortNameExhausted.
const MaxShortNameIndex = 999999

var upperCaser = cases.Upper(language.Und)

const validShortNameExtras = "$%'-_@~`!(){}^#&"

// IsValidShortNameByte reports whether b is legal in an 8.3 base or
// extension field: uppercase A-Z, digits, or one of the extra characters
// spec §4.4.3's short-name validator permits. Shared with checkdisk's
// directory-entry structural validation (spec §4.5.5).
func IsValidShortNameByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case strings.IndexByte(validShortNameExtras, b) >= 0:
		return true
	default:
		return false
	}
}

func sanitizeToShortNameBytes(s string) string {
	upper := upperCaser.String(s)
	var b strings.Builder
	for i := 0; i < len(upper); i++ {
		c := upper[i]
		if IsValidShortNameByte(c) {
			b.WriteByte(c)
		} else if c != ' ' && c != '.' {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// splitBaseExt splits a trimmed long name into (base-without-extension,
// extension) the way spec §4.4.2 step 3 derives them: extension is
// whatever follows the LAST '.', truncated to 3 bytes.
func splitBaseExt(trimmed string) (base, ext string) {
	idx := strings.LastIndex(trimmed, ".")
	if idx < 0 {
		return trimmed, ""
	}
	return trimmed[:idx], trimmed[idx+1:]
}

func padField(s string, width int) []byte {
	out := make([]byte, width)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}

// firstByteEscaped applies the 0xE5-escape and end-of-dir avoidance rule
// from spec §3/§4.4.2 to the first byte of an encoded base field.
func firstByteEscaped(base [8]byte) [8]byte {
	if base[0] == fatguard.DirentDeleted {
		base[0] = fatguard.DirentEscapedE5
	}
	return base
}

// fitsShortNameDirectly reports whether upper (already uppercased,
// trimmed) can be stored as an 8.3 name with no LFN entries: base <= 8
// bytes, extension (if any) <= 3 bytes, and every byte is a valid
// short-name character.
func fitsShortNameDirectly(upper string) (base, ext string, ok bool) {
	base, ext = splitBaseExt(upper)
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return "", "", false
	}
	for i := 0; i < len(base); i++ {
		if !IsValidShortNameByte(base[i]) {
			return "", "", false
		}
	}
	for i := 0; i < len(ext); i++ {
		if !IsValidShortNameByte(ext[i]) {
			return "", "", false
		}
	}
	return base, ext, true
}

// ShortNameResult is the outcome of GenerateShortName.
type ShortNameResult struct {
	Base     [8]byte
	Ext      [3]byte
	NeedsLFN bool
}

// GenerateShortName derives an 8.3 short name for longName, per spec
// §4.4.2. A name that already fits 8.3 is returned as-is, without
// consulting existingShortNames. Otherwise existingShortNames lists the
// "BASE.EXT"-form short names (space-trimmed) already present in the
// target directory, and a "~N" suffix is chosen that collides with none.
func GenerateShortName(longName string, existingShortNames []string) (ShortNameResult, error) {
	trimmed := NormalizeLongName(longName)
	upper := upperCaser.String(trimmed)

	if base, ext, ok := fitsShortNameDirectly(upper); ok {
		var result ShortNameResult
		copy(result.Base[:], padField(base, 8))
		copy(result.Ext[:], padField(ext, 3))
		result.Base = firstByteEscaped(result.Base)
		return result, nil
	}

	rawBase, rawExt := splitBaseExt(trimmed)
	strippedBase := sanitizeToShortNameBytes(rawBase)
	if strippedBase == "" {
		strippedBase = "_"
	}
	extCandidate := sanitizeToShortNameBytes(rawExt)
	if len(extCandidate) > 3 {
		extCandidate = extCandidate[:3]
	}

	existing := make(map[string]bool, len(existingShortNames))
	for _, name := range existingShortNames {
		existing[name] = true
	}

	for digits := 1; digits <= 6; digits++ {
		baseLen := 8 - 1 - digits
		if baseLen < 1 {
			baseLen = 1
		}
		truncatedBase := strippedBase
		if len(truncatedBase) > baseLen {
			truncatedBase = truncatedBase[:baseLen]
		}

		minIndex := 1
		for i := 1; i < digits; i++ {
			minIndex *= 10
		}
		maxIndex := minIndex*10 - 1
		if digits == 1 {
			minIndex = 1
		}

		for windowStart := minIndex; windowStart <= maxIndex; windowStart += ShortNameBitArraySize {
			bm := bitmap.New(ShortNameBitArraySize)
			for name := range existing {
				candBase, candExt := splitBaseExt(name)
				if !strings.EqualFold(candExt, extCandidate) {
					continue
				}
				prefix := truncatedBase + "~"
				if !strings.HasPrefix(strings.ToUpper(candBase), prefix) {
					continue
				}
				suffix := candBase[len(prefix):]
				idx, err := strconv.Atoi(suffix)
				if err != nil {
					continue
				}
				if idx >= windowStart && idx < windowStart+ShortNameBitArraySize {
					bm.Set(idx-windowStart, true)
				}
			}

			for i := 0; i < ShortNameBitArraySize; i++ {
				idx := windowStart + i
				if idx > maxIndex || idx > MaxShortNameIndex {
					break
				}
				if bm.Get(i) {
					continue
				}
				name := fmt.Sprintf("%s~%d", truncatedBase, idx)
				var result ShortNameResult
				copy(result.Base[:], padField(name, 8))
				copy(result.Ext[:], padField(extCandidate, 3))
				result.Base = firstByteEscaped(result.Base)
				result.NeedsLFN = true
				return result, nil
			}
		}
	}

	return ShortNameResult{}, fatguard.ErrShortNameExhausted
}
