package buffer

import (
	"fmt"
	"unicode/utf8"

	"github.com/linehouse/linehouse/lineerror"
)

// DefaultMaxNameLen matches the file-name length limit of the server, which
// stores every table and column as a directory entry.
const DefaultMaxNameLen = 127

// Characters that the server rejects in table names. Space and equals are
// not listed: those are escapable.
const badTableNameChars = "?,'\"\\/:)(+*%~"

// Column names additionally cannot contain '.' and '-'.
const badColumnNameChars = "?.,'\"\\/:)(+*%~-"

func nameError(kind, name, why string) error {
	return lineerror.NewCustom(lineerror.CodeInvalidName, fmt.Sprintf("Bad %s name", kind), fmt.Sprintf("%q: %s", name, why))
}

// ValidateTableName checks that name can be written on the wire after
// escaping. It does not escape anything itself.
func ValidateTableName(name string, maxLen int) error {
	if err := validateName("table", name, maxLen, badTableNameChars); err != nil {
		return err
	}
	if name[0] == '.' || name[len(name)-1] == '.' {
		return nameError("table", name, "cannot start or end with a dot")
	}
	return nil
}

// ValidateColumnName checks a tag or column name.
func ValidateColumnName(name string, maxLen int) error {
	return validateName("column", name, maxLen, badColumnNameChars)
}

func validateName(kind, name string, maxLen int, badChars string) error {
	if len(name) == 0 {
		return nameError(kind, name, "empty")
	}
	if len(name) > maxLen {
		return nameError(kind, name, fmt.Sprintf("longer than %d bytes", maxLen))
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c == 0x7f {
			return nameError(kind, name, "contains control characters")
		}
		if c == 0xef && i+2 < len(name) && name[i+1] == 0xbb && name[i+2] == 0xbf {
			return nameError(kind, name, "contains UTF-8 BOM")
		}
		for j := 0; j < len(badChars); j++ {
			if c == badChars[j] {
				return nameError(kind, name, fmt.Sprintf("contains %q", c))
			}
		}
	}
	if !utf8.ValidString(name) {
		return nameError(kind, name, "not valid UTF-8")
	}
	return nil
}

// appendNameEscaped writes a table/tag/column name, escaping the characters
// that would otherwise terminate the name on the wire.
func appendNameEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case ' ', ',', '=':
			dst = append(dst, '\\', c)
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

// appendTagValueEscaped writes a tag value. Same escape set as names plus
// backslash itself; newlines are rejected earlier by the caller.
func appendTagValueEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case ' ', ',', '=', '\\':
			dst = append(dst, '\\', c)
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

// appendStringFieldEscaped writes a string field value wrapped in double
// quotes with internal quotes and backslashes escaped.
func appendStringFieldEscaped(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			dst = append(dst, '\\', c)
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, '"')
}
