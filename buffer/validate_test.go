package buffer

import (
	"strings"
	"testing"
)

func TestTableNameValidation(t *testing.T) {
	good := []string{"weather", "_my_table_", "omg_lol1", "таблица", "with space", "a=b"}
	for _, name := range good {
		if err := ValidateTableName(name, DefaultMaxNameLen); err != nil {
			t.Errorf("Table name %q must be valid: %s", name, err.Error())
		}
	}

	bad := []string{
		"",
		"with\nnewline",
		"with\ttab",
		"hel\x01lo",
		"a/b",
		`a\b`,
		"a?b",
		"a:b",
		"a,b",
		".leading",
		"trailing.",
		strings.Repeat("x", DefaultMaxNameLen+1),
		"\xef\xbb\xbfbom",
		"bad\xff\xfeutf8",
	}
	for _, name := range bad {
		if err := ValidateTableName(name, DefaultMaxNameLen); err == nil {
			t.Errorf("Table name %q must not be valid", name)
		}
	}
}

func TestColumnNameValidation(t *testing.T) {
	good := []string{"temp", "_d_e_f_", "колонка", "with space"}
	for _, name := range good {
		if err := ValidateColumnName(name, DefaultMaxNameLen); err != nil {
			t.Errorf("Column name %q must be valid: %s", name, err.Error())
		}
	}

	bad := []string{"", "a.b", "a-b", "a?b", "a*b", "x\x7fy"}
	for _, name := range bad {
		if err := ValidateColumnName(name, DefaultMaxNameLen); err == nil {
			t.Errorf("Column name %q must not be valid", name)
		}
	}
}

func TestNameLengthLimitIsConfigurable(t *testing.T) {
	if err := ValidateTableName("abcdef", 4); err == nil {
		t.Error("Name longer than the configured cap must be rejected")
	}
	if err := ValidateTableName("abcd", 4); err != nil {
		t.Errorf("Name at the cap must be accepted: %s", err.Error())
	}
}
