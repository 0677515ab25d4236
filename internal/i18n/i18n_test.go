package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		accept   string
		expected language.Tag
	}{
		{"en-US,en;q=0.9", language.English},
		{"de-DE,de;q=0.9", language.German},
		{"fr-FR", language.English},
		{"", language.English},
	}

	for _, tt := range tests {
		got := MatchLanguage(tt.accept)
		base, _ := got.Base()
		exp, _ := tt.expected.Base()
		assert.Equal(t, exp, base, "Accept: %s", tt.accept)
	}
}

func TestLocaleTag(t *testing.T) {
	tests := []struct {
		locale string
		want   language.Tag
	}{
		{"", language.English},
		{"C", language.English},
		{"POSIX", language.English},
		{"de_DE.UTF-8", language.German},
		{"en_GB.UTF-8", language.English},
		{"fr_FR@euro", language.English},
	}
	for _, tt := range tests {
		base, _ := LocaleTag(tt.locale).Base()
		exp, _ := tt.want.Base()
		assert.Equal(t, exp, base, tt.locale)
	}
}

func TestNewCLIPrinterGrouping(t *testing.T) {
	t.Setenv("LC_ALL", "de_DE.UTF-8")
	assert.Equal(t, "1.234.567", NewCLIPrinter().Sprintf("%d", 1234567))

	t.Setenv("LC_ALL", "")
	t.Setenv("LANG", "")
	assert.Equal(t, "1,234,567", NewCLIPrinter().Sprintf("%d", 1234567))

	p := message.NewPrinter(language.English)
	assert.Equal(t, "42", p.Sprintf("%d", 42))
}
