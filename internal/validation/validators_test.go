package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateInterfaceName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "eth0", false},
		{"with dash", "eth-0", false},
		{"with underscore", "eth_0", false},
		{"with dot (vlan)", "eth0.100", false},
		{"max length", "eth0123456789ab", false},

		{"empty", "", true},
		{"too long", "eth01234567890123", true},
		{"space", "eth 0", true},
		{"semicolon", "eth0;rm", true},
		{"slash", "eth0/1", true},
		{"newline", "eth0\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInterfaceName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "allow-ssh", false},
		{"underscore", "drop_telnet", false},
		{"alphanumeric", "rule123", false},

		{"empty", "", true},
		{"space", "allow ssh", true},
		{"dot", "allow.ssh", true},
		{"too long", strings.Repeat("a", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCountryCode(t *testing.T) {
	assert.NoError(t, ValidateCountryCode("CN"))
	assert.NoError(t, ValidateCountryCode("ru"))
	assert.NoError(t, ValidateCountryCode(" IR "))

	assert.Error(t, ValidateCountryCode(""))
	assert.Error(t, ValidateCountryCode("USA"))
	assert.Error(t, ValidateCountryCode("1A"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "eth0rm", SanitizeString("eth0\nrm"))
	assert.Equal(t, "plain", SanitizeString("plain"))
	assert.Equal(t, "ab", SanitizeString("a\x00\x7fb"))
}
