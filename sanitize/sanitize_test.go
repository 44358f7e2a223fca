package sanitize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cldmv/slothlet/sanitize"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		rules *sanitize.Rules
		want  string
	}{
		{name: "already valid", raw: "math", want: "math"},
		{name: "valid mixed case kept", raw: "urlBuilder", want: "urlBuilder"},
		{name: "hyphenated", raw: "url-builder", want: "urlBuilder"},
		{name: "dotted", raw: "my.module.name", want: "myModuleName"},
		{name: "leading digits stripped", raw: "42tools", want: "tools"},
		{name: "digit only first segment", raw: "42-tools", want: "tools"},
		{name: "spaces", raw: "a b c", want: "aBC"},
		{name: "empty", raw: "", want: "_"},
		{name: "all symbols", raw: "---", want: "_"},
		{
			name:  "upper rule",
			raw:   "url-builder",
			rules: &sanitize.Rules{LowerFirst: true, Upper: []string{"url"}},
			want:  "URLBuilder",
		},
		{
			name:  "leave rule exact case",
			raw:   "XML-parser",
			rules: &sanitize.Rules{LowerFirst: true, Leave: []string{"XML"}},
			want:  "XMLParser",
		},
		{
			name:  "leave insensitive",
			raw:   "xMl-parser",
			rules: &sanitize.Rules{LowerFirst: true, LeaveInsensitive: []string{"xml"}},
			want:  "xMlParser",
		},
		{
			name:  "lower rule glob",
			raw:   "HTTP-Client",
			rules: &sanitize.Rules{LowerFirst: true, Lower: []string{"http*"}},
			want:  "httpClient",
		},
		{
			name:  "boundary token only matches inside",
			raw:   "api-v2",
			rules: &sanitize.Rules{LowerFirst: true, Upper: []string{"**api**"}},
			want:  "apiV2",
		},
		{
			name:  "boundary token surrounded",
			raw:   "my-api-v2",
			rules: &sanitize.Rules{LowerFirst: true, Upper: []string{"**api**"}},
			want:  "myAPIV2",
		},
		{
			name:  "no lowerFirst keeps case",
			raw:   "Url-builder",
			rules: &sanitize.Rules{},
			want:  "UrlBuilder",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sanitize.Key(tc.raw, tc.rules))
		})
	}
}

func TestKeyIdempotent(t *testing.T) {
	inputs := []string{"math", "url-builder", "42tools", "my.module.name", "a b c", "---"}
	for _, raw := range inputs {
		once := sanitize.Key(raw, nil)
		assert.Equal(t, once, sanitize.Key(once, nil), "raw=%q", raw)
	}
}
