package transform

import (
	"fmt"
	"net/url"
	"regexp"
)

// legacyTokens maps the names used by the old scanner's ad-hoc escaping
// (❴name❵) to the characters they stand for.
var legacyTokens = map[string]string{
	"squote":  "'",
	"dquote":  `"`,
	"bslash":  `\`,
	"tab":     "\t",
	"newline": "\n",
}

var legacyTokenRegex = regexp.MustCompile(`❴([a-z]+)❵`)

// UnescapePath recovers the literal relative path from a scanner-escaped
// value: percent-decoding first, then the legacy token scheme.
func UnescapePath(escaped string) (string, error) {
	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		return escaped, fail(StepUnescapePath, escaped, err)
	}

	out, err := UnescapeLegacy(decoded)
	if err != nil {
		return escaped, fail(StepUnescapePath, escaped, err)
	}
	return out, nil
}

// UnescapeLegacy replaces ❴name❵ tokens. Unknown token names are an error.
func UnescapeLegacy(s string) (string, error) {
	var unknown string
	out := legacyTokenRegex.ReplaceAllStringFunc(s, func(tok string) string {
		name := legacyTokenRegex.FindStringSubmatch(tok)[1]
		if repl, ok := legacyTokens[name]; ok {
			return repl
		}
		if unknown == "" {
			unknown = tok
		}
		return tok
	})
	if unknown != "" {
		return s, fmt.Errorf("unknown legacy escape %s", unknown)
	}
	return out, nil
}
