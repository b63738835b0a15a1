package transform

import "regexp"

// rmlint writes its xattr values unquoted in some versions. Both patterns
// are multiline and case-insensitive so every line is repaired on its own.
var (
	rmlintHexRegex   = regexp.MustCompile(`(?im)^user\.rmlint\.(.*)="?([0-9a-f]+)"?$`)
	rmlintMtimeRegex = regexp.MustCompile(`(?im)^user\.rmlint\.(.*)="?([0-9.]+)"?$`)
)

// RepairXAttrs unescapes raw xattr text with the path scheme and then
// quotes rmlint values. Empty input yields empty output.
func RepairXAttrs(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	text, err := UnescapePath(raw)
	if err != nil {
		return raw, fail(StepRepairXAttrs, raw, err)
	}
	return QuoteXAttrValues(text), nil
}

// QuoteXAttrValues wraps hash-like and timestamp-like rmlint values in
// double quotes. Already quoted values are left alone.
func QuoteXAttrValues(text string) string {
	text = rmlintHexRegex.ReplaceAllString(text, `user.rmlint.$1="$2"`)
	return rmlintMtimeRegex.ReplaceAllString(text, `user.rmlint.$1="$2"`)
}
