package transform

import (
	"fmt"
	"unicode/utf8"
)

// TrimPrefix drops the first n characters of path. It is a no-op when n is
// zero or when the path is not longer than n.
func TrimPrefix(path string, n int) (string, error) {
	if n < 0 {
		return path, fail(StepTrimPrefix, path, fmt.Errorf("negative trim length %d", n))
	}
	if n == 0 || utf8.RuneCountInString(path) <= n {
		return path, nil
	}

	i := 0
	for pos := range path {
		if i == n {
			return path[pos:], nil
		}
		i++
	}
	return path, nil
}
