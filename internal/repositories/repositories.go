package repositories

import (
	"fmt"
	"strings"
)

// MaxInParams bounds the number of parameters bound into one IN (...) list.
const MaxInParams = 500

// placeholders returns "$start, $start+1, ..." for n parameters.
func placeholders(start, n int) string {
	var b strings.Builder
	for i := range n {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", start+i)
	}
	return b.String()
}

// chunk splits values into consecutive slices of at most size elements.
func chunk[T any](values []T, size int) [][]T {
	if size <= 0 {
		size = len(values)
	}
	var chunks [][]T
	for start := 0; start < len(values); start += size {
		end := min(start+size, len(values))
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

// quote wraps an identifier in double quotes.
func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
