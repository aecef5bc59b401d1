package dbx

import (
	"strconv"
	"strings"
)

// Placeholders renders count positional parameters starting at $start,
// e.g. Placeholders(2, 3) == "$2, $3, $4".
func Placeholders(start, count int) string {
	var b strings.Builder
	for i := 0; i < count; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(start + i))
	}
	return b.String()
}

// ValuesRows renders rows tuples of width parameters each for a multi-row
// INSERT, numbering from $1: ValuesRows(2, 2) == "($1, $2), ($3, $4)".
func ValuesRows(rows, width int) string {
	var b strings.Builder
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		b.WriteString(Placeholders(r*width+1, width))
		b.WriteByte(')')
	}
	return b.String()
}

// Chunk splits n items into [lo, hi) ranges of at most size items so large
// batches stay under the driver's parameter limit.
func Chunk(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}

// StringArgs converts strings into the []any form ExecContext expects.
func StringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
