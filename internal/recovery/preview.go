package recovery

import "fmt"

// PreviewBytes is how much of a non-text block a hex preview shows.
const PreviewBytes = 64

// Printable reports whether at least minRatio of data is printable ASCII,
// counting CR, LF and tab as printable. Empty data is not printable.
func Printable(data []byte, minRatio float64) bool {
	if len(data) == 0 {
		return false
	}
	n := 0
	for _, b := range data {
		if (b >= 0x20 && b < 0x7f) || b == '\n' || b == '\r' || b == '\t' {
			n++
		}
	}
	return float64(n) >= minRatio*float64(len(data))
}

// Preview renders data as text when it is printable and as a hex dump of its
// first PreviewBytes bytes otherwise.
func Preview(data []byte, minRatio float64) string {
	if Printable(data, minRatio) {
		return string(data)
	}
	n := min(PreviewBytes, len(data))
	s := fmt.Sprintf("% X", data[:n])
	if n < len(data) {
		s += " ..."
	}
	return s
}
