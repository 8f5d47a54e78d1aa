package fetch

import "fmt"

// Range is an inclusive byte span of a file
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

// Header renders the value of an HTTP Range request header.
func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("[%d-%d]", r.Start, r.End)
}

// Partition splits [0, length) into n contiguous ranges of near-equal size.
// The remainder of the integer division goes to the last range. A file shorter
// than n bytes yields one single-byte range per byte.
func Partition(length int64, n int) []Range {
	if length <= 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if int64(n) > length {
		n = int(length)
	}

	size := length / int64(n)
	ranges := make([]Range, n)
	var start int64
	for i := range ranges {
		end := start + size - 1
		if i == n-1 {
			end = length - 1
		}
		ranges[i] = Range{Start: start, End: end}
		start = end + 1
	}
	return ranges
}
