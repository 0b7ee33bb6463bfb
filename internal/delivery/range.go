package delivery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRange marks a Range header that is not a single well-formed
	// byte range. Callers serve the full body instead.
	ErrInvalidRange = errors.New("invalid range")
	ErrMultiRange   = errors.New("multi-range not supported")
	// ErrRangeNotSatisfiable marks a syntactically valid range that lies
	// outside the file.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte window [Start, End].
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange parses a single "bytes=" range against a resource of the given
// size. The end offset is clamped to size-1; suffix ranges count from the end.
func ParseRange(header string, size int64) (Range, error) {
	const prefix = "bytes="

	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, prefix) {
		return Range{}, ErrInvalidRange
	}
	rangeSet := strings.TrimPrefix(header, prefix)
	if strings.Contains(rangeSet, ",") {
		return Range{}, ErrMultiRange
	}

	startStr, endStr, ok := strings.Cut(rangeSet, "-")
	if !ok {
		return Range{}, ErrInvalidRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		if endStr == "" {
			return Range{}, ErrInvalidRange
		}
		n, err := parseOffset(endStr)
		if err != nil {
			return Range{}, err
		}
		if n == 0 || size == 0 {
			return Range{}, ErrRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		return Range{Start: size - n, End: size - 1}, nil
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return Range{}, err
	}
	end := size - 1
	if endStr != "" {
		if end, err = parseOffset(endStr); err != nil {
			return Range{}, err
		}
		if end < start {
			return Range{}, ErrRangeNotSatisfiable
		}
	}
	if start >= size {
		return Range{}, ErrRangeNotSatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return Range{Start: start, End: end}, nil
}

func parseOffset(s string) (int64, error) {
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, ErrInvalidRange
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidRange
	}
	return n, nil
}

// ContentRange formats the Content-Range value for a partial response.
func ContentRange(r Range, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// UnsatisfiedRange formats the Content-Range value sent with a 416.
func UnsatisfiedRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}
