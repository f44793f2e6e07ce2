// Package primes holds the primality test and the range type scanned by the
// scanner service.
package primes

import (
	"fmt"
	"strconv"
	"strings"
)

// IsPrime reports whether n is prime by trial division.
// Candidate divisors run from 2 up to and including n/2.
func IsPrime(n int64) bool {
	if n < 2 {
		return false
	}

	// Look for a number that evenly divides n
	for d := int64(2); d <= n/2; d++ {
		if n%d == 0 {
			return false
		}
	}

	return true
}

// Range is a closed interval [First, Last]. First > Last is allowed and
// simply contains nothing.
type Range struct {
	First int64
	Last  int64
}

// Empty reports whether the range contains no integers.
func (r Range) Empty() bool {
	return r.First > r.Last
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.First, r.Last)
}

// InvalidRangeError is returned when a range endpoint can't be parsed.
type InvalidRangeError struct {
	Field string // "first" or "last"
	Input string
	Err   error
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range %s %q: must be a whole number", e.Field, e.Input)
}

func (e *InvalidRangeError) Unwrap() error {
	return e.Err
}

// ParseRange parses user-supplied endpoints. Surrounding whitespace is
// ignored; anything else that isn't a 32-bit base-10 integer is rejected.
func ParseRange(first, last string) (Range, error) {
	f, err := parseEndpoint("first", first)
	if err != nil {
		return Range{}, err
	}
	l, err := parseEndpoint("last", last)
	if err != nil {
		return Range{}, err
	}
	return Range{First: f, Last: l}, nil
}

func parseEndpoint(field, input string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(input), 10, 32)
	if err != nil {
		return 0, &InvalidRangeError{Field: field, Input: input, Err: err}
	}
	return n, nil
}
