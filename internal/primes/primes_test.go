package primes

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPrime(t *testing.T) {
	tests := []struct {
		n    int64
		want bool
	}{
		{-7, false},
		{-1, false},
		{0, false},
		{1, false},
		{2, true},
		{3, true},
		{4, false},
		{5, true},
		{9, false},
		{25, false},
		{29, true},
		{49, false},
		{97, true},
		{1009, true},
		{3999, false},
		{3989, true},
		{7919, true},
	}

	for _, tt := range tests {
		t.Run(strconv.FormatInt(tt.n, 10), func(t *testing.T) {
			assert.Equal(t, tt.want, IsPrime(tt.n))
		})
	}
}

func TestIsPrimeMatchesDivisorDefinition(t *testing.T) {
	for n := int64(-10); n <= 2000; n++ {
		want := n >= 2
		for d := int64(2); d <= n/2; d++ {
			if n%d == 0 {
				want = false
				break
			}
		}
		if got := IsPrime(n); got != want {
			t.Fatalf("IsPrime(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		first     string
		last      string
		want      Range
		wantField string
	}{
		{"simple", "10", "50", Range{10, 50}, ""},
		{"whitespace", " 1000 ", "\t4000\n", Range{1000, 4000}, ""},
		{"reversed is accepted", "10", "1", Range{10, 1}, ""},
		{"negative", "-5", "0", Range{-5, 0}, ""},
		{"explicit plus", "+3", "7", Range{3, 7}, ""},
		{"non-numeric first", "abc", "10", Range{}, "first"},
		{"non-numeric last", "1", "ten", Range{}, "last"},
		{"empty", "", "10", Range{}, "first"},
		{"decimal", "1.5", "10", Range{}, "first"},
		{"overflow", "1", "2147483648", Range{}, "last"},
		{"both bad reports first", "x", "y", Range{}, "first"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.first, tt.last)
			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}

			var rangeErr *InvalidRangeError
			require.True(t, errors.As(err, &rangeErr), "want *InvalidRangeError, got %T", err)
			assert.Equal(t, tt.wantField, rangeErr.Field)
			var numErr *strconv.NumError
			assert.True(t, errors.As(err, &numErr))
		})
	}
}

func TestRange(t *testing.T) {
	r := Range{First: 10, Last: 1}
	assert.True(t, r.Empty())

	r = Range{First: 10, Last: 50}
	assert.False(t, r.Empty())
	assert.Equal(t, "[10, 50]", r.String())
}
