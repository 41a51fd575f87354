package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseSize parses a human-readable size string into bytes.
// Supports: 100, 100B, 100K, 100KB, 100KiB, and likewise M, G and T
// (case-insensitive). Uses powers of 1024.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	num := strings.ToUpper(s)
	num = strings.TrimSuffix(num, "IB")
	num = strings.TrimSuffix(num, "B")

	multiplier := int64(1)
	if num != "" {
		switch num[len(num)-1] {
		case 'K':
			multiplier = 1 << 10
		case 'M':
			multiplier = 1 << 20
		case 'G':
			multiplier = 1 << 30
		case 'T':
			multiplier = 1 << 40
		}
		if multiplier > 1 {
			num = num[:len(num)-1]
		}
	}
	if num == "" {
		return 0, fmt.Errorf("invalid size: %q", s)
	}

	// Try integer first, then float.
	if n, err := strconv.ParseInt(num, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid size: %q is negative", s)
		}
		if n > math.MaxInt64/multiplier {
			return 0, fmt.Errorf("invalid size: %q overflows", s)
		}
		return n * multiplier, nil
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("invalid size: %q is negative", s)
	}
	v := f * float64(multiplier)
	if v >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid size: %q overflows", s)
	}
	return int64(v), nil
}
