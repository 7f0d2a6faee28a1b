package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Binary size constants
const (
	KiB int64 = 1 << 10
	MiB int64 = 1 << 20
	GiB int64 = 1 << 30
)

var sizePattern = regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]+)$`)

// Decimal suffixes are 1000-based, IEC and single-letter suffixes 1024-based
var sizeUnits = map[string]int64{
	"B":   1,
	"KB":  1000,
	"MB":  1000 * 1000,
	"GB":  1000 * 1000 * 1000,
	"K":   KiB,
	"KIB": KiB,
	"M":   MiB,
	"MIB": MiB,
	"G":   GiB,
	"GIB": GiB,
}

// ParseDataSize parses sizes such as "512", "64KiB" or "1.5MB" into bytes
func ParseDataSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size: %s", s)
		}
		return n, nil
	}

	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size format: %s (expected format like '512KB', '16MiB')", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %s", m[1])
	}
	mult, ok := sizeUnits[strings.ToUpper(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown unit: %s", m[2])
	}
	return int64(value * float64(mult)), nil
}

// FormatDataSize renders bytes with a binary unit, e.g. "16 MiB"
func FormatDataSize(n int64) string {
	switch {
	case n < 0:
		return "invalid"
	case n < KiB:
		return fmt.Sprintf("%d B", n)
	}

	units := []string{"KiB", "MiB", "GiB"}
	value := float64(n) / float64(KiB)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	if value == float64(int64(value)) {
		return fmt.Sprintf("%.0f %s", value, units[i])
	}
	return fmt.Sprintf("%.1f %s", value, units[i])
}
