package progress

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatBytes formats a byte count as a human-readable string.
func FormatBytes(b int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
		tb = gb * 1024
	)

	switch {
	case b >= tb:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(tb))
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// ParseBytes parses a human-readable byte size like "512M", "3G" or
// "1.5GB". Suffixes K/M/G/T with an optional trailing B are accepted,
// case-insensitively. A bare number is taken as bytes.
func ParseBytes(s string) (int64, error) {
	str := strings.TrimSpace(s)
	if str == "" {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}

	var multiplier float64 = 1
	upper := strings.ToUpper(str)
	upper = strings.TrimSuffix(upper, "B")
	switch {
	case strings.HasSuffix(upper, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		upper = upper[:len(upper)-1]
	case strings.HasSuffix(upper, "G"):
		multiplier = 1024 * 1024 * 1024
		upper = upper[:len(upper)-1]
	case strings.HasSuffix(upper, "M"):
		multiplier = 1024 * 1024
		upper = upper[:len(upper)-1]
	case strings.HasSuffix(upper, "K"):
		multiplier = 1024
		upper = upper[:len(upper)-1]
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(upper), 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}

	return int64(value * multiplier), nil
}
