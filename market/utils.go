package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntervalDuration maps an exchange kline interval ("1m", "4h", "1d", ...)
// to its length. "1M" is treated as 30 days.
func IntervalDuration(interval string) (time.Duration, error) {
	s := strings.TrimSpace(interval)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	d := time.Duration(n)

	switch s[len(s)-1] {
	case 's':
		return d * time.Second, nil
	case 'm':
		return d * time.Minute, nil
	case 'h':
		return d * time.Hour, nil
	case 'd':
		return d * 24 * time.Hour, nil
	case 'w':
		return d * 7 * 24 * time.Hour, nil
	case 'M':
		return d * 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported interval unit in %q", interval)
	}
}

// ValidInterval reports whether interval is one the spot API accepts.
func ValidInterval(interval string) bool {
	switch interval {
	case "1s", "1m", "3m", "5m", "15m", "30m",
		"1h", "2h", "4h", "6h", "8h", "12h",
		"1d", "3d", "1w", "1M":
		return true
	default:
		return false
	}
}
