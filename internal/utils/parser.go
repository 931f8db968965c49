package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var sizeRe = regexp.MustCompile(`^(\d+(?:\.\d*)?|\.\d+)([KMGTP])?(B|IB)?([+-]1)?$`)

// ParseRsyncSize converts an rsync size such as "50m", "500k", "1.5g",
// "2MB" or "4096" into bytes. A bare number is bytes, a unit letter alone
// or with "iB" is a power of 1024, the letter followed by "B" a power of
// 1000, and a trailing "+1" or "-1" adjusts the result by one byte.
func ParseRsyncSize(sizeStr string) (int64, error) {
	s := strings.TrimSpace(strings.ToUpper(sizeStr))

	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size format: %s (expected '50m', '500k', '1.5g', etc.)", sizeStr)
	}

	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", m[1])
	}

	if m[2] != "" {
		base := 1024.0
		if m[3] == "B" {
			base = 1000
		}
		for i := 0; i <= strings.Index("KMGTP", m[2]); i++ {
			val *= base
		}
	}

	n := int64(val)
	switch m[4] {
	case "+1":
		n++
	case "-1":
		n--
	}
	return n, nil
}

// ParseDuration parses a duration string supporting multiple formats:
//   - Go duration: "2h", "30m", "1h30m", "90s"
//   - HH:MM:SS format: "02:00:00", "2:30:00", "00:30:00"
//   - H:MM format: "2:30" (interpreted as hours:minutes)
//   - bare integer: seconds ("30")
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration: %s", s)
		}
		return time.Duration(n) * time.Second, nil
	}

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		nums := make([]int, len(parts))
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return 0, fmt.Errorf("invalid time component %q in %s", p, s)
			}
			nums[i] = n
		}
		switch len(nums) {
		case 2:
			return time.Duration(nums[0])*time.Hour + time.Duration(nums[1])*time.Minute, nil
		case 3:
			return time.Duration(nums[0])*time.Hour +
				time.Duration(nums[1])*time.Minute +
				time.Duration(nums[2])*time.Second, nil
		default:
			return 0, fmt.Errorf("invalid time format: %s (use HH:MM:SS or HH:MM)", s)
		}
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s (use '2s', '30m', '1h30m', or '00:00:02')", s)
	}
	return dur, nil
}

// FormatRuntime renders an elapsed duration as "Hh:Mm:SSs", e.g. "1h:4m:09s".
// Sub-second remainders are truncated.
func FormatRuntime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%dh:%dm:%02ds", h, m, s)
}
