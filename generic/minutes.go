package generic

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// MINUTES - The unit every computation in the engine is expressed in
// =============================================================================

// Minutes is a signed count of whole minutes. Worked time, overtime, deficit,
// night time and overtime-bank balances all share this type.
type Minutes int

// String renders the canonical "{H}h{MM}m" form used by every consumer:
// minutes are zero-padded and omitted when zero (600 -> "10h", 631 -> "10h31m",
// 5 -> "0h05m"). Negative values carry a leading "-".
func (m Minutes) String() string {
	sign := ""
	v := int(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	h, mm := v/60, v%60
	if mm == 0 {
		return fmt.Sprintf("%s%dh", sign, h)
	}
	return fmt.Sprintf("%s%dh%02dm", sign, h, mm)
}

// Abs returns the magnitude.
func (m Minutes) Abs() Minutes {
	if m < 0 {
		return -m
	}
	return m
}

// ClampZero returns m, or 0 when m is negative.
func (m Minutes) ClampZero() Minutes {
	if m < 0 {
		return 0
	}
	return m
}

// MinMinutes returns the smaller of a and b.
func MinMinutes(a, b Minutes) Minutes {
	if a < b {
		return a
	}
	return b
}

// ParseMinutes parses the canonical form back into Minutes. It also accepts
// a bare integer ("90") and an hours-only value ("10h").
func ParseMinutes(s string) (Minutes, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("parse minutes: empty value")
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return Minutes(n), nil
	}

	neg := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")

	hStr, rest, ok := strings.Cut(raw, "h")
	if !ok {
		return 0, fmt.Errorf("parse minutes %q: missing 'h'", s)
	}
	h, err := strconv.Atoi(hStr)
	if err != nil || h < 0 {
		return 0, fmt.Errorf("parse minutes %q: bad hours", s)
	}
	mm := 0
	if rest != "" {
		mStr, ok := strings.CutSuffix(rest, "m")
		if !ok {
			return 0, fmt.Errorf("parse minutes %q: missing 'm'", s)
		}
		mm, err = strconv.Atoi(mStr)
		if err != nil || mm < 0 || mm > 59 {
			return 0, fmt.Errorf("parse minutes %q: bad minutes", s)
		}
	}

	total := Minutes(h*60 + mm)
	if neg {
		total = -total
	}
	return total, nil
}
