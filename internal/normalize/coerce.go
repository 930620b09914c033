package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// epochSecondsCeiling separates unix seconds from finer-grained epochs.
// Anything above it is divided by 1000 until it fits (ms, us, ns).
const epochSecondsCeiling = 1e10

var relativeToken = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([smhd])$`)

var relativeUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// isoLayouts are tried in order; layouts without an offset are read as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// decimalUnits maps SI-looking suffixes onto their binary IEC spelling so that
// "1 KB" means 1024 bytes, which is what WGDashboard prints.
var decimalUnits = map[string]string{
	"k":  "kib",
	"kb": "kib",
	"m":  "mib",
	"mb": "mib",
	"g":  "gib",
	"gb": "gib",
	"t":  "tib",
	"tb": "tib",
	"p":  "pib",
	"pb": "pib",
}

// Bytes coerces a byte counter. Numbers, numeric strings and unit strings
// ("0.12 GB", "512KB", "1.5 MiB") are accepted; everything else is 0.
func Bytes(v any) int64 {
	switch x := v.(type) {
	case nil, bool:
		return 0
	case string:
		return parseByteString(x)
	}
	f, ok := number(v)
	if !ok {
		return 0
	}
	return clamp(f)
}

// Unix coerces a timestamp to unix seconds. The second result is false for
// zero, negative and unrecognized input.
func Unix(v any, now time.Time) (int64, bool) {
	if s, ok := v.(string); ok {
		return parseTimeString(s, now)
	}
	if _, ok := v.(bool); ok {
		return 0, false
	}
	f, ok := number(v)
	if !ok {
		return 0, false
	}
	return scaleEpoch(f)
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func clamp(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

func parseByteString(s string) int64 {
	s = strings.TrimSpace(s)
	// A comma is ambiguous between a decimal and a thousands separator.
	if s == "" || strings.HasPrefix(s, "-") || strings.ContainsRune(s, ',') {
		return 0
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return clamp(f)
	}
	n, err := humanize.ParseBytes(binaryUnits(s))
	if err != nil {
		return 0
	}
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

// binaryUnits rewrites the unit suffix of s to its IEC form.
func binaryUnits(s string) string {
	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != ' '
	})
	if i < 0 {
		return s
	}
	num, unit := strings.TrimSpace(s[:i]), strings.ToLower(strings.TrimSpace(s[i:]))
	if iec, ok := decimalUnits[unit]; ok {
		unit = iec
	}
	return num + " " + unit
}

func scaleEpoch(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	for f > epochSecondsCeiling {
		f /= 1000
	}
	return int64(f), true
}

func parseTimeString(s string, now time.Time) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return scaleEpoch(f)
	}
	if m := relativeToken.FindStringSubmatch(strings.ToLower(s)); m != nil {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		ago := time.Duration(n * float64(relativeUnits[m[2]]))
		ts := now.Add(-ago).Unix()
		if ts <= 0 {
			return 0, false
		}
		return ts, true
	}
	for _, layout := range isoLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			continue
		}
		if ts := t.Unix(); ts > 0 {
			return ts, true
		}
		return 0, false
	}
	return 0, false
}
