package decoder

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Hardware holds the device telemetry that some firmware mixes into counts.
type Hardware struct {
	CPUTemp         *float64
	AcceleratorTemp *float64
	AcceleratorLoad *float64
	FPS             *float64
}

func (h Hardware) Empty() bool {
	return h.CPUTemp == nil && h.AcceleratorTemp == nil && h.AcceleratorLoad == nil && h.FPS == nil
}

// Counts is the normalized per-category tally with the hardware lifted out.
type Counts struct {
	Values   map[string]int64
	Total    int64
	Hardware Hardware
}

var hardwareAliases = map[string]string{
	"cpu_temp":         "cpu_temp",
	"hailo_temp":       "accelerator_temp",
	"accelerator_temp": "accelerator_temp",
	"hailo_load":       "accelerator_load",
	"accelerator_load": "accelerator_load",
	"fps":              "fps",
}

// NormalizeCounts returns false when raw is absent or not an object.
// Counts are whole detections: only integral numbers enter Values and Total.
// Fractional, quoted and non-numeric entries are dropped; negatives are kept.
func NormalizeCounts(raw json.RawMessage) (Counts, bool) {
	if raw == nil || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return Counts{}, false
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return Counts{}, false
	}

	out := Counts{Values: make(map[string]int64, len(entries))}
	for key, value := range entries {
		if key == "hardware" {
			var hw map[string]json.RawMessage
			if err := json.Unmarshal(value, &hw); err == nil {
				for hwKey, hwValue := range hw {
					out.Hardware.set(hwKey, hwValue)
				}
			}
			continue
		}
		if out.Hardware.set(key, value) {
			continue
		}
		n, ok := integral(value)
		if !ok {
			continue
		}
		out.Values[key] = n
		out.Total += n
	}
	return out, true
}

func (h *Hardware) set(key string, value json.RawMessage) bool {
	field, ok := hardwareAliases[strings.ToLower(key)]
	if !ok {
		return false
	}
	f, ok := number(value)
	if !ok {
		return true
	}
	switch field {
	case "cpu_temp":
		h.CPUTemp = &f
	case "accelerator_temp":
		h.AcceleratorTemp = &f
	case "accelerator_load":
		h.AcceleratorLoad = &f
	case "fps":
		h.FPS = &f
	}
	return true
}

// quoted numbers are not numbers.
func isQuoted(value json.RawMessage) bool {
	return bytes.HasPrefix(bytes.TrimSpace(value), []byte(`"`))
}

func number(value json.RawMessage) (float64, bool) {
	if isQuoted(value) {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(value, &n); err != nil {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func integral(value json.RawMessage) (int64, bool) {
	if isQuoted(value) {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(value, &n); err != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64/2 {
		return 0, false
	}
	return int64(f), true
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp falls back to now when raw is absent or unparseable.
// Epoch numbers above 1e12 are read as milliseconds.
func ParseTimestamp(raw json.RawMessage, now time.Time) time.Time {
	if raw == nil {
		return now.UTC()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC()
		}
		for _, layout := range localLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f, now)
		}
		return now.UTC()
	}

	if f, ok := number(raw); ok {
		return fromEpoch(f, now)
	}
	return now.UTC()
}

func fromEpoch(f float64, now time.Time) time.Time {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return now.UTC()
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
