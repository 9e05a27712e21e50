package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errMissingBound = errors.New("missing start or end")

const (
	noneText       = "None"
	parseErrorText = "Error parsing ranges"
)

// FormatProcessedRanges renders ranges as "s-e" joined by ", ", sorted by
// start but not merged, so separately recorded runs stay visible.
func FormatProcessedRanges(ranges []PageRange) string {
	if len(ranges) == 0 {
		return noneText
	}
	sorted := sortedCopy(ranges)
	parts := make([]string, len(sorted))
	for i, r := range sorted {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

// FormatRawProcessedRanges formats a serialized range list for display. It
// never fails: unparsable input renders as "Error parsing ranges".
func FormatRawProcessedRanges(raw string) string {
	ranges, err := ParseRanges(raw)
	if err != nil {
		return parseErrorText
	}
	return FormatProcessedRanges(ranges)
}

type rawRange struct {
	Start *int `json:"start"`
	End   *int `json:"end"`
}

// ParseRanges decodes a JSON array of {"start","end"} objects. Empty input and
// "null" decode to no ranges. Every entry must carry both bounds.
func ParseRanges(raw string) ([]PageRange, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var items []rawRange
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode ranges: %w", err)
	}
	out := make([]PageRange, 0, len(items))
	for i, it := range items {
		if it.Start == nil || it.End == nil {
			return nil, fmt.Errorf("range %d: %w", i+1, errMissingBound)
		}
		out = append(out, PageRange{Start: *it.Start, End: *it.End})
	}
	return out, nil
}

// EncodeRanges is the inverse of ParseRanges; nil encodes as "[]".
func EncodeRanges(ranges []PageRange) string {
	if ranges == nil {
		ranges = []PageRange{}
	}
	b, _ := json.Marshal(ranges)
	return string(b)
}
