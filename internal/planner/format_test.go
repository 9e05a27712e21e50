package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatProcessedRanges(t *testing.T) {
	assert.Equal(t, "None", FormatProcessedRanges(nil))
	assert.Equal(t, "None", FormatProcessedRanges([]PageRange{}))
	assert.Equal(t, "1-10", FormatProcessedRanges([]PageRange{pr(1, 10)}))
	// sorted, never merged
	assert.Equal(t, "1-10, 11-20, 30-31", FormatProcessedRanges([]PageRange{pr(30, 31), pr(11, 20), pr(1, 10)}))
}

func TestFormatRawProcessedRanges(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", "None"},
		{"null", "null", "None"},
		{"empty list", "[]", "None"},
		{"sorted output", `[{"start":20,"end":25},{"start":5,"end":10}]`, "5-10, 20-25"},
		{"not json", "1-10", "Error parsing ranges"},
		{"missing end", `[{"start":1}]`, "Error parsing ranges"},
		{"string bound", `[{"start":"1","end":2}]`, "Error parsing ranges"},
		{"object not list", `{"start":1,"end":2}`, "Error parsing ranges"},
		{"trailing garbage", `[] []`, "Error parsing ranges"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRawProcessedRanges(tt.raw))
		})
	}
}

func TestParseAndEncodeRanges(t *testing.T) {
	assert.Equal(t, "[]", EncodeRanges(nil))

	in := []PageRange{pr(3, 4), pr(1, 1)}
	out, err := ParseRanges(EncodeRanges(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out, err = ParseRanges("  ")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = ParseRanges(`[{"end":3}]`)
	assert.ErrorIs(t, err, errMissingBound)
}
