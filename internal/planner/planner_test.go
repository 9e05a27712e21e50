package planner

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pr(start, end int) PageRange { return PageRange{Start: start, End: end} }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []PageRange
		want []PageRange
	}{
		{"nil", nil, []PageRange{}},
		{"contiguous merge", []PageRange{pr(1, 10), pr(11, 20)}, []PageRange{pr(1, 20)}},
		{"overlap merge keeps max end", []PageRange{pr(5, 30), pr(10, 12)}, []PageRange{pr(5, 30)}},
		{"unsorted", []PageRange{pr(20, 25), pr(5, 10)}, []PageRange{pr(5, 10), pr(20, 25)}},
		{"drops malformed", []PageRange{pr(0, 3), pr(7, 4), pr(2, 2)}, []PageRange{pr(2, 2)}},
		{"gap of one page stays split", []PageRange{pr(1, 4), pr(6, 8)}, []PageRange{pr(1, 4), pr(6, 8)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := []PageRange{pr(20, 25), pr(1, 10), pr(11, 12)}
	before := append([]PageRange(nil), in...)
	_ = Normalize(in)
	assert.Equal(t, before, in)
}

func TestComputeUnprocessed(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		processed []PageRange
		want      []PageRange
	}{
		{"nothing processed", 42, nil, []PageRange{pr(1, 42)}},
		{"contiguous processed", 42, []PageRange{pr(1, 10), pr(11, 20)}, []PageRange{pr(21, 42)}},
		{"two holes", 42, []PageRange{pr(5, 10), pr(20, 25)}, []PageRange{pr(1, 4), pr(11, 19), pr(26, 42)}},
		{"fully processed", 42, []PageRange{pr(1, 42)}, []PageRange{}},
		{"unknown page count", 0, nil, []PageRange{}},
		{"negative page count", -3, []PageRange{pr(1, 2)}, []PageRange{}},
		{"only malformed processed", 10, []PageRange{pr(0, 0), pr(5, 2)}, []PageRange{pr(1, 10)}},
		{"single page document", 1, nil, []PageRange{pr(1, 1)}},
		{"processed past end", 42, []PageRange{pr(40, 50)}, []PageRange{pr(1, 39)}},
		{"processed entirely past end", 42, []PageRange{pr(1, 5), pr(50, 60)}, []PageRange{pr(6, 42)}},
		{"last page only", 10, []PageRange{pr(10, 10)}, []PageRange{pr(1, 9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeUnprocessed(tt.total, tt.processed))
		})
	}
}

func TestComputeUnprocessedIdempotentUnderNormalization(t *testing.T) {
	messy := []PageRange{pr(20, 25), pr(3, 8), pr(5, 10), pr(11, 11), pr(24, 30), pr(0, 4)}
	assert.Equal(t, ComputeUnprocessed(50, Normalize(messy)), ComputeUnprocessed(50, messy))
}

func TestComputeUnprocessedPartitionsDocument(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		total := 1 + rng.Intn(80)
		var processed []PageRange
		for i := rng.Intn(6); i > 0; i-- {
			s := 1 + rng.Intn(total)
			e := s + rng.Intn(total-s+1)
			processed = append(processed, pr(s, e))
		}

		covered := make([]int, total+1)
		for _, r := range Normalize(processed) {
			for p := r.Start; p <= r.End; p++ {
				covered[p]++
			}
		}
		gaps := ComputeUnprocessed(total, processed)
		for i, g := range gaps {
			require.True(t, g.Valid())
			if i > 0 {
				require.Less(t, gaps[i-1].End, g.Start, "gaps must ascend without overlap")
			}
			for p := g.Start; p <= g.End; p++ {
				covered[p]++
			}
		}
		for p := 1; p <= total; p++ {
			require.Equal(t, 1, covered[p], "page %d of %d, processed %v", p, total, processed)
		}
	}
}

func TestAdjustRange(t *testing.T) {
	tests := []struct {
		name  string
		in    PageRange
		field Field
		raw   string
		total int
		want  PageRange
	}{
		{"set start", pr(1, 10), FieldStart, "4", 42, pr(4, 10)},
		{"start above end pulls end", pr(1, 10), FieldStart, "15", 42, pr(15, 15)},
		{"end below start pulls start", pr(10, 20), FieldEnd, "5", 42, pr(5, 5)},
		{"end clamped", pr(1, 10), FieldEnd, "99", 42, pr(1, 42)},
		{"start past last page", pr(1, 10), FieldStart, "50", 42, pr(42, 42)},
		{"no clamp when unknown", pr(1, 10), FieldEnd, "99", 0, pr(1, 99)},
		{"non numeric ignored", pr(3, 9), FieldStart, "abc", 42, pr(3, 9)},
		{"empty ignored", pr(3, 9), FieldEnd, "", 42, pr(3, 9)},
		{"zero ignored", pr(3, 9), FieldStart, "0", 42, pr(3, 9)},
		{"negative ignored", pr(3, 9), FieldEnd, "-2", 42, pr(3, 9)},
		{"fraction ignored", pr(3, 9), FieldEnd, "4.5", 42, pr(3, 9)},
		{"whitespace trimmed", pr(3, 9), FieldEnd, " 7 ", 42, pr(3, 7)},
		{"unknown field ignored", pr(3, 9), Field("middle"), "5", 42, pr(3, 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			assert.Equal(t, tt.want, AdjustRange(in, tt.field, tt.raw, tt.total))
			assert.Equal(t, tt.in, in)
		})
	}
}

func TestAdjustRangeStaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		total := rng.Intn(30)
		s := 1 + rng.Intn(30)
		r := pr(s, s+rng.Intn(5))
		if total > 0 && r.End > total {
			r = pr(1, total)
		}
		field := FieldStart
		if rng.Intn(2) == 1 {
			field = FieldEnd
		}
		out := AdjustRange(r, field, strconv.Itoa(rng.Intn(40)-2), total)
		require.LessOrEqual(t, out.Start, out.End)
		require.GreaterOrEqual(t, out.Start, 1)
		if total > 0 {
			require.LessOrEqual(t, out.End, total)
		}
	}
}

func TestCheckBounds(t *testing.T) {
	require.NoError(t, CheckBounds([]PageRange{pr(1, 5), pr(7, 42)}, 42))
	require.NoError(t, CheckBounds([]PageRange{pr(1, 500)}, 0))
	require.NoError(t, CheckBounds(nil, 10))

	err := CheckBounds([]PageRange{pr(1, 5), pr(40, 43)}, 42)
	require.ErrorIs(t, err, ErrInvalidRange)
	assert.Contains(t, err.Error(), "range 2 (40-43)")

	assert.ErrorIs(t, CheckBounds([]PageRange{pr(0, 3)}, 42), ErrInvalidRange)
	assert.ErrorIs(t, CheckBounds([]PageRange{pr(5, 3)}, 0), ErrInvalidRange)
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, PageCount(nil))
	assert.Equal(t, 20, PageCount([]PageRange{pr(1, 10), pr(5, 20)}))
	assert.Equal(t, 3, PageCount([]PageRange{pr(1, 1), pr(3, 3), pr(5, 5), pr(2, 0)}))
}

func TestPageRangeHelpers(t *testing.T) {
	assert.Equal(t, "3-9", pr(3, 9).String())
	assert.True(t, pr(1, 5).Overlaps(pr(5, 9)))
	assert.False(t, pr(1, 4).Overlaps(pr(5, 9)))
	assert.Equal(t, 7, pr(3, 9).Pages())
	assert.Equal(t, 0, pr(9, 3).Pages())
}
