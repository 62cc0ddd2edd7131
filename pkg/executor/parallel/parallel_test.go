package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/kasuganosora/colexec/pkg/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T) *workerpool.Pool {
	t.Helper()
	p, err := workerpool.NewWithSize(4)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(func() { p.Close() })
	return p
}

func TestDivideRange(t *testing.T) {
	tests := []struct {
		name          string
		n, parts, min int
		want          []Range
	}{
		{"empty", 0, 4, 1, nil},
		{"even", 8, 4, 1, []Range{{0, 2}, {2, 4}, {4, 6}, {6, 8}}},
		{"remainder first", 10, 4, 1, []Range{{0, 3}, {3, 6}, {6, 8}, {8, 10}}},
		{"min rows caps parts", 10, 8, 4, []Range{{0, 4}, {4, 7}, {7, 10}}},
		{"fewer rows than parts", 2, 8, 1, []Range{{0, 1}, {1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DivideRange(tt.n, tt.parts, tt.min))
		})
	}
}

func TestScanRangesKeepsOrder(t *testing.T) {
	pool := newPool(t)
	ranges := DivideRange(1000, 7, 1)
	sums, err := ScanRanges(context.Background(), pool, ranges, func(_ context.Context, r Range) (int, error) {
		s := 0
		for i := r.Start; i < r.End; i++ {
			s += i
		}
		return s, nil
	})
	require.NoError(t, err)
	require.Len(t, sums, 7)

	total := 0
	for i, s := range sums {
		r := ranges[i]
		assert.Equal(t, (r.Start+r.End-1)*r.Len()/2, s)
		total += s
	}
	assert.Equal(t, 999*1000/2, total)
}

func TestForEachReturnsTaskError(t *testing.T) {
	pool := newPool(t)
	boom := errors.New("boom")
	var ran atomic.Int64
	err := ForEach(context.Background(), pool, 64, func(ctx context.Context, i int) error {
		ran.Add(1)
		if i == 40 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestForEachSequentialWithoutPool(t *testing.T) {
	var order []int
	err := ForEach(context.Background(), nil, 5, func(_ context.Context, i int) error {
		order = append(order, i)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestForEachCancelled(t *testing.T) {
	pool := newPool(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ForEach(ctx, pool, 8, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBoth(t *testing.T) {
	pool := newPool(t)
	a, b, err := Both(context.Background(), pool,
		func(context.Context) (int, error) { return 1, nil },
		func(context.Context) (string, error) { return "x", nil })
	require.NoError(t, err)
	assert.Equal(t, 1, a)
	assert.Equal(t, "x", b)
}
