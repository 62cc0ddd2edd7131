package logical

import (
	"strings"
	"testing"

	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    Duration
		wantErr bool
	}{
		{"1h", Duration{Nanos: 3600e9}, false},
		{"1h30m", Duration{Nanos: 5400e9}, false},
		{"-15m", Duration{Nanos: -900e9}, false},
		{"2i", Duration{Ints: 2, Integer: true}, false},
		{"5", Duration{Ints: 5, Integer: true}, false},
		{"1d", Duration{Nanos: 86400e9}, false},
		{"", Duration{}, false},
		{"3 parsecs", Duration{}, true},
		{"h", Duration{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDurationToUnits(t *testing.T) {
	hour, _ := ParseDuration("1h")

	n, err := hour.ToUnits(types.DatetimeType(types.Milliseconds))
	require.NoError(t, err)
	assert.Equal(t, int64(3_600_000), n)

	_, err = hour.ToUnits(types.DateType)
	assert.Error(t, err)

	_, err = hour.ToUnits(types.Int64Type)
	assert.Error(t, err)

	day, _ := ParseDuration("2d")
	n, err = day.ToUnits(types.DateType)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	two, _ := ParseDuration("2i")
	n, err = two.ToUnits(types.Int64Type)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBuilderChain(t *testing.T) {
	schema := types.MustSchema(types.Field{Name: "a", Type: types.Int64Type})
	n := Scan("t", schema).
		Filter(expr.Gt(expr.Col("a"), expr.Lit(0))).
		Sort(plan.SortKey{Column: "a"}).
		Sink("out")

	assert.Equal(t, plan.TypeSink, n.Type)
	assert.Equal(t, plan.TypeSort, n.Inputs[0].Type)
	assert.Equal(t, plan.TypeFilter, n.Inputs[0].Inputs[0].Type)
	assert.Equal(t, "t", n.Inputs[0].Inputs[0].Inputs[0].Scan.Source)
	assert.Equal(t, "out", n.SinkSpec.Sink)
	assert.Equal(t, "a", n.Inputs[0].SortSpec.Keys[0].Column)
	assert.Equal(t, "(col(a) > 0)", n.Inputs[0].Inputs[0].FilterSpec.Predicate.String())
}

func TestDecode(t *testing.T) {
	src := `{
		"type": "Sink", "sink": {"sink": "stdout"},
		"inputs": [{
			"type": "Filter",
			"filter": {"predicate": {"type": "binary", "operator": ">", "left": {"type": "column", "column": "a"}, "right": {"type": "literal", "value": 3}}},
			"inputs": [{"type": "Scan", "scan": {"source": "t"}, "schema": [{"name": "a", "type": "int64"}]}]
		}]
	}`
	n, err := Decode(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, "stdout", n.SinkSpec.Sink)
	filter := n.Inputs[0]
	assert.Equal(t, "(col(a) > 3)", filter.FilterSpec.Predicate.String())
	assert.Equal(t, "{a: int64}", filter.Inputs[0].Schema.String())

	_, err = Decode(strings.NewReader("{"))
	assert.Error(t, err)
}
