package logical

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kasuganosora/colexec/pkg/types"
)

// Duration 窗口或容差时长：要么是固定的纳秒数，要么是整数单位（"3i"）
type Duration struct {
	Nanos   int64
	Ints    int64
	Integer bool
}

var unitNanos = map[string]int64{
	"ns": 1,
	"us": 1_000,
	"ms": 1_000_000,
	"s":  1_000_000_000,
	"m":  60 * 1_000_000_000,
	"h":  3600 * 1_000_000_000,
	"d":  86400 * 1_000_000_000,
	"w":  7 * 86400 * 1_000_000_000,
}

// ParseDuration 解析 "1h30m"、"-15m"、"2i"、"5" 等写法，纯数字视为整数单位
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Duration{}, nil
	}
	neg := false
	body := s
	if strings.HasPrefix(body, "-") {
		neg = true
		body = body[1:]
	}

	if n, err := strconv.ParseInt(strings.TrimSuffix(body, "i"), 10, 64); err == nil {
		if neg {
			n = -n
		}
		return Duration{Ints: n, Integer: true}, nil
	}

	var total int64
	for len(body) > 0 {
		i := 0
		for i < len(body) && body[i] >= '0' && body[i] <= '9' {
			i++
		}
		if i == 0 {
			return Duration{}, fmt.Errorf("invalid duration %q", s)
		}
		n, err := strconv.ParseInt(body[:i], 10, 64)
		if err != nil {
			return Duration{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		body = body[i:]
		j := 0
		for j < len(body) && (body[j] < '0' || body[j] > '9') {
			j++
		}
		per, ok := unitNanos[body[:j]]
		if !ok {
			return Duration{}, fmt.Errorf("invalid duration unit %q in %q", body[:j], s)
		}
		total += n * per
		body = body[j:]
	}
	if neg {
		total = -total
	}
	return Duration{Nanos: total}, nil
}

// IsZero 是否为零时长
func (d Duration) IsZero() bool {
	return d.Nanos == 0 && d.Ints == 0
}

// ToUnits 换算为时间列的物理单位
// 整数单位原样返回；固定时长用于 Date 时必须是整天，用于整数列时报错
func (d Duration) ToUnits(dt types.DataType) (int64, error) {
	if d.Integer {
		return d.Ints, nil
	}
	switch dt.ID {
	case types.Datetime:
		per := 1_000_000_000 / dt.Unit.PerSecond()
		if d.Nanos%per != 0 {
			return 0, fmt.Errorf("duration %dns is finer than %s", d.Nanos, dt)
		}
		return d.Nanos / per, nil
	case types.Date:
		const day = 86400 * 1_000_000_000
		if d.Nanos%day != 0 {
			return 0, fmt.Errorf("duration %dns is not a whole number of days", d.Nanos)
		}
		return d.Nanos / day, nil
	}
	if d.Nanos == 0 {
		return 0, nil
	}
	return 0, fmt.Errorf("time duration cannot be applied to %s column, use integer units like \"2i\"", dt)
}
