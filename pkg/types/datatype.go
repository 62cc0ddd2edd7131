package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TypeID 逻辑类型标识
type TypeID int

const (
	Boolean TypeID = iota
	Int32
	Int64
	Float64
	Utf8
	Date     // 自 epoch 起的天数，int32 存储
	Datetime // 自 epoch 起的时间单位数，int64 存储
)

// TimeUnit Datetime 的时间精度
type TimeUnit int

const (
	Nanoseconds TimeUnit = iota
	Microseconds
	Milliseconds
)

// String 返回时间单位缩写
func (u TimeUnit) String() string {
	switch u {
	case Nanoseconds:
		return "ns"
	case Microseconds:
		return "us"
	case Milliseconds:
		return "ms"
	default:
		return "unknown"
	}
}

// PerSecond 每秒包含的时间单位数
func (u TimeUnit) PerSecond() int64 {
	switch u {
	case Microseconds:
		return 1_000_000
	case Milliseconds:
		return 1_000
	default:
		return 1_000_000_000
	}
}

// DataType 列数据类型
type DataType struct {
	ID   TypeID
	Unit TimeUnit // 仅对 Datetime 有意义
}

var (
	BooleanType = DataType{ID: Boolean}
	Int32Type   = DataType{ID: Int32}
	Int64Type   = DataType{ID: Int64}
	Float64Type = DataType{ID: Float64}
	Utf8Type    = DataType{ID: Utf8}
	DateType    = DataType{ID: Date}
)

// DatetimeType 创建指定精度的 Datetime 类型
func DatetimeType(unit TimeUnit) DataType {
	return DataType{ID: Datetime, Unit: unit}
}

// Equal 判断两个类型是否完全相同
func (d DataType) Equal(o DataType) bool {
	if d.ID != o.ID {
		return false
	}
	if d.ID == Datetime {
		return d.Unit == o.Unit
	}
	return true
}

// IsNumeric 是否为数值类型
func (d DataType) IsNumeric() bool {
	return d.ID == Int32 || d.ID == Int64 || d.ID == Float64
}

// IsInteger 是否为整数类型
func (d DataType) IsInteger() bool {
	return d.ID == Int32 || d.ID == Int64
}

// IsTemporal 是否为时间类型
func (d DataType) IsTemporal() bool {
	return d.ID == Date || d.ID == Datetime
}

// IsIntegerBacked 物理存储为整数（可作为时间轴或 as-of 键）
func (d DataType) IsIntegerBacked() bool {
	return d.IsInteger() || d.IsTemporal()
}

// String 返回类型名
func (d DataType) String() string {
	switch d.ID {
	case Boolean:
		return "bool"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case Utf8:
		return "utf8"
	case Date:
		return "date"
	case Datetime:
		return fmt.Sprintf("datetime[%s]", d.Unit)
	default:
		return fmt.Sprintf("unknown(%d)", int(d.ID))
	}
}

// ParseDataType 解析类型名，与 String 互逆
func ParseDataType(s string) (DataType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "bool", "boolean":
		return BooleanType, nil
	case "int32", "i32":
		return Int32Type, nil
	case "int64", "i64", "int":
		return Int64Type, nil
	case "float64", "f64", "double", "float":
		return Float64Type, nil
	case "utf8", "string", "str":
		return Utf8Type, nil
	case "date":
		return DateType, nil
	case "datetime":
		return DatetimeType(Microseconds), nil
	}
	if strings.HasPrefix(s, "datetime[") && strings.HasSuffix(s, "]") {
		switch s[len("datetime[") : len(s)-1] {
		case "ns":
			return DatetimeType(Nanoseconds), nil
		case "us":
			return DatetimeType(Microseconds), nil
		case "ms":
			return DatetimeType(Milliseconds), nil
		}
	}
	return DataType{}, fmt.Errorf("unknown data type %q", s)
}

// MarshalJSON 以类型名序列化
func (d DataType) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON 从类型名反序列化
func (d *DataType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDataType(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// LosslessSupertype 返回两个类型无损提升后的公共类型
// 仅数值类型之间可以提升：Int32 -> Int64 -> Float64
func LosslessSupertype(a, b DataType) (DataType, bool) {
	if a.Equal(b) {
		return a, true
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		return DataType{}, false
	}
	if a.ID == Float64 || b.ID == Float64 {
		return Float64Type, true
	}
	return Int64Type, true
}
