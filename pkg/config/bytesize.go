package config

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ByteSize 字节数，JSON 中既可以写数字也可以写 "4GiB"、"512 MB" 之类的字符串
type ByteSize uint64

// ParseByteSize 解析人类可读的字节数
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("无效的字节数 %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// String 以 IEC 单位显示
func (b ByteSize) String() string {
	if b == 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(b))
}

// MarshalJSON 序列化为人类可读字符串
func (b ByteSize) MarshalJSON() ([]byte, error) {
	if b == 0 {
		return []byte("0"), nil
	}
	return json.Marshal(humanize.IBytes(uint64(b)))
}

// UnmarshalJSON 支持数字和字符串两种写法
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var n uint64
	if err := json.Unmarshal(data, &n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("无效的字节数: %s", string(data))
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
