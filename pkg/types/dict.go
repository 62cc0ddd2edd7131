package types

import (
	"sync"
)

// StringDict 查询级共享字符串字典，把字符串映射为稳定的整数 ID
// 用于跨分区比较 Utf8 键时避免重复比较字符串
type StringDict struct {
	mu      sync.RWMutex
	ids     map[string]uint32
	strings []string
}

// NewStringDict 创建空字典
func NewStringDict() *StringDict {
	return &StringDict{ids: make(map[string]uint32)}
}

// Intern 返回字符串的 ID，不存在时分配新 ID
func (d *StringDict) Intern(s string) uint32 {
	d.mu.RLock()
	id, ok := d.ids[s]
	d.mu.RUnlock()
	if ok {
		return id
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[s]; ok {
		return id
	}
	id = uint32(len(d.strings))
	d.ids[s] = id
	d.strings = append(d.strings, s)
	return id
}

// Lookup 查找已存在字符串的 ID
func (d *StringDict) Lookup(s string) (uint32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.ids[s]
	return id, ok
}

// String 按 ID 取回字符串
func (d *StringDict) String(id uint32) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(id) >= len(d.strings) {
		return "", false
	}
	return d.strings[id], true
}

// Len 字典大小
func (d *StringDict) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.strings)
}

// Encode 把 Utf8 列编码为 ID 切片，空值位置为 0
func (d *StringDict) Encode(col *Column) []uint32 {
	strs := col.Strings()
	out := make([]uint32, len(strs))
	for i, s := range strs {
		if col.IsNull(i) {
			continue
		}
		out[i] = d.Intern(s)
	}
	return out
}
