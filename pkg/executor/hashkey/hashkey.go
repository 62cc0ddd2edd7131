// Package hashkey 计算多列组合键的哈希与相等性，供哈希连接与分组使用
package hashkey

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/kasuganosora/colexec/pkg/types"
)

const (
	tagNull  byte = 0
	tagValue byte = 1
)

// Keys 一组键列按行计算好的哈希
type Keys struct {
	cols    []*types.Column
	ids     [][]uint32 // Utf8 列的字典编码，其他列为 nil
	hashes  []uint64
	hasNull []bool
	rows    int
}

// Build 对 cols 的每一行计算组合键哈希；dict 非空时 Utf8 列先做字典编码
// 参与比较的两组 Keys 必须使用同一个 dict
func Build(cols []*types.Column, dict *types.StringDict) *Keys {
	k := &Keys{cols: cols, ids: make([][]uint32, len(cols))}
	if len(cols) == 0 {
		return k
	}
	k.rows = cols[0].Len()
	if dict != nil {
		for i, c := range cols {
			if c.Type().ID == types.Utf8 {
				k.ids[i] = dict.Encode(c)
			}
		}
	}

	k.hashes = make([]uint64, k.rows)
	k.hasNull = make([]bool, k.rows)
	buf := make([]byte, 0, 16*len(cols))
	for r := 0; r < k.rows; r++ {
		buf = buf[:0]
		for i, c := range cols {
			if c.IsNull(r) {
				k.hasNull[r] = true
				buf = append(buf, tagNull)
				continue
			}
			buf = append(buf, tagValue)
			buf = k.appendValue(buf, i, r)
		}
		k.hashes[r] = xxhash.Sum64(buf)
	}
	return k
}

func (k *Keys) appendValue(buf []byte, col, r int) []byte {
	if ids := k.ids[col]; ids != nil {
		return binary.LittleEndian.AppendUint32(buf, ids[r])
	}
	c := k.cols[col]
	switch v := c.Values().(type) {
	case []bool:
		if v[r] {
			return append(buf, 1)
		}
		return append(buf, 0)
	case []int32:
		return binary.LittleEndian.AppendUint32(buf, uint32(v[r]))
	case []int64:
		return binary.LittleEndian.AppendUint64(buf, uint64(v[r]))
	case []float64:
		return binary.LittleEndian.AppendUint64(buf, canonicalBits(v[r]))
	case []string:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v[r])))
		return append(buf, v[r]...)
	}
	return buf
}

// canonicalBits 使 +0/-0 与所有 NaN 各自得到相同的哈希
func canonicalBits(f float64) uint64 {
	switch {
	case f == 0:
		return 0
	case math.IsNaN(f):
		return 0x7ff8000000000001
	}
	return math.Float64bits(f)
}

// Len 行数
func (k *Keys) Len() int {
	return k.rows
}

// Hash 第 i 行的组合键哈希
func (k *Keys) Hash(i int) uint64 {
	return k.hashes[i]
}

// HasNull 第 i 行是否含空值分量
func (k *Keys) HasNull(i int) bool {
	return k.hasNull[i]
}

// Equal 比较 k[i] 与 o[j]；空值分量仅在 nullsEqual 时与空值相等
func (k *Keys) Equal(i int, o *Keys, j int, nullsEqual bool) bool {
	if k.hashes[i] != o.hashes[j] {
		return false
	}
	for c, col := range k.cols {
		oc := o.cols[c]
		ln, rn := col.IsNull(i), oc.IsNull(j)
		if ln || rn {
			if ln && rn && nullsEqual {
				continue
			}
			return false
		}
		if ids := k.ids[c]; ids != nil && o.ids[c] != nil {
			if ids[i] != o.ids[c][j] {
				return false
			}
			continue
		}
		if col.Compare(i, oc, j) != 0 {
			return false
		}
	}
	return true
}

// Partition 按哈希高位把键映射到 [0, parts)
func Partition(hash uint64, parts int) int {
	if parts <= 1 {
		return 0
	}
	hi := hash >> 32
	return int((hi * uint64(parts)) >> 32)
}
