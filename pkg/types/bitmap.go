package types

import (
	"github.com/apache/arrow-go/v18/arrow/bitutil"
)

// Bitmap 有效性位图，LSB 顺序，置位表示非空
type Bitmap struct {
	buf []byte
	n   int
}

// NewBitmap 创建长度为 n 的位图，set 为 true 时全部置位
func NewBitmap(n int, set bool) *Bitmap {
	b := &Bitmap{
		buf: make([]byte, bitutil.BytesForBits(int64(n))),
		n:   n,
	}
	if set {
		for i := range b.buf {
			b.buf[i] = 0xFF
		}
	}
	return b
}

// BitmapFromBools 由布尔切片构造位图
func BitmapFromBools(valid []bool) *Bitmap {
	b := NewBitmap(len(valid), false)
	for i, v := range valid {
		if v {
			bitutil.SetBit(b.buf, i)
		}
	}
	return b
}

// Len 位数
func (b *Bitmap) Len() int {
	return b.n
}

// Get 第 i 位是否置位
func (b *Bitmap) Get(i int) bool {
	return bitutil.BitIsSet(b.buf, i)
}

// Set 设置第 i 位
func (b *Bitmap) Set(i int, v bool) {
	bitutil.SetBitTo(b.buf, i, v)
}

// CountSet 置位数
func (b *Bitmap) CountSet() int {
	return bitutil.CountSetBits(b.buf, 0, b.n)
}

// Bytes 底层字节，供 arrow 互操作
func (b *Bitmap) Bytes() []byte {
	return b.buf
}

// Clone 深拷贝
func (b *Bitmap) Clone() *Bitmap {
	buf := make([]byte, len(b.buf))
	copy(buf, b.buf)
	return &Bitmap{buf: buf, n: b.n}
}

// Slice 截取 [offset, offset+length)
func (b *Bitmap) Slice(offset, length int) *Bitmap {
	out := NewBitmap(length, false)
	for i := range length {
		if bitutil.BitIsSet(b.buf, offset+i) {
			bitutil.SetBit(out.buf, i)
		}
	}
	return out
}

// And 按位与，两个位图长度必须相同
func (b *Bitmap) And(o *Bitmap) *Bitmap {
	out := NewBitmap(b.n, false)
	bitutil.BitmapAnd(b.buf, o.buf, 0, 0, out.buf, 0, int64(b.n))
	return out
}

// Or 按位或
func (b *Bitmap) Or(o *Bitmap) *Bitmap {
	out := NewBitmap(b.n, false)
	bitutil.BitmapOr(b.buf, o.buf, 0, 0, out.buf, 0, int64(b.n))
	return out
}

// AndNot b & ^o
func (b *Bitmap) AndNot(o *Bitmap) *Bitmap {
	out := NewBitmap(b.n, false)
	bitutil.BitmapAndNot(b.buf, o.buf, 0, 0, out.buf, 0, int64(b.n))
	return out
}

// CombineValidity 合并两个可空的有效性位图，nil 表示全有效
func CombineValidity(a, b *Bitmap) *Bitmap {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return a.And(b)
	}
}
