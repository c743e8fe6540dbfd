// Package mempool recycles the large float32 buffers used for detector
// input and output tensors.
package mempool

import "sync"

const step = 1024

// pools maps a size class to its *sync.Pool.
var pools sync.Map

// sizeClass rounds n up to a multiple of 1024 so nearby sizes share a pool.
func sizeClass(n int) int {
	if n <= step {
		return step
	}
	return (n + step - 1) / step * step
}

func pool(cls int) *sync.Pool {
	p, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]float32, cls)
		return &buf
	}})
	return p.(*sync.Pool)
}

// GetFloat32 returns a buffer of length n. Its contents are undefined.
// Return it with PutFloat32 once nothing references it.
func GetFloat32(n int) []float32 {
	if n <= 0 {
		return nil
	}
	cls := sizeClass(n)
	bp := pool(cls).Get().(*[]float32)
	buf := *bp
	if cap(buf) < cls {
		buf = make([]float32, cls)
	}
	return buf[:n]
}

// PutFloat32 returns buf to its pool. Nil and foreign-sized slices are
// dropped.
func PutFloat32(buf []float32) {
	c := cap(buf)
	if c == 0 || c%step != 0 {
		return
	}
	buf = buf[:c]
	pool(c).Put(&buf)
}
