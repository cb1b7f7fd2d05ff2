package fabric

import "testing"

// BenchmarkRingWriteRead is a tight single-goroutine write/read loop with
// b.ReportAllocs to confirm zero allocation per op.
func BenchmarkRingWriteRead(b *testing.B) {
	r := NewRing[int64](4096)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.TryWrite(int64(i))
		r.TryRead()
	}
}

func BenchmarkObjectPoolGetPut(b *testing.B) {
	p := NewObjectPool[[64]byte](4096)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx, _ := p.Get()
		p.Put(idx)
	}
}
