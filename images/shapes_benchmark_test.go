package images

import (
	"math/rand"
	"testing"
)

// BenchmarkIoU_NonOverlapping exercises the early return when the boxes do not intersect.
func BenchmarkIoU_NonOverlapping(b *testing.B) {
	b1 := BoundingBox{YMin: 0, XMin: 0, YMax: 0.1, XMax: 0.1}
	b2 := BoundingBox{YMin: 0.2, XMin: 0.2, YMax: 0.3, XMax: 0.3}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = b1.IoU(b2)
	}
}

// BenchmarkIoU_PartialOverlap is the common prediction versus ground truth case.
func BenchmarkIoU_PartialOverlap(b *testing.B) {
	b1 := BoundingBox{YMin: 0, XMin: 0, YMax: 0.1, XMax: 0.1}
	b2 := BoundingBox{YMin: 0.05, XMin: 0.05, YMax: 0.15, XMax: 0.15}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = b1.IoU(b2)
	}
}

// BenchmarkBoundingBoxIoU_RandomPairs measures normalized IoU over random box pairs.
func BenchmarkBoundingBoxIoU_RandomPairs(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	const numPairs = 1000
	pairs := make([][2]BoundingBox, numPairs)
	for i := range pairs {
		for j := 0; j < 2; j++ {
			y, x := rng.Float32()*0.8, rng.Float32()*0.8
			pairs[i][j] = BoundingBox{YMin: y, XMin: x, YMax: y + 0.2, XMax: x + 0.2}
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		p := pairs[i%numPairs]
		_ = p[0].IoU(p[1])
	}
}
