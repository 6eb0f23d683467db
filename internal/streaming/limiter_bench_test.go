package streaming

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func BenchmarkLimiterAcquire(b *testing.B) {
	cases := []struct {
		name           string
		maxConcurrent  int
		acquireTimeout time.Duration
		parallelism    int
	}{
		{name: "max1-timeout1ms", maxConcurrent: 1, acquireTimeout: time.Millisecond, parallelism: 4},
		{name: "max4-timeout1ms", maxConcurrent: 4, acquireTimeout: time.Millisecond, parallelism: 4},
		{name: "max16-timeout5ms", maxConcurrent: 16, acquireTimeout: 5 * time.Millisecond, parallelism: 8},
	}

	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			limiter := NewLimiter(LimiterConfig{MaxConcurrent: tc.maxConcurrent, AcquireTimeout: tc.acquireTimeout})
			var timeouts int64
			b.ReportAllocs()
			b.SetParallelism(tc.parallelism)
			b.ResetTimer()

			ctx := context.Background()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					release, err := limiter.Acquire(ctx)
					if err != nil {
						atomic.AddInt64(&timeouts, 1)
						continue
					}
					runtime.Gosched()
					release()
				}
			})
			b.ReportMetric(float64(timeouts)/float64(b.N), "timeouts/op")
		})
	}
}

func BenchmarkFramerWriteChunk(b *testing.B) {
	samples := make([]int16, 2400) // 100ms at 24kHz
	for i := range samples {
		samples[i] = int16(i)
	}
	w := &discardResponseWriter{header: make(map[string][]string)}
	f := NewFramer(w, FramerConfig{})
	if err := f.Begin(24000); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.SetBytes(int64(len(samples) * 4))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := f.WriteChunk(samples); err != nil {
			b.Fatal(err)
		}
	}
}
