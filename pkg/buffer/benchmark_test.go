package buffer

import (
	"sync"
	"testing"
)

func BenchmarkWrite_WithRoom(b *testing.B) {
	buf, err := NewCircularBuffer[int](b.N + 1)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Write(i)
	}
}

func BenchmarkWrite_Evicting(b *testing.B) {
	// Every write beyond the first 64 pays the DropOldest eviction.
	buf, err := NewCircularBuffer[int](64)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Write(i)
	}
}

func BenchmarkWriteRead_Paired(b *testing.B) {
	buf, err := NewCircularBuffer[int](1024)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Write(i)
		buf.Read()
	}
}

func BenchmarkConcurrent_OneWriterOneReader(b *testing.B) {
	buf, err := NewCircularBuffer[int](256)
	if err != nil {
		b.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				buf.Read()
			}
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Write(i)
	}
	b.StopTimer()

	close(done)
	wg.Wait()
}
