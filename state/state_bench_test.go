package state

import (
	"fmt"
	"testing"
)

// BenchmarkMemoryTracker_MarkProcessed benchmarks the tracker write path
func BenchmarkMemoryTracker_MarkProcessed(b *testing.B) {
	tracker := NewMemoryTracker()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hash := fmt.Sprintf("hash-%d", i)
		msgID := fmt.Sprintf("msg-%d", i)
		if err := tracker.MarkProcessed(hash, msgID); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkMemoryTracker_AlreadyProcessed benchmarks lookup performance
func BenchmarkMemoryTracker_AlreadyProcessed(b *testing.B) {
	tracker := NewMemoryTracker()

	// Pre-populate with 1000 entries
	for i := 0; i < 1000; i++ {
		hash := fmt.Sprintf("hash-%d", i)
		msgID := fmt.Sprintf("msg-%d", i)
		if err := tracker.MarkProcessed(hash, msgID); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hash := fmt.Sprintf("hash-%d", i%1000)
		_ = tracker.AlreadyProcessed(hash)
	}
}

// BenchmarkHash benchmarks hashing a typical 8KB message
func BenchmarkHash(b *testing.B) {
	raw := make([]byte, 8*1024)
	for i := range raw {
		raw[i] = byte('a' + i%26)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Hash(raw)
	}
}
