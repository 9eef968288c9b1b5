package ingest

import (
	"io"
	"sync"
	"testing"
	"time"
)

func TestRegistryRegisterAssignsSourceIndex(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, nil)
	s1, w, err := r.Register("a", FormatMPEGTS)
	if err != nil {
		t.Fatalf("Register(a) error: %v", err)
	}
	if s1.Source != 0 {
		t.Fatalf("s1.Source = %d, want 0", s1.Source)
	}
	if w == nil {
		t.Fatal("writer is nil")
	}

	s2, _, err := r.Register("b", FormatMPEGTS)
	if err != nil {
		t.Fatalf("Register(b) error: %v", err)
	}
	if s2.Source != 1 {
		t.Fatalf("s2.Source = %d, want 1", s2.Source)
	}
}

func TestRegistryRejectsBeyondMaxSources(t *testing.T) {
	t.Parallel()

	r := NewRegistry(1, nil)
	if _, _, err := r.Register("a", FormatMPEGTS); err != nil {
		t.Fatalf("first Register error: %v", err)
	}
	if _, _, err := r.Register("b", FormatMPEGTS); err != ErrSourcesExhausted {
		t.Fatalf("second Register error = %v, want ErrSourcesExhausted", err)
	}
}

func TestRegistryRecyclesSourceAfterUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry(2, nil)
	s1, _, err := r.Register("a", FormatMPEGTS)
	if err != nil {
		t.Fatalf("Register(a) error: %v", err)
	}
	if s1.Source != 0 {
		t.Fatalf("s1.Source = %d, want 0", s1.Source)
	}

	s2, _, err := r.Register("b", FormatMPEGTS)
	if err != nil {
		t.Fatalf("Register(b) error: %v", err)
	}
	if s2.Source != 1 {
		t.Fatalf("s2.Source = %d, want 1", s2.Source)
	}

	r.Unregister("a")

	// A freshly-accepted reconnect must reuse the freed index, not grow
	// past maxSources via a monotonically increasing counter.
	s3, _, err := r.Register("a-reconnect", FormatMPEGTS)
	if err != nil {
		t.Fatalf("Register(a-reconnect) error: %v", err)
	}
	if s3.Source != 0 {
		t.Fatalf("s3.Source = %d, want 0 (recycled)", s3.Source)
	}
}

func TestRegistryGetMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, nil)
	_, ok := r.Get("nonexistent")
	if ok {
		t.Fatal("Get returned true for missing stream")
	}
}

func TestRegistryUnregisterClosesPipe(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, nil)
	stream, _, _ := r.Register("stream1", FormatMPEGTS)
	r.Unregister("stream1")

	buf := make([]byte, 1)
	_, err := stream.input.Read(buf)
	if err != io.EOF {
		t.Fatalf("expected EOF after Unregister, got %v", err)
	}

	if _, ok := r.Get("stream1"); ok {
		t.Fatal("stream still found after Unregister")
	}
}

func TestRegistryOnStreamCallback(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calledSource int
	var calledKey string

	done := make(chan struct{})
	r := NewRegistry(4, func(source int, key string, _ io.Reader, _ InputFormat) {
		mu.Lock()
		calledSource = source
		calledKey = key
		mu.Unlock()
		close(done)
	})

	r.Register("cb-stream", FormatMPEGTS)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onStream callback not called within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if calledKey != "cb-stream" {
		t.Fatalf("callback got key %q, want %q", calledKey, "cb-stream")
	}
	if calledSource != 0 {
		t.Fatalf("callback got source %d, want 0", calledSource)
	}
}

func TestStreamRecordRead(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, nil)
	stream, _, _ := r.Register("s1", FormatMPEGTS)

	stream.RecordRead(100)
	stream.RecordRead(200)

	stats := stream.IngestStats()
	if stats.BytesReceived != 300 {
		t.Fatalf("BytesReceived = %d, want 300", stats.BytesReceived)
	}
	if stats.ReadCount != 2 {
		t.Fatalf("ReadCount = %d, want 2", stats.ReadCount)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry(64, nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "stream-" + string(rune('A'+n%26)) + string(rune('0'+n/26))
			if _, _, err := r.Register(key, FormatMPEGTS); err != nil {
				return
			}
			r.Get(key)
			r.Unregister(key)
		}(i)
	}

	wg.Wait()
}
