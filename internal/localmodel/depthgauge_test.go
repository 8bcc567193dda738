package localmodel

import "testing"

func TestNewDepthPublisher_InvalidURL(t *testing.T) {
	_, err := NewDepthPublisher("not-a-redis-url", "docengine", nil)
	if err == nil {
		t.Fatal("expected an error for an unparseable redis URL")
	}
}

func TestDepthPublisher_StopOnNilIsSafe(t *testing.T) {
	var d *DepthPublisher
	d.Stop() // must not panic
}

func TestDepthPublisher_RunOnNilIsSafe(t *testing.T) {
	var d *DepthPublisher
	d.Run(0) // must return immediately, not panic
}

func TestPool_QueueDepth(t *testing.T) {
	p, err := New(1, 4, newFactory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if p.QueueDepth() != 0 {
		t.Fatalf("expected empty queue depth, got %d", p.QueueDepth())
	}
}
