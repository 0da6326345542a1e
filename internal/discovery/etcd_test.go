package discovery

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

// New only dials lazily (clientv3.New does not block on a live connection),
// so this exercises config wiring without requiring a running etcd cluster.
func TestNewBuildsClientWithoutDialing(t *testing.T) {
	c, err := New(Config{
		Endpoints:   []string{"127.0.0.1:2379"},
		DialTimeout: 2 * time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if c.raw == nil {
		t.Fatal("expected an underlying etcd client")
	}
}

func TestUnregisterWithoutRegisterIsNoOp(t *testing.T) {
	c, err := New(Config{Endpoints: []string{"127.0.0.1:2379"}}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Unregister(); err != nil {
		t.Errorf("Unregister before Register: %v", err)
	}
}
