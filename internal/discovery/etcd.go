// Package discovery registers a relay server's address in etcd and resolves
// it back out on the client side, so a relay-client can find a relay-server
// without a hardcoded address.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Config configures the etcd client shared by registration and resolution.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Username    string
	Password    string
}

// Client wraps an etcd v3 client with relay-specific registration and
// resolution helpers.
type Client struct {
	raw    *clientv3.Client
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	leaseID    clientv3.LeaseID
	serviceKey string
	closed     bool
}

// New dials etcd using cfg.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	raw, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: dial etcd: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{raw: raw, logger: logger, ctx: ctx, cancel: cancel}, nil
}

// Register advertises a relay server at key -> address with a keepalive
// lease, so a crashed server's entry expires instead of lingering.
func (c *Client) Register(key, address string, ttlSeconds int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("discovery: client is closed")
	}

	lease, err := c.raw.Grant(c.ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("discovery: grant lease: %w", err)
	}
	if _, err := c.raw.Put(c.ctx, key, address, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("discovery: register %s: %w", key, err)
	}

	keepAlive, err := c.raw.KeepAlive(c.ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("discovery: keepalive: %w", err)
	}
	c.leaseID = lease.ID
	c.serviceKey = key

	go c.drainKeepAlive(keepAlive)

	c.logger.Info("registered relay server",
		zap.String("key", key), zap.String("address", address), zap.Int64("ttl", ttlSeconds))
	return nil
}

func (c *Client) drainKeepAlive(ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case resp, ok := <-ch:
			if !ok {
				c.logger.Warn("etcd keepalive channel closed; registration will expire")
				return
			}
			if resp != nil {
				c.logger.Debug("keepalive", zap.Int64("ttl", resp.TTL))
			}
		}
	}
}

// Unregister deletes the key and revokes the lease created by Register.
func (c *Client) Unregister() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.serviceKey == "" {
		return nil
	}
	if _, err := c.raw.Delete(c.ctx, c.serviceKey); err != nil {
		c.logger.Warn("delete service key", zap.Error(err))
	}
	if c.leaseID != 0 {
		if _, err := c.raw.Revoke(c.ctx, c.leaseID); err != nil {
			c.logger.Warn("revoke lease", zap.Error(err))
		}
	}
	c.serviceKey = ""
	return nil
}

// Resolve returns every address currently registered under prefix, one
// Get call against etcd's current state (no watch).
func (c *Client) Resolve(ctx context.Context, prefix string) ([]string, error) {
	resp, err := c.raw.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve %s: %w", prefix, err)
	}
	addrs := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		addrs = append(addrs, string(kv.Value))
	}
	return addrs, nil
}

// Close stops the keepalive goroutine and shuts down the etcd connection.
// It does not unregister the service; call Unregister first if that matters.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return c.raw.Close()
}
