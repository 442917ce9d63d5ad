package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/mealdelivery/pkg/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type ServiceInstance struct {
	Name string
	Host string
	Port int
}

func (i ServiceInstance) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// Key is the etcd key an instance is registered under.
func Key(prefix string, i ServiceInstance) string {
	return fmt.Sprintf("%s%s/%s", prefix, i.Name, i.Addr())
}

// ParseAddr splits a registered host:port value.
func ParseAddr(name, value string) (ServiceInstance, error) {
	idx := strings.LastIndex(value, ":")
	if idx <= 0 {
		return ServiceInstance{}, fmt.Errorf("malformed address %q", value)
	}
	port, err := strconv.Atoi(value[idx+1:])
	if err != nil {
		return ServiceInstance{}, fmt.Errorf("malformed port in %q: %w", value, err)
	}
	return ServiceInstance{Name: name, Host: value[:idx], Port: port}, nil
}

// Registry registers this service in etcd under a lease kept alive for the
// life of the process.
type Registry struct {
	client  *clientv3.Client
	config  *config.EtcdConfig
	logger  *zap.Logger
	leaseID clientv3.LeaseID
}

func NewRegistry(cfg *config.EtcdConfig, logger *zap.Logger) (*Registry, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &Registry{
		client: cli,
		config: cfg,
		logger: logger,
	}, nil
}

func (r *Registry) Register(ctx context.Context, instance ServiceInstance) error {
	lease, err := r.client.Grant(ctx, r.config.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	if _, err := r.client.Put(ctx, Key(r.config.Prefix, instance), instance.Addr(), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("failed to keep alive: %w", err)
	}
	r.leaseID = lease.ID

	go func() {
		for range ch {
		}
		r.logger.Info("etcd keep-alive channel closed", zap.String("service", instance.Name))
	}()

	return nil
}

func (r *Registry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, fmt.Sprintf("%s%s/", r.config.Prefix, serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover service: %w", err)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		inst, err := ParseAddr(serviceName, string(kv.Value))
		if err != nil {
			r.logger.Warn("Skipping malformed registration", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Deregister revokes the lease, which removes the key with it.
func (r *Registry) Deregister(ctx context.Context) error {
	if r.leaseID == 0 {
		return nil
	}
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	r.leaseID = 0
	return nil
}

func (r *Registry) Close() error {
	return r.client.Close()
}
