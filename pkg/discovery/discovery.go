package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/example/tableside/pkg/config"
)

// ServiceDiscovery registers platform instances (API gateway, workers) in
// etcd under a leased key so dead instances fall out automatically.
type ServiceDiscovery struct {
	client *clientv3.Client
	config *config.EtcdConfig
}

type ServiceInstance struct {
	Name string
	Host string
	Port int
}

const leaseTTLSeconds = 30

func NewServiceDiscovery(cfg *config.EtcdConfig) (*ServiceDiscovery, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &ServiceDiscovery{
		client: cli,
		config: cfg,
	}, nil
}

func (sd *ServiceDiscovery) key(instance *ServiceInstance) string {
	return fmt.Sprintf("%s%s/%s:%d", sd.config.Prefix, instance.Name, instance.Host, instance.Port)
}

func (sd *ServiceDiscovery) Register(ctx context.Context, instance *ServiceInstance) error {
	value := fmt.Sprintf("%s:%d", instance.Host, instance.Port)

	lease, err := sd.client.Grant(ctx, leaseTTLSeconds)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	_, err = sd.client.Put(ctx, sd.key(instance), value, clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	ch, kaerr := sd.client.KeepAlive(ctx, lease.ID)
	if kaerr != nil {
		return fmt.Errorf("failed to keep alive: %w", kaerr)
	}

	// Drain keep-alive responses until the context ends.
	go func() {
		for ka := range ch {
			_ = ka
		}
	}()

	return nil
}

func (sd *ServiceDiscovery) Discover(ctx context.Context, serviceName string) ([]*ServiceInstance, error) {
	key := fmt.Sprintf("%s%s/", sd.config.Prefix, serviceName)

	resp, err := sd.client.Get(ctx, key, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover service: %w", err)
	}

	var instances []*ServiceInstance
	for _, kv := range resp.Kvs {
		host, portStr, ok := strings.Cut(string(kv.Value), ":")
		instance := &ServiceInstance{Name: serviceName, Host: host}
		if ok {
			if port, err := strconv.Atoi(portStr); err == nil {
				instance.Port = port
			}
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

func (sd *ServiceDiscovery) Deregister(ctx context.Context, instance *ServiceInstance) error {
	_, err := sd.client.Delete(ctx, sd.key(instance))
	if err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	return nil
}

func (sd *ServiceDiscovery) Close() error {
	return sd.client.Close()
}
