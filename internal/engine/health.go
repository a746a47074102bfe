package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/google/go-github/v57/github"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthCheck: проверка одной внешней зависимости.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc: проверка из функции.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// StorageCheck: доступность Postgres.
func StorageCheck(db *sql.DB) HealthCheck {
	return CheckFunc{CheckName: "storage", Fn: db.PingContext}
}

// RedisCheck: доступность Redis (общие окна допуска, сигналы политик).
func RedisCheck(rdb *redis.Client) HealthCheck {
	return CheckFunc{CheckName: "redis", Fn: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
}

// GitHubCheck: доступность API действий. rate_limit не расходует квоту.
func GitHubCheck(client *github.Client) HealthCheck {
	return CheckFunc{CheckName: "action_api", Fn: func(ctx context.Context) error {
		req, err := client.NewRequest(http.MethodGet, "rate_limit", nil)
		if err != nil {
			return err
		}
		_, err = client.Do(ctx, req, nil)
		return err
	}}
}

// GRPCHealthCheck: стандартный grpc.health.v1 у внешнего сервиса классификации.
func GRPCHealthCheck(name string, conn grpc.ClientConnInterface, service string) HealthCheck {
	client := grpc_health_v1.NewHealthClient(conn)
	return CheckFunc{CheckName: name, Fn: func(ctx context.Context) error {
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			return err
		}
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			return fmt.Errorf("service %q is %s", service, resp.GetStatus())
		}
		return nil
	}}
}
