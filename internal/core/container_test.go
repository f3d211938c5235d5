//go:build container

package core_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce sync.Once
	pgURL  string
	pgErr  error
)

func init() {
	containerURL = func(t *testing.T) string {
		pgOnce.Do(func() { pgURL, pgErr = startPostgres(context.Background()) })
		if pgErr != nil {
			t.Fatalf("start postgres container: %v", pgErr)
		}
		return pgURL
	}
}

// startPostgres runs one container for the whole package; the reaper removes it.
func startPostgres(ctx context.Context) (string, error) {
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "backoffice_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return "", err
	}
	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgres://test:test@%s:%s/backoffice_test?sslmode=disable", host, port.Port()), nil
}
