//go:build integration

package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/mindmate/internal/db"
	"github.com/raphaelgruber/mindmate/internal/store"
	"github.com/raphaelgruber/mindmate/internal/store/storetest"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) (string, string) {
	t.Helper()
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)
	return host, mapped.Port()
}

func TestSurreal(t *testing.T) {
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
		ExposedPorts: []string{"8000/tcp"},
		Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
		WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
	}, "8000")

	cases := 0
	storetest.Run(t, func(t *testing.T) storetest.Opener {
		// Each case gets its own database so schema and meta start empty.
		cases++
		cfg := db.Config{
			URL:       fmt.Sprintf("ws://%s:%s/rpc", host, port),
			Namespace: "test",
			Database:  fmt.Sprintf("case%d", cases),
			Username:  "root",
			Password:  "root",
			AuthLevel: "root",
		}
		return func(storeCfg store.Config) (store.Store, error) {
			ctx := context.Background()
			client, err := db.NewClient(ctx, cfg, nil)
			if err != nil {
				return nil, err
			}
			s, err := store.OpenSurreal(ctx, client, storeCfg, nil)
			if err != nil {
				_ = client.Close(ctx)
				return nil, err
			}
			return s, nil
		}
	}, storetest.Options{SupportsL2: true})
}

func TestPGVector(t *testing.T) {
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "mindmate",
			"POSTGRES_PASSWORD": "mindmate",
			"POSTGRES_DB":       "mindmate",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432")
	url := fmt.Sprintf("postgres://mindmate:mindmate@%s:%s/mindmate?sslmode=disable", host, port)

	storetest.Run(t, func(t *testing.T) storetest.Opener {
		ctx := context.Background()
		conn, err := pgx.Connect(ctx, url)
		require.NoError(t, err)
		_, err = conn.Exec(ctx, `DROP TABLE IF EXISTS memory_vectors, store_meta`)
		require.NoError(t, err)
		require.NoError(t, conn.Close(ctx))

		return func(cfg store.Config) (store.Store, error) {
			s, err := store.OpenPGVector(context.Background(), url, cfg, nil)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}, storetest.Options{SupportsL2: true})
}
