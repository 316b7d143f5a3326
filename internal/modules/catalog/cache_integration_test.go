//go:build integration

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/platform/cache"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMedicineCacheInvalidatedOnUpdate(t *testing.T) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client, err := cache.NewRedisClient(ctx, "redis://"+endpoint)
	require.NoError(t, err)
	defer client.Close()

	svc := NewService(NewMemoryRepository(), cache.NewJSONCache(client, "medicine", time.Minute), nil)
	created, err := svc.CreateMedicine(ctx, MedicineRequest{Name: "Amoxicillin", Price: decimal.RequireFromString("12.50")})
	require.NoError(t, err)
	key := "medicine:" + created.ID.String()

	_, err = svc.GetMedicine(ctx, created.ID)
	require.NoError(t, err)
	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "read populates the cache with a TTL")

	_, err = svc.UpdateMedicine(ctx, created.ID, MedicineRequest{Name: "Amoxicillin 500mg", Price: decimal.RequireFromString("14")})
	require.NoError(t, err)
	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "update removes the cached entry")

	got, err := svc.GetMedicine(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Amoxicillin 500mg", got.Name)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(14)))
}
