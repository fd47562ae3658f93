package repository_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/repository/firestore"
	"github.com/secmon-lab/actiongate/pkg/repository/memory"
	"github.com/secmon-lab/actiongate/pkg/repository/redis"
)

func newMemoryRepository(t *testing.T) interfaces.Repository {
	t.Helper()
	return memory.New()
}

func newFirestoreRepository(t *testing.T) interfaces.Repository {
	t.Helper()

	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
	}

	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if databaseID == "" {
		t.Skip("TEST_FIRESTORE_DATABASE_ID not set")
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("test_%d", time.Now().UnixNano())
	repo, err := firestore.New(ctx, projectID, databaseID, firestore.WithCollectionPrefix(prefix))
	if err != nil {
		t.Fatalf("failed to create firestore repository: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("failed to close firestore repository: %v", err)
		}
	})
	return repo
}

func newRedisRepository(t *testing.T) interfaces.Repository {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("test_%d:", time.Now().UnixNano())
	repo, err := redis.New(ctx, addr, redis.WithKeyPrefix(prefix))
	if err != nil {
		t.Fatalf("failed to create redis repository: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("failed to close redis repository: %v", err)
		}
	})
	return repo
}

// uniqueTenant keeps runs against shared backends apart
func uniqueTenant(name string) string {
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}
