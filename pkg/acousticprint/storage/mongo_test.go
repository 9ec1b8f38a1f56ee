package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// setupMongo connects to the server named by ACOUSTIC_TEST_MONGO_URI and
// drops its scratch database afterwards.
func setupMongo(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("ACOUSTIC_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("ACOUSTIC_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := NewMongoStore(ctx, uri, "acousticprint_test_"+uuid.NewString()[:8])
	if err != nil {
		t.Fatalf("Failed to connect to mongo: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = store.songs.Database().Drop(ctx)
		store.Close()
	})
	return store
}

func TestMongoStore(t *testing.T) {
	if os.Getenv("ACOUSTIC_TEST_MONGO_URI") == "" {
		t.Skip("ACOUSTIC_TEST_MONGO_URI not set")
	}
	runStoreSuite(t, func(t *testing.T) catalogStore {
		return setupMongo(t)
	})
}
