package mongo_test

import (
	"context"
	"testing"
	"time"

	mongoadapter "github.com/robertarktes/seat-reservations/internal/adapters/mongo"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func startMongo(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("mongo container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "mongodb")
	require.NoError(t, err)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client.Database("seats_test")
}

func TestVenueCatalog(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	catalog := mongoadapter.NewVenueCatalog(db, observability.NewNopLogger())

	_, _, err := catalog.PriceFor(ctx, "A-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, catalog.SetTablePrice(ctx, "A-1", domain.CategoryVIP, 800000))
	require.NoError(t, catalog.SetTablePrice(ctx, "A-1", domain.CategoryVIP, 820000))

	cat, price, err := catalog.PriceFor(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryVIP, cat)
	assert.Equal(t, domain.Cents(820000), price)
}

func TestAuditLogger(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	audit := mongoadapter.NewAuditLogger(db, observability.NewNopLogger())

	require.NoError(t, audit.LogHold(ctx, domain.Hold{
		ID:        "H1",
		Seats:     []domain.SeatRef{{TableID: "A-1", SeatNo: 1}},
		ExpiresAt: time.Now().Add(time.Minute),
	}))
	require.NoError(t, audit.LogRelease(ctx, "H1", 1))
	require.NoError(t, audit.LogStatus(ctx, 7, domain.OrderPaid))

	n, err := db.Collection("audit_logs").CountDocuments(ctx, bson.M{"subject": "H1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
