package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"orders-service/internal/database"
	"orders-service/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDB represents a test database instance.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB creates a PostgreSQL test container with the order schema applied.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create connection pool: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	if err := database.Migrate(ctx, pool, zerolog.Nop()); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	return &TestDB{
		Container: postgresContainer,
		Pool:      pool,
		ConnStr:   connStr,
	}
}

// CleanupDB removes all orders, their items and receipts.
func CleanupDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	if _, err := pool.Exec(context.Background(), "TRUNCATE orders CASCADE"); err != nil {
		t.Logf("failed to clean orders: %v", err)
	}
}

// StubCatalog serves POST /products/validate from a fixed product list.
type StubCatalog struct {
	Server *httptest.Server
	Calls  atomic.Int32

	mu       sync.Mutex
	products map[string]model.Product
	down     bool
}

// NewStubCatalog starts a catalog stub holding the given products.
func NewStubCatalog(t *testing.T, products ...model.Product) *StubCatalog {
	t.Helper()

	c := &StubCatalog{products: make(map[string]model.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}

	c.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Calls.Add(1)

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var req struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		found := make([]model.Product, 0, len(req.IDs))
		for _, id := range req.IDs {
			if p, ok := c.products[id]; ok {
				found = append(found, p)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(found)
	}))
	t.Cleanup(c.Server.Close)

	return c
}

// SetDown makes the stub answer every lookup with 503.
func (c *StubCatalog) SetDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

// NewStubPayments starts a payment stub that opens a session for any order.
func NewStubPayments(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.PaymentSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"orderId": req.OrderID,
			"url":     "https://pay.example/" + req.OrderID.String(),
		})
	}))
	t.Cleanup(server.Close)

	return server
}

// TestProducts is the catalog used across the API tests.
func TestProducts() []model.Product {
	return []model.Product{
		{ID: "P1", Name: "Keyboard", Price: decimal.NewFromInt(10)},
		{ID: "P2", Name: "Mouse", Price: decimal.NewFromInt(25)},
	}
}
