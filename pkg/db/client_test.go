package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type ledgerRow struct {
	ID   int
	Note string
}

func openSQLite(t *testing.T) *Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&ledgerRow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewFromConn(conn)
}

func countRows(t *testing.T, client *Client) int64 {
	t.Helper()
	var n int64
	if err := client.DB().Model(&ledgerRow{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWithTx(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()

	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&ledgerRow{Note: "kept"}).Error
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if n := countRows(t, client); n != 1 {
		t.Fatalf("rows after commit = %d, want 1", n)
	}

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&ledgerRow{Note: "dropped"}).Error; err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("rollback error = %v, want boom", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("panic should propagate")
			}
		}()
		_ = client.WithTx(ctx, func(tx *gorm.DB) error {
			tx.Create(&ledgerRow{Note: "panicked"})
			panic("explode")
		})
	}()

	if n := countRows(t, client); n != 1 {
		t.Fatalf("rows after rollbacks = %d, want 1", n)
	}
}

func TestNewOpensSQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		Driver:          DriverSQLite,
		DSN:             "file:client_new?mode=memory&cache=shared",
		MaxOpenConns:    3,
		ConnectAttempts: 1,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if name := client.DB().Dialector.Name(); name != DriverSQLite {
		t.Fatalf("dialector = %s", name)
	}
	sqlDB, _ := client.DB().DB()
	if got := sqlDB.Stats().MaxOpenConnections; got != 3 {
		t.Fatalf("max open conns = %d, want 3", got)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), config.DBConfig{}, nil); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestAwaitReadyGivesUp(t *testing.T) {
	client := openSQLite(t)
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := client.awaitReady(context.Background(), 2, nil)
	if err == nil || !strings.Contains(err.Error(), "after 2 attempt(s)") {
		t.Fatalf("awaitReady = %v", err)
	}

	err = client.awaitReady(context.Background(), 0, nil)
	if err == nil || !strings.Contains(err.Error(), "after 1 attempt(s)") {
		t.Fatalf("zero attempts should still ping once, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := errors.New(`ERROR: duplicate key value violates unique constraint "orders_chain_order_id_key"`)
	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected generic unique violation match")
	}
	if !IsUniqueViolation(err, "orders_chain_order_id_key") {
		t.Fatalf("expected constraint match")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatalf("nil error is never a violation")
	}
	if IsUniqueViolation(errors.New("orders_chain_order_id_key not null"), "orders_chain_order_id_key") {
		t.Fatalf("constraint name alone is not a violation")
	}

	pgErr := fmt.Errorf("set chain id: %w", &pgconn.PgError{Code: "23505", ConstraintName: "orders_chain_order_id_key"})
	if !IsUniqueViolation(pgErr, "orders_chain_order_id_key") {
		t.Fatalf("expected pg error code match")
	}
	if IsUniqueViolation(pgErr, "payment_intents_pkey") {
		t.Fatalf("expected constraint mismatch")
	}

	sqliteErr := errors.New("UNIQUE constraint failed: orders.chain_order_id")
	if !IsUniqueViolation(sqliteErr, "") {
		t.Fatalf("expected sqlite unique match")
	}
}
