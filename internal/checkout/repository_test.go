package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const checkoutSchema = `
CREATE TABLE listings (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  seller_address TEXT NOT NULL,
  kind TEXT NOT NULL,
  title TEXT NOT NULL,
  price_bzr NUMERIC NOT NULL,
  shipping_fee_bzr NUMERIC NOT NULL DEFAULT 0,
  estimated_delivery_days INTEGER,
  shipping_method TEXT,
  active INTEGER NOT NULL DEFAULT 1,
  updated_at DATETIME
);
CREATE TABLE checkout_sessions (
  id TEXT PRIMARY KEY,
  buyer_address TEXT NOT NULL,
  total_bzr TEXT NOT NULL,
  status TEXT NOT NULL,
  expires_at DATETIME NOT NULL,
  batch_tx_hash TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  buyer_address TEXT NOT NULL,
  seller_address TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  subtotal_bzr TEXT NOT NULL,
  shipping_bzr TEXT NOT NULL,
  total_bzr TEXT NOT NULL,
  status TEXT NOT NULL,
  shipping_address TEXT,
  shipping_option_id TEXT,
  shipping_method TEXT,
  estimated_delivery_days INTEGER NOT NULL DEFAULT 0,
  auto_release_blocks INTEGER,
  auto_release_at DATETIME,
  chain_order_id INTEGER UNIQUE,
  chain_tx_hash TEXT,
  lock_tx_hash TEXT,
  lock_submitted_at DATETIME,
  blockchain_retries INTEGER NOT NULL DEFAULT 0,
  last_blockchain_error TEXT,
  tracking_code TEXT,
  checkout_session_id TEXT,
  shipped_at DATETIME,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  listing_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price_bzr TEXT NOT NULL,
  title TEXT NOT NULL,
  line_total_bzr TEXT NOT NULL,
  created_at DATETIME
);
CREATE TABLE payment_intents (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  amount_bzr TEXT NOT NULL,
  escrow_address TEXT NOT NULL,
  status TEXT NOT NULL,
  tx_hash_in TEXT,
  tx_hash_release TEXT,
  tx_hash_refund TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE escrow_logs (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME
);`

func setupCheckoutDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Exec(checkoutSchema).Error)
	return db
}

func seedSession(t *testing.T, repo Repository, status enums.CheckoutSessionStatus, expiresAt time.Time) models.CheckoutSession {
	t.Helper()
	session := models.CheckoutSession{
		ID:           uuid.New(),
		BuyerAddress: "5Buyer",
		TotalBzr:     amount.BaseUnits(500),
		Status:       status,
		ExpiresAt:    expiresAt,
	}
	require.NoError(t, repo.Create(context.Background(), &session))
	return session
}

func TestSessionTransitionIsConditional(t *testing.T) {
	repo := NewRepository(setupCheckoutDB(t))
	ctx := context.Background()
	session := seedSession(t, repo, enums.CheckoutSessionPending, time.Now().Add(time.Hour))

	err := repo.TransitionStatus(ctx, session.ID,
		[]enums.CheckoutSessionStatus{enums.CheckoutSessionPending}, enums.CheckoutSessionPaid,
		map[string]any{"batch_tx_hash": "0xabc"})
	require.NoError(t, err)

	err = repo.TransitionStatus(ctx, session.ID,
		[]enums.CheckoutSessionStatus{enums.CheckoutSessionPending}, enums.CheckoutSessionFailed, nil)
	require.ErrorIs(t, err, ErrSessionConflict)

	found, err := repo.FindByID(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, enums.CheckoutSessionPaid, found.Status)
	require.NotNil(t, found.BatchTxHash)
	require.Equal(t, "0xabc", *found.BatchTxHash)
}

func TestExpirePendingSkipsSettledSessions(t *testing.T) {
	repo := NewRepository(setupCheckoutDB(t))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	overdue := seedSession(t, repo, enums.CheckoutSessionPending, now.Add(-time.Minute))
	seedSession(t, repo, enums.CheckoutSessionPending, now.Add(time.Minute))
	seedSession(t, repo, enums.CheckoutSessionPaid, now.Add(-time.Hour))

	ids, err := repo.ExpirePending(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{overdue.ID}, ids)

	found, err := repo.FindByID(ctx, overdue.ID)
	require.NoError(t, err)
	require.Equal(t, enums.CheckoutSessionExpired, found.Status)
}

func TestUpdateTotal(t *testing.T) {
	repo := NewRepository(setupCheckoutDB(t))
	ctx := context.Background()
	session := seedSession(t, repo, enums.CheckoutSessionPending, time.Now().Add(time.Hour))

	require.NoError(t, repo.UpdateTotal(ctx, session.ID, amount.BaseUnits(1200)))
	found, err := repo.FindByID(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, amount.BaseUnits(1200), found.TotalBzr)
}
