package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the logical layout of the ledger core. Amounts are fixed-point
// NUMERIC(18,2); wallet deletion cascades from its user, entry references
// restrict wallet and transaction deletion.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            UUID PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS wallets (
    id         UUID PRIMARY KEY,
    user_id    UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    currency   CHAR(3) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
    id         UUID PRIMARY KEY,
    type       TEXT NOT NULL CHECK (type IN ('deposit', 'withdraw', 'transfer')),
    status     TEXT NOT NULL CHECK (status IN ('pending', 'posted', 'failed')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id             UUID PRIMARY KEY,
    seq            BIGSERIAL,
    wallet_id      UUID NOT NULL REFERENCES wallets (id) ON DELETE RESTRICT,
    transaction_id UUID NOT NULL REFERENCES transactions (id) ON DELETE RESTRICT,
    amount         NUMERIC(18, 2) NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_wallets_user ON wallets (user_id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet ON ledger_entries (wallet_id, created_at, seq);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_transaction ON ledger_entries (transaction_id, seq);
`

// Migrate applies the ledger schema. Statements are idempotent so repeated
// runs are safe.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
