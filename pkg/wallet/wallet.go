// Package wallet manages user credit balances. Amounts are carried as
// fixed-point decimals and persisted as canonical 8-decimal strings so a
// balance round-trips through the database without drift.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atriumhq/atrium/pkg/metering"
	"github.com/atriumhq/atrium/pkg/store"
)

// Transaction kinds.
const (
	KindDebit  = "debit"
	KindGrant  = "grant"
	KindRefund = "refund"
)

// FormatAmount renders an amount in the canonical ledger form: truncated to
// 8 decimal places, never rounded up.
func FormatAmount(d decimal.Decimal) string {
	return d.Truncate(metering.LedgerScale).StringFixed(metering.LedgerScale)
}

// ParseAmount parses a stored balance or transaction amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid credit amount %q: %w", s, err)
	}
	return d, nil
}

// Ledger exposes wallet reads and staged (transactional) mutations.
type Ledger struct {
	store *store.Store
}

func NewLedger(s *store.Store) *Ledger {
	return &Ledger{store: s}
}

// Balance returns the user's current balance, zero when no wallet exists yet.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	w, err := l.store.GetWalletByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return ParseAmount(w.Balance)
}

// GetOrCreate loads the user's wallet inside tx, creating a zero-balance one
// on first use.
func (l *Ledger) GetOrCreate(ctx context.Context, tx *store.Tx, userID string) (*store.CreditWallet, error) {
	w, err := tx.GetWallet(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	w = &store.CreditWallet{UserID: userID, Balance: FormatAmount(decimal.Zero)}
	if err := tx.InsertWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// StageDebit subtracts amount from the user's balance inside tx and records a
// debit transaction referencing the turn. Negative amounts are clamped to
// zero; usage is billed after the fact, so the balance is allowed to go
// negative here.
func (l *Ledger) StageDebit(ctx context.Context, tx *store.Tx, userID string, amount decimal.Decimal, referenceID string) (decimal.Decimal, error) {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	note := "turn:" + referenceID
	return l.stage(ctx, tx, userID, amount.Neg(), KindDebit, &referenceID, nil, &note)
}

// StageGrant adds amount to the user's balance inside tx.
func (l *Ledger) StageGrant(ctx context.Context, tx *store.Tx, userID string, amount decimal.Decimal, initiatedBy, note string) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("grant amount must be non-negative, got %s", amount)
	}
	var initiatedPtr, notePtr *string
	if initiatedBy != "" {
		initiatedPtr = &initiatedBy
	}
	if note != "" {
		notePtr = &note
	}
	return l.stage(ctx, tx, userID, amount, KindGrant, nil, initiatedPtr, notePtr)
}

func (l *Ledger) stage(ctx context.Context, tx *store.Tx, userID string, delta decimal.Decimal, kind string, referenceID, initiatedBy, note *string) (decimal.Decimal, error) {
	w, err := l.GetOrCreate(ctx, tx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	balance, err := ParseAmount(w.Balance)
	if err != nil {
		return decimal.Zero, err
	}

	newBalance := balance.Add(delta)
	if err := tx.UpdateWalletBalance(ctx, w.ID, FormatAmount(newBalance)); err != nil {
		return decimal.Zero, err
	}

	txn := &store.CreditTransaction{
		WalletID:    w.ID,
		UserID:      userID,
		Amount:      FormatAmount(delta),
		Kind:        kind,
		ReferenceID: referenceID,
		InitiatedBy: initiatedBy,
		Note:        note,
	}
	if err := tx.InsertCreditTransaction(ctx, txn); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}
