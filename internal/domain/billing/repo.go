package billing

import (
	"context"

	"github.com/google/uuid"
)

// LedgerRepository persists ledgers and their payment history. Lock must run
// inside a transaction; Update is a compare-and-set on Version.
type LedgerRepository interface {
	Create(ctx context.Context, l *Ledger) error
	Get(ctx context.Context, id uuid.UUID) (*Ledger, error)
	GetByAdmission(ctx context.Context, admissionID uuid.UUID) (*Ledger, error)
	Lock(ctx context.Context, id uuid.UUID) (*Ledger, error)
	Update(ctx context.Context, l *Ledger) error
	List(ctx context.Context, f LedgerFilter, limit, offset int) ([]*Ledger, int, error)
	Summarize(ctx context.Context, f LedgerFilter) (*Summary, error)

	CreatePayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, ledgerID uuid.UUID) ([]*Payment, error)
}

type ClaimRepository interface {
	Create(ctx context.Context, c *Claim) error
	Get(ctx context.Context, id uuid.UUID) (*Claim, error)
	Lock(ctx context.Context, id uuid.UUID) (*Claim, error)
	Update(ctx context.Context, c *Claim) error
	List(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error)
	ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*Claim, error)
}
