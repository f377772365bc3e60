package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/ipd/pkg/apperr"
)

// ApplyInsurance moves the ledger's insurance accumulators. claimedDelta may
// be negative (a rejected claim withdraws its amount); approvedDelta may not.
// The balance is recomputed and clamped at zero, so an insurer paying more
// than the patient owes never produces a negative balance.
func (s *LedgerService) ApplyInsurance(ctx context.Context, ledgerID uuid.UUID, claimedDelta, approvedDelta decimal.Decimal) (*Ledger, error) {
	if approvedDelta.IsNegative() {
		return nil, apperr.InvalidArgument("approved amount must not be negative")
	}
	if !isCents(claimedDelta) || !isCents(approvedDelta) {
		return nil, apperr.InvalidArgument("insurance amounts have more than two decimal places")
	}
	return s.mutate(ctx, ledgerID, func(_ context.Context, l *Ledger) error {
		claimed := l.InsuranceClaimed.Add(claimedDelta)
		if claimed.IsNegative() {
			return apperr.InvalidState("insurance claimed on ledger %s would become negative", l.BillNumber)
		}
		l.InsuranceClaimed = claimed
		l.InsuranceApproved = l.InsuranceApproved.Add(approvedDelta)
		if approvedDelta.IsPositive() {
			l.appendNote(s.now(), "insurance settled "+approvedDelta.StringFixed(2))
		}
		return nil
	})
}

// settle applies amount of an approved claim to its ledger and promotes the
// claim to SETTLED once nothing approved is left unapplied. The claim row
// must already be locked by the caller.
func (s *ClaimService) settle(ctx context.Context, c *Claim, amount decimal.Decimal) error {
	if amount.GreaterThan(c.Unsettled()) {
		return apperr.InvalidOperation("settlement %s exceeds unsettled approved amount %s",
			amount.StringFixed(2), c.Unsettled().StringFixed(2))
	}
	if _, err := s.ledgers.ApplyInsurance(ctx, c.LedgerID, decimal.Zero, amount); err != nil {
		return err
	}
	c.SettledAmount = c.SettledAmount.Add(amount)
	if c.SettledAmount.Equal(c.ApprovedAmount) {
		c.Status = ClaimSettled
	}
	return nil
}
