package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/pkg/apperr"
	"github.com/ehr/ipd/pkg/docnum"
)

// ClaimService runs the insurance claim lifecycle and feeds approved amounts
// into the ledger. Locks are taken claim first, then ledger.
type ClaimService struct {
	claims     ClaimRepository
	ledgers    *LedgerService
	admissions AdmissionReader
	tx         db.TxRunner
	logger     zerolog.Logger
	now        func() time.Time
}

func NewClaimService(claims ClaimRepository, ledgers *LedgerService, admissions AdmissionReader, tx db.TxRunner, logger zerolog.Logger) *ClaimService {
	return &ClaimService{
		claims:     claims,
		ledgers:    ledgers,
		admissions: admissions,
		tx:         tx,
		logger:     logger,
		now:        time.Now,
	}
}

type CreateClaimRequest struct {
	AdmissionID   uuid.UUID       `json:"admission_id"`
	InsurerName   string          `json:"insurer_name"`
	PolicyNumber  string          `json:"policy_number"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	Notes         *string         `json:"notes,omitempty"`
}

func (s *ClaimService) Create(ctx context.Context, req CreateClaimRequest) (*Claim, error) {
	if req.AdmissionID == uuid.Nil {
		return nil, apperr.InvalidArgument("admission_id is required")
	}
	req.InsurerName = strings.TrimSpace(req.InsurerName)
	req.PolicyNumber = strings.TrimSpace(req.PolicyNumber)
	if req.InsurerName == "" {
		return nil, apperr.InvalidArgument("insurer_name is required")
	}
	if req.PolicyNumber == "" {
		return nil, apperr.InvalidArgument("policy_number is required")
	}
	if err := checkPositive("claimed_amount", req.ClaimedAmount); err != nil {
		return nil, err
	}
	if _, err := s.admissions.Get(ctx, req.AdmissionID); err != nil {
		return nil, err
	}
	ledger, err := s.ledgers.GetByAdmission(ctx, req.AdmissionID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.InvalidState("admission %s has no billing ledger", req.AdmissionID)
		}
		return nil, err
	}

	c := &Claim{
		ClaimNumber:   docnum.New(docnum.PrefixClaim, s.now()),
		AdmissionID:   req.AdmissionID,
		LedgerID:      ledger.ID,
		PatientID:     ledger.PatientID,
		InsurerName:   req.InsurerName,
		PolicyNumber:  req.PolicyNumber,
		ClaimedAmount: req.ClaimedAmount,
		Status:        ClaimPending,
		Notes:         req.Notes,
	}
	if err := s.claims.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ClaimService) Get(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.claims.Get(ctx, id)
}

func (s *ClaimService) List(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, apperr.InvalidArgument("invalid claim status: %s", *f.Status)
	}
	return s.claims.List(ctx, f, limit, offset)
}

type UpdateClaimRequest struct {
	InsurerName   *string          `json:"insurer_name,omitempty"`
	PolicyNumber  *string          `json:"policy_number,omitempty"`
	ClaimedAmount *decimal.Decimal `json:"claimed_amount,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
}

// Update edits a claim that has not been submitted yet.
func (s *ClaimService) Update(ctx context.Context, id uuid.UUID, req UpdateClaimRequest) (*Claim, error) {
	if req.ClaimedAmount != nil {
		if err := checkPositive("claimed_amount", *req.ClaimedAmount); err != nil {
			return nil, err
		}
	}
	return s.mutate(ctx, id, func(_ context.Context, c *Claim) error {
		if c.Status != ClaimPending {
			return apperr.InvalidState("claim %s is %s; only PENDING claims can be edited", c.ClaimNumber, c.Status)
		}
		if req.InsurerName != nil {
			if strings.TrimSpace(*req.InsurerName) == "" {
				return apperr.InvalidArgument("insurer_name must not be empty")
			}
			c.InsurerName = strings.TrimSpace(*req.InsurerName)
		}
		if req.PolicyNumber != nil {
			if strings.TrimSpace(*req.PolicyNumber) == "" {
				return apperr.InvalidArgument("policy_number must not be empty")
			}
			c.PolicyNumber = strings.TrimSpace(*req.PolicyNumber)
		}
		if req.ClaimedAmount != nil {
			c.ClaimedAmount = *req.ClaimedAmount
		}
		if req.Notes != nil {
			c.Notes = req.Notes
		}
		return nil
	})
}

// Submit sends a PENDING claim to the insurer and books the claimed amount
// on the ledger.
func (s *ClaimService) Submit(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.mutate(ctx, id, func(ctx context.Context, c *Claim) error {
		if c.Status != ClaimPending {
			return apperr.InvalidState("claim %s is %s; only PENDING claims can be submitted", c.ClaimNumber, c.Status)
		}
		if _, err := s.ledgers.ApplyInsurance(ctx, c.LedgerID, c.ClaimedAmount, decimal.Zero); err != nil {
			return err
		}
		now := s.now()
		c.Status = ClaimSubmitted
		c.SubmittedAt = &now
		return nil
	})
}

func (s *ClaimService) Review(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *Claim) error {
		if c.Status != ClaimSubmitted {
			return apperr.InvalidState("claim %s is %s; only SUBMITTED claims can move to review", c.ClaimNumber, c.Status)
		}
		now := s.now()
		c.Status = ClaimUnderReview
		c.ReviewedAt = &now
		return nil
	})
}

// Reject closes the claim with nothing approved and withdraws its claimed
// amount from the ledger.
func (s *ClaimService) Reject(ctx context.Context, id uuid.UUID, reason string) (*Claim, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.InvalidArgument("rejection reason is required")
	}
	return s.mutate(ctx, id, func(ctx context.Context, c *Claim) error {
		if !c.Status.decidable() {
			return apperr.InvalidState("claim %s is %s and cannot be rejected", c.ClaimNumber, c.Status)
		}
		if _, err := s.ledgers.ApplyInsurance(ctx, c.LedgerID, c.ClaimedAmount.Neg(), decimal.Zero); err != nil {
			return err
		}
		now := s.now()
		c.Status = ClaimRejected
		c.RejectedAmount = c.ClaimedAmount
		c.RejectionReason = &reason
		c.DecidedAt = &now
		return nil
	})
}

type ApproveRequest struct {
	ApprovedAmount decimal.Decimal  `json:"approved_amount"`
	SettleAmount   *decimal.Decimal `json:"settle_amount,omitempty"`
}

// Approve records the insurer's decision and applies the settle amount
// (the full approved amount when omitted) to the ledger in the same
// transaction.
func (s *ClaimService) Approve(ctx context.Context, id uuid.UUID, req ApproveRequest) (*Claim, error) {
	if err := checkPositive("approved_amount", req.ApprovedAmount); err != nil {
		return nil, err
	}
	settleAmount := req.ApprovedAmount
	if req.SettleAmount != nil {
		if err := checkMoney("settle_amount", *req.SettleAmount); err != nil {
			return nil, err
		}
		settleAmount = *req.SettleAmount
	}
	if settleAmount.GreaterThan(req.ApprovedAmount) {
		return nil, apperr.InvalidArgument("settle_amount %s exceeds approved_amount %s",
			settleAmount.StringFixed(2), req.ApprovedAmount.StringFixed(2))
	}

	c, err := s.mutate(ctx, id, func(ctx context.Context, c *Claim) error {
		switch {
		case c.Status == ClaimApproved || c.Status == ClaimSettled:
			return apperr.InvalidOperation("claim %s is already %s", c.ClaimNumber, c.Status)
		case !c.Status.decidable():
			return apperr.InvalidState("claim %s is %s and cannot be approved", c.ClaimNumber, c.Status)
		case req.ApprovedAmount.GreaterThan(c.ClaimedAmount):
			return apperr.InvalidArgument("approved_amount %s exceeds claimed_amount %s",
				req.ApprovedAmount.StringFixed(2), c.ClaimedAmount.StringFixed(2))
		}
		now := s.now()
		c.Status = ClaimApproved
		c.ApprovedAmount = req.ApprovedAmount
		c.RejectedAmount = c.ClaimedAmount.Sub(req.ApprovedAmount)
		c.DecidedAt = &now
		if settleAmount.IsPositive() {
			return s.settle(ctx, c, settleAmount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("claim_id", c.ID.String()).
		Str("ledger_id", c.LedgerID.String()).
		Str("approved", c.ApprovedAmount.StringFixed(2)).
		Str("settled", c.SettledAmount.StringFixed(2)).
		Msg("insurance claim approved")
	return c, nil
}

// Settle applies a further part of an approved claim to the ledger. A SETTLED
// claim has nothing left to apply, so any amount is an over-settlement.
func (s *ClaimService) Settle(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Claim, error) {
	if err := checkPositive("amount", amount); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(ctx context.Context, c *Claim) error {
		if c.Status != ClaimApproved && c.Status != ClaimSettled {
			return apperr.InvalidState("claim %s is %s; only APPROVED claims can be settled", c.ClaimNumber, c.Status)
		}
		return s.settle(ctx, c, amount)
	})
}

// SummaryByAdmission reports claim counts and amounts per status.
func (s *ClaimService) SummaryByAdmission(ctx context.Context, admissionID uuid.UUID) (*ClaimSummary, error) {
	if _, err := s.admissions.Get(ctx, admissionID); err != nil {
		return nil, err
	}
	claims, err := s.claims.ListByAdmission(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	return summarizeClaims(admissionID, claims), nil
}

func (s *ClaimService) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, c *Claim) error) (*Claim, error) {
	var out *Claim
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.claims.Lock(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, c); err != nil {
			return err
		}
		if err := s.claims.Update(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
