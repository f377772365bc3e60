package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ClaimStatus string

const (
	ClaimPending     ClaimStatus = "PENDING"
	ClaimSubmitted   ClaimStatus = "SUBMITTED"
	ClaimUnderReview ClaimStatus = "UNDER_REVIEW"
	ClaimApproved    ClaimStatus = "APPROVED"
	ClaimRejected    ClaimStatus = "REJECTED"
	ClaimSettled     ClaimStatus = "SETTLED"
)

// ClaimStatuses lists every status in lifecycle order.
var ClaimStatuses = []ClaimStatus{
	ClaimPending, ClaimSubmitted, ClaimUnderReview, ClaimApproved, ClaimRejected, ClaimSettled,
}

func (s ClaimStatus) Valid() bool {
	for _, k := range ClaimStatuses {
		if k == s {
			return true
		}
	}
	return false
}

// decidable reports whether the insurer can still approve or reject.
func (s ClaimStatus) decidable() bool {
	return s == ClaimSubmitted || s == ClaimUnderReview
}

// Claim maps to insurance_claim.
type Claim struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	ClaimNumber     string          `db:"claim_number" json:"claim_number"`
	AdmissionID     uuid.UUID       `db:"admission_id" json:"admission_id"`
	LedgerID        uuid.UUID       `db:"ledger_id" json:"ledger_id"`
	PatientID       uuid.UUID       `db:"patient_id" json:"patient_id"`
	InsurerName     string          `db:"insurer_name" json:"insurer_name"`
	PolicyNumber    string          `db:"policy_number" json:"policy_number"`
	ClaimedAmount   decimal.Decimal `db:"claimed_amount" json:"claimed_amount"`
	ApprovedAmount  decimal.Decimal `db:"approved_amount" json:"approved_amount"`
	RejectedAmount  decimal.Decimal `db:"rejected_amount" json:"rejected_amount"`
	SettledAmount   decimal.Decimal `db:"settled_amount" json:"settled_amount"`
	Status          ClaimStatus     `db:"status" json:"status"`
	RejectionReason *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	SubmittedAt     *time.Time      `db:"submitted_at" json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	DecidedAt       *time.Time      `db:"decided_at" json:"decided_at,omitempty"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	Version         int             `db:"version" json:"version"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Unsettled is the approved amount not yet applied to the ledger.
func (c *Claim) Unsettled() decimal.Decimal {
	return c.ApprovedAmount.Sub(c.SettledAmount)
}

type ClaimFilter struct {
	AdmissionID *uuid.UUID
	LedgerID    *uuid.UUID
	Status      *ClaimStatus
}

// ClaimStatusTotal is one row of a per-admission claim summary.
type ClaimStatusTotal struct {
	Status   ClaimStatus     `json:"status"`
	Count    int             `json:"count"`
	Claimed  decimal.Decimal `json:"claimed"`
	Approved decimal.Decimal `json:"approved"`
	Settled  decimal.Decimal `json:"settled"`
}

type ClaimSummary struct {
	AdmissionID uuid.UUID          `json:"admission_id"`
	ByStatus    []ClaimStatusTotal `json:"by_status"`
	Count       int                `json:"count"`
	Claimed     decimal.Decimal    `json:"claimed"`
	Approved    decimal.Decimal    `json:"approved"`
	Settled     decimal.Decimal    `json:"settled"`
}

// summarizeClaims folds claims into per-status totals. Every status is
// present, zero-valued when no claim has it.
func summarizeClaims(admissionID uuid.UUID, claims []*Claim) *ClaimSummary {
	idx := make(map[ClaimStatus]int, len(ClaimStatuses))
	out := &ClaimSummary{AdmissionID: admissionID}
	for i, s := range ClaimStatuses {
		idx[s] = i
		out.ByStatus = append(out.ByStatus, ClaimStatusTotal{Status: s})
	}
	for _, c := range claims {
		row := &out.ByStatus[idx[c.Status]]
		row.Count++
		row.Claimed = row.Claimed.Add(c.ClaimedAmount)
		row.Approved = row.Approved.Add(c.ApprovedAmount)
		row.Settled = row.Settled.Add(c.SettledAmount)
		out.Count++
		out.Claimed = out.Claimed.Add(c.ClaimedAmount)
		out.Approved = out.Approved.Add(c.ApprovedAmount)
		out.Settled = out.Settled.Add(c.SettledAmount)
	}
	return out
}
