package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/ipd/pkg/apperr"
	"github.com/ehr/ipd/pkg/pagination"
)

type placement struct {
	wardID       uuid.UUID
	departmentID uuid.UUID
}

// MemoryLedgerRepo is a map-backed LedgerRepository for tests and local
// tooling. Ward and department filters resolve through Place.
type MemoryLedgerRepo struct {
	mu       sync.Mutex
	ledgers  map[uuid.UUID]*Ledger
	payments []*Payment
	placed   map[uuid.UUID]placement
}

func NewMemoryLedgerRepo() *MemoryLedgerRepo {
	return &MemoryLedgerRepo{
		ledgers: make(map[uuid.UUID]*Ledger),
		placed:  make(map[uuid.UUID]placement),
	}
}

// Place records which ward and department an admission sits in.
func (m *MemoryLedgerRepo) Place(admissionID, wardID, departmentID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed[admissionID] = placement{wardID: wardID, departmentID: departmentID}
}

func copyLedger(l *Ledger) *Ledger { c := *l; return &c }

func (m *MemoryLedgerRepo) Create(_ context.Context, l *Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.ledgers {
		if other.AdmissionID == l.AdmissionID {
			return apperr.Conflict("admission %s already has a ledger", l.AdmissionID)
		}
		if other.BillNumber == l.BillNumber {
			return apperr.Conflict("bill number %s already exists", l.BillNumber)
		}
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.Version = 1
	l.CreatedAt = time.Now()
	l.UpdatedAt = l.CreatedAt
	m.ledgers[l.ID] = copyLedger(l)
	return nil
}

func (m *MemoryLedgerRepo) Get(_ context.Context, id uuid.UUID) (*Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[id]
	if !ok {
		return nil, apperr.NotFound("ledger %s not found", id)
	}
	return copyLedger(l), nil
}

func (m *MemoryLedgerRepo) GetByAdmission(_ context.Context, admissionID uuid.UUID) (*Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.ledgers {
		if l.AdmissionID == admissionID {
			return copyLedger(l), nil
		}
	}
	return nil, apperr.NotFound("ledger for admission %s not found", admissionID)
}

func (m *MemoryLedgerRepo) Lock(ctx context.Context, id uuid.UUID) (*Ledger, error) {
	return m.Get(ctx, id)
}

func (m *MemoryLedgerRepo) Update(_ context.Context, l *Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.ledgers[l.ID]
	if !ok {
		return apperr.NotFound("ledger %s not found", l.ID)
	}
	if cur.Version != l.Version {
		return apperr.Conflict("ledger %s was modified concurrently", l.ID)
	}
	l.Version++
	l.UpdatedAt = time.Now()
	m.ledgers[l.ID] = copyLedger(l)
	return nil
}

func (m *MemoryLedgerRepo) matches(f LedgerFilter, l *Ledger) bool {
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if s == l.PaymentStatus {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	p := m.placed[l.AdmissionID]
	if f.WardID != nil && p.wardID != *f.WardID {
		return false
	}
	if f.DepartmentID != nil && p.departmentID != *f.DepartmentID {
		return false
	}
	if f.PatientID != nil && l.PatientID != *f.PatientID {
		return false
	}
	if f.CreatedFrom != nil && l.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && !l.CreatedAt.Before(*f.CreatedTo) {
		return false
	}
	return true
}

func (m *MemoryLedgerRepo) filtered(f LedgerFilter) []*Ledger {
	var out []*Ledger
	for _, l := range m.ledgers {
		if m.matches(f, l) {
			out = append(out, copyLedger(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].BillNumber < out[j].BillNumber
	})
	return out
}

func (m *MemoryLedgerRepo) List(_ context.Context, f LedgerFilter, limit, offset int) ([]*Ledger, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filtered(f)
	return pagination.Window(all, pagination.Normalize(limit, offset)), len(all), nil
}

func (m *MemoryLedgerRepo) Summarize(_ context.Context, f LedgerFilter) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Summary{
		TotalAmount:       decimal.Zero,
		PaidAmount:        decimal.Zero,
		InsuranceApproved: decimal.Zero,
		BalanceAmount:     decimal.Zero,
	}
	for _, l := range m.filtered(f) {
		s.Count++
		s.TotalAmount = s.TotalAmount.Add(l.TotalAmount)
		s.PaidAmount = s.PaidAmount.Add(l.PaidAmount)
		s.InsuranceApproved = s.InsuranceApproved.Add(l.InsuranceApproved)
		s.BalanceAmount = s.BalanceAmount.Add(l.BalanceAmount)
	}
	return s, nil
}

func (m *MemoryLedgerRepo) CreatePayment(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.PaidAt = time.Now()
	c := *p
	m.payments = append(m.payments, &c)
	return nil
}

func (m *MemoryLedgerRepo) ListPayments(_ context.Context, ledgerID uuid.UUID) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for _, p := range m.payments {
		if p.LedgerID == ledgerID {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

// MemoryClaimRepo is a map-backed ClaimRepository.
type MemoryClaimRepo struct {
	mu     sync.Mutex
	claims map[uuid.UUID]*Claim
	seq    int
}

func NewMemoryClaimRepo() *MemoryClaimRepo {
	return &MemoryClaimRepo{claims: make(map[uuid.UUID]*Claim)}
}

func copyClaim(c *Claim) *Claim { cp := *c; return &cp }

func (m *MemoryClaimRepo) Create(_ context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.claims {
		if other.ClaimNumber == c.ClaimNumber {
			return apperr.Conflict("claim number %s already exists", c.ClaimNumber)
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	// strictly increasing so listings have a stable order
	m.seq++
	c.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Microsecond)
	c.UpdatedAt = c.CreatedAt
	c.Version = 1
	m.claims[c.ID] = copyClaim(c)
	return nil
}

func (m *MemoryClaimRepo) Get(_ context.Context, id uuid.UUID) (*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, apperr.NotFound("claim %s not found", id)
	}
	return copyClaim(c), nil
}

func (m *MemoryClaimRepo) Lock(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return m.Get(ctx, id)
}

func (m *MemoryClaimRepo) Update(_ context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.claims[c.ID]
	if !ok {
		return apperr.NotFound("claim %s not found", c.ID)
	}
	if cur.Version != c.Version {
		return apperr.Conflict("claim %s was modified concurrently", c.ID)
	}
	c.Version++
	c.UpdatedAt = time.Now()
	m.claims[c.ID] = copyClaim(c)
	return nil
}

func (m *MemoryClaimRepo) sorted(keep func(*Claim) bool) []*Claim {
	var out []*Claim
	for _, c := range m.claims {
		if keep(c) {
			out = append(out, copyClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryClaimRepo) List(_ context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(c *Claim) bool {
		if f.AdmissionID != nil && c.AdmissionID != *f.AdmissionID {
			return false
		}
		if f.LedgerID != nil && c.LedgerID != *f.LedgerID {
			return false
		}
		if f.Status != nil && c.Status != *f.Status {
			return false
		}
		return true
	})
	// newest first, as the database listing
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return pagination.Window(all, pagination.Normalize(limit, offset)), len(all), nil
}

func (m *MemoryClaimRepo) ListByAdmission(_ context.Context, admissionID uuid.UUID) ([]*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(c *Claim) bool { return c.AdmissionID == admissionID }), nil
}
