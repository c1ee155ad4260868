package service

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domainrepo "github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/models"
)

var errNegativeBalance = errors.New("check constraint: balance must not be negative")

// memStore хранилище в памяти для тестов сервисов. Do держит единственную блокировку
// на запись на всё время транзакции и откатывает изменения при ошибке, поэтому
// транзакции выполняются строго по очереди, как при блокировке строк в Postgres.
type memStore struct {
	mu sync.RWMutex
	memState
}

type memState struct {
	users      map[uuid.UUID]models.User
	jobs       map[uuid.UUID]models.Job
	bids       map[uuid.UUID]models.Bid
	projects   map[uuid.UUID]models.Project
	contracts  map[uuid.UUID]models.Contract
	signatures []models.ContractSignature
	deposits   map[uuid.UUID]models.Deposit
	balances   map[uuid.UUID]models.UserBalance
	txns       []models.Transaction
	audits     []models.AuditRecord
}

func newMemStore() *memStore {
	return &memStore{memState: memState{
		users:     map[uuid.UUID]models.User{},
		jobs:      map[uuid.UUID]models.Job{},
		bids:      map[uuid.UUID]models.Bid{},
		projects:  map[uuid.UUID]models.Project{},
		contracts: map[uuid.UUID]models.Contract{},
		deposits:  map[uuid.UUID]models.Deposit{},
		balances:  map[uuid.UUID]models.UserBalance{},
	}}
}

func (s *memStore) clone() memState {
	return memState{
		users:      maps.Clone(s.users),
		jobs:       maps.Clone(s.jobs),
		bids:       maps.Clone(s.bids),
		projects:   maps.Clone(s.projects),
		contracts:  maps.Clone(s.contracts),
		signatures: slices.Clone(s.signatures),
		deposits:   maps.Clone(s.deposits),
		balances:   maps.Clone(s.balances),
		txns:       slices.Clone(s.txns),
		audits:     slices.Clone(s.audits),
	}
}

func (s *memStore) Do(ctx context.Context, fn func(tx domainrepo.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.clone()
	if err := fn(&memTx{s: s}); err != nil {
		s.memState = saved
		return err
	}
	return nil
}

// fixtures

func (s *memStore) addUser(role string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Role: role, KYCStatus: models.KYCStatusVerified}
	s.users[u.ID] = u
	return u.ID
}

func (s *memStore) addJob(employerID uuid.UUID, title string) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := models.Job{ID: uuid.New(), EmployerID: employerID, Title: title, Status: models.JobStatusOpen, CreatedAt: time.Now()}
	s.jobs[j.ID] = j
	return j
}

func (s *memStore) addBid(jobID, workerID uuid.UUID, amount string) models.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := models.Bid{ID: uuid.New(), JobID: jobID, WorkerID: workerID, Amount: decimal.RequireFromString(amount),
		Proposal: "Сделаю за неделю", Status: models.BidStatusPending, CreatedAt: time.Now()}
	s.bids[b.ID] = b
	return b
}

func (s *memStore) setEscrow(userID uuid.UUID, amount string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balances[userID]
	b.UserID = userID
	b.EscrowBalance = decimal.RequireFromString(amount)
	s.balances[userID] = b
}

func (s *memStore) balance(userID uuid.UUID) models.UserBalance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[userID]
	if !ok {
		return models.UserBalance{UserID: userID, EscrowBalance: decimal.Zero, AvailableBalance: decimal.Zero}
	}
	return b
}

func (s *memStore) job(id uuid.UUID) models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

func (s *memStore) bid(id uuid.UUID) models.Bid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bids[id]
}

func (s *memStore) project(id uuid.UUID) models.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projects[id]
}

func (s *memStore) transactionsOfType(typ string) []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, t := range s.txns {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) counts() (projects, contracts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.projects), len(s.contracts)
}

func (s *memStore) auditCount(table, action string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.audits {
		if a.EntityTable == table && a.Action == action {
			n++
		}
	}
	return n
}

// Reader

func (s *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &j, nil
}

func (s *memStore) GetBid(_ context.Context, id uuid.UUID) (*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bids[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &b, nil
}

func (s *memStore) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &p, nil
}

func (s *memStore) GetContract(_ context.Context, id uuid.UUID) (*models.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &c, nil
}

func (s *memStore) GetContractByProject(_ context.Context, projectID uuid.UUID) (*models.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contracts {
		if c.ProjectID == projectID {
			return &c, nil
		}
	}
	return nil, domainrepo.ErrNotFound
}

func (s *memStore) ListSignatures(_ context.Context, contractID uuid.UUID) ([]models.ContractSignature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signaturesOf(contractID), nil
}

func (s *memStore) signaturesOf(contractID uuid.UUID) []models.ContractSignature {
	var out []models.ContractSignature
	for _, sig := range s.signatures {
		if sig.ContractID == contractID {
			out = append(out, sig)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignedAt.Before(out[j].SignedAt) })
	return out
}

func (s *memStore) GetDeposit(_ context.Context, id uuid.UUID) (*models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deposits[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &d, nil
}

func (s *memStore) GetDepositByIntent(_ context.Context, intentID string) (*models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deposits {
		if d.IntentID == intentID {
			return &d, nil
		}
	}
	return nil, domainrepo.ErrNotFound
}

func (s *memStore) GetDepositByIdempotencyKey(_ context.Context, ownerID uuid.UUID, key string) (*models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deposits {
		if d.OwnerID == ownerID && d.IdempotencyKey != nil && *d.IdempotencyKey == key {
			return &d, nil
		}
	}
	return nil, domainrepo.ErrNotFound
}

func (s *memStore) ListDeposits(_ context.Context, ownerID uuid.UUID, limit, offset int) ([]models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Deposit
	for _, d := range s.deposits {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (s *memStore) ListPendingDeposits(_ context.Context, filter domainrepo.PendingDepositFilter) ([]models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Deposit
	for _, d := range s.deposits {
		if d.Status != models.DepositStatusPending {
			continue
		}
		if filter.OwnerID != nil && d.OwnerID != *filter.OwnerID {
			continue
		}
		if !filter.CreatedAfter.IsZero() && d.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if !filter.CreatedBefore.IsZero() && d.CreatedAt.After(filter.CreatedBefore) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, filter.Limit, 0), nil
}

func (s *memStore) GetBalance(_ context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	b := s.balance(userID)
	return &b, nil
}

func (s *memStore) ListTransactions(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, t := range s.txns {
		if t.PayerID == userID || (t.PayeeID != nil && *t.PayeeID == userID) {
			out = append(out, t)
		}
	}
	return page(out, limit, offset), nil
}

func (s *memStore) ListProjectTransactions(_ context.Context, projectID uuid.UUID) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectTxns(projectID), nil
}

func (s *memStore) projectTxns(projectID uuid.UUID) []models.Transaction {
	var out []models.Transaction
	for _, t := range s.txns {
		if t.ProjectID != nil && *t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) CommittedEscrow(_ context.Context, payerID uuid.UUID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed(payerID), nil
}

func (s *memStore) committed(payerID uuid.UUID) decimal.Decimal {
	total := decimal.Zero
	for _, t := range s.txns {
		if t.Type != models.TransactionTypeEscrow || t.ProjectID == nil || t.PayerID != payerID {
			continue
		}
		settled := false
		for _, o := range s.projectTxns(*t.ProjectID) {
			if o.Type == models.TransactionTypeRelease || o.Type == models.TransactionTypeRefund {
				settled = true
			}
		}
		if !settled {
			total = total.Add(t.Amount)
		}
	}
	return total
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// memTx работает под блокировкой, взятой в Do.
type memTx struct {
	s *memStore
}

func (t *memTx) LockJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	j, ok := t.s.jobs[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &j, nil
}

func (t *memTx) LockBid(_ context.Context, id uuid.UUID) (*models.Bid, error) {
	b, ok := t.s.bids[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &b, nil
}

func (t *memTx) ListPendingBids(_ context.Context, jobID uuid.UUID) ([]models.Bid, error) {
	var out []models.Bid
	for _, b := range t.s.bids {
		if b.JobID == jobID && b.Status == models.BidStatusPending {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memTx) UpdateJobStatus(_ context.Context, id uuid.UUID, status string) error {
	j, ok := t.s.jobs[id]
	if !ok {
		return domainrepo.ErrNotFound
	}
	j.Status = status
	t.s.jobs[id] = j
	return nil
}

func (t *memTx) UpdateBidStatus(_ context.Context, id uuid.UUID, status string) error {
	b, ok := t.s.bids[id]
	if !ok {
		return domainrepo.ErrNotFound
	}
	if status == models.BidStatusAccepted {
		for _, other := range t.s.bids {
			if other.JobID == b.JobID && other.ID != id && other.Status == models.BidStatusAccepted {
				return domainrepo.ErrUniqueViolation
			}
		}
	}
	b.Status = status
	t.s.bids[id] = b
	return nil
}

func (t *memTx) CreateProject(_ context.Context, p *models.Project) error {
	for _, existing := range t.s.projects {
		if existing.BidID == p.BidID {
			return domainrepo.ErrUniqueViolation
		}
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	t.s.projects[p.ID] = *p
	return nil
}

func (t *memTx) LockProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	p, ok := t.s.projects[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) UpdateProject(_ context.Context, p *models.Project) error {
	if _, ok := t.s.projects[p.ID]; !ok {
		return domainrepo.ErrNotFound
	}
	p.UpdatedAt = time.Now()
	t.s.projects[p.ID] = *p
	return nil
}

func (t *memTx) CreateContract(_ context.Context, c *models.Contract) error {
	for _, existing := range t.s.contracts {
		if existing.ProjectID == c.ProjectID {
			return domainrepo.ErrUniqueViolation
		}
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	t.s.contracts[c.ID] = *c
	return nil
}

func (t *memTx) LockContract(_ context.Context, id uuid.UUID) (*models.Contract, error) {
	c, ok := t.s.contracts[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) UpdateContract(_ context.Context, c *models.Contract) error {
	if _, ok := t.s.contracts[c.ID]; !ok {
		return domainrepo.ErrNotFound
	}
	c.UpdatedAt = time.Now()
	t.s.contracts[c.ID] = *c
	return nil
}

func (t *memTx) SetContractDocument(_ context.Context, contractID uuid.UUID, ref string) error {
	c, ok := t.s.contracts[contractID]
	if !ok || c.Status != models.ContractStatusFullySigned {
		return domainrepo.ErrNotFound
	}
	c.DocumentRef = &ref
	t.s.contracts[contractID] = c
	return nil
}

func (t *memTx) ListSignatures(_ context.Context, contractID uuid.UUID) ([]models.ContractSignature, error) {
	return t.s.signaturesOf(contractID), nil
}

func (t *memTx) InsertSignature(_ context.Context, sig *models.ContractSignature) error {
	for _, existing := range t.s.signatures {
		if existing.ContractID == sig.ContractID && existing.Role == sig.Role {
			return domainrepo.ErrUniqueViolation
		}
	}
	t.s.signatures = append(t.s.signatures, *sig)
	return nil
}

func (t *memTx) InsertDeposit(_ context.Context, d *models.Deposit) (bool, error) {
	for _, existing := range t.s.deposits {
		if existing.IntentID == d.IntentID {
			return false, nil
		}
		if d.IdempotencyKey != nil && existing.OwnerID == d.OwnerID &&
			existing.IdempotencyKey != nil && *existing.IdempotencyKey == *d.IdempotencyKey {
			return false, domainrepo.ErrUniqueViolation
		}
	}
	if _, ok := t.s.deposits[d.ID]; ok {
		return false, domainrepo.ErrUniqueViolation
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	stored := *d
	stored.ClientSecret = ""
	t.s.deposits[d.ID] = stored
	return true, nil
}

func (t *memTx) TransitionDeposit(_ context.Context, id uuid.UUID, from, to string, at time.Time) (*models.Deposit, error) {
	d, ok := t.s.deposits[id]
	if !ok || d.Status != from {
		return nil, nil
	}
	d.Status = to
	switch to {
	case models.DepositStatusCompleted:
		d.CompletedAt = &at
	case models.DepositStatusFailed:
		d.FailedAt = &at
	}
	t.s.deposits[id] = d
	return &d, nil
}

func (t *memTx) LockBalance(_ context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	b, ok := t.s.balances[userID]
	if !ok {
		b = models.UserBalance{UserID: userID, EscrowBalance: decimal.Zero, AvailableBalance: decimal.Zero}
		t.s.balances[userID] = b
	}
	return &b, nil
}

func (t *memTx) AdjustBalance(_ context.Context, userID uuid.UUID, escrowDelta, availableDelta decimal.Decimal) (*models.UserBalance, error) {
	b, ok := t.s.balances[userID]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	b.EscrowBalance = b.EscrowBalance.Add(escrowDelta)
	b.AvailableBalance = b.AvailableBalance.Add(availableDelta)
	if b.EscrowBalance.IsNegative() || b.AvailableBalance.IsNegative() {
		return nil, errNegativeBalance
	}
	b.UpdatedAt = time.Now()
	t.s.balances[userID] = b
	return &b, nil
}

func (t *memTx) CommittedEscrow(_ context.Context, payerID uuid.UUID) (decimal.Decimal, error) {
	return t.s.committed(payerID), nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn *models.Transaction) error {
	for _, existing := range t.s.txns {
		if txn.Type == models.TransactionTypeEscrow && txn.DepositID != nil &&
			existing.Type == models.TransactionTypeEscrow && existing.DepositID != nil && *existing.DepositID == *txn.DepositID {
			return domainrepo.ErrUniqueViolation
		}
		if txn.ProjectID == nil || existing.ProjectID == nil || *existing.ProjectID != *txn.ProjectID {
			continue
		}
		if existing.Type == txn.Type && isProjectUnique(txn.Type) {
			return domainrepo.ErrUniqueViolation
		}
		if isSettlement(existing.Type) && isSettlement(txn.Type) {
			return domainrepo.ErrUniqueViolation
		}
	}
	txn.CreatedAt = time.Now()
	t.s.txns = append(t.s.txns, *txn)
	return nil
}

func isProjectUnique(typ string) bool {
	return typ == models.TransactionTypeEscrow || isSettlement(typ)
}

func isSettlement(typ string) bool {
	return typ == models.TransactionTypeRelease || typ == models.TransactionTypeRefund
}

func (t *memTx) ListProjectTransactions(_ context.Context, projectID uuid.UUID) ([]models.Transaction, error) {
	return t.s.projectTxns(projectID), nil
}

func (t *memTx) InsertAudit(_ context.Context, records ...*models.AuditRecord) error {
	for _, r := range records {
		rec := *r
		rec.ID = uuid.New()
		rec.CreatedAt = time.Now()
		t.s.audits = append(t.s.audits, rec)
	}
	return nil
}

var _ domainrepo.Store = (*memStore)(nil)
var _ domainrepo.Tx = (*memTx)(nil)

// stubCompliance блокирует перечисленных пользователей.
type stubCompliance struct {
	blocked map[uuid.UUID]bool
	err     error
}

func (c stubCompliance) IsBlocked(_ context.Context, userID uuid.UUID) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.blocked[userID], nil
}
