package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/models"
)

type memRound struct {
	round   *models.JackpotRound
	entries map[string]models.TicketEntry
}

// Memory is a Store kept in process memory. Values are copied in and out so
// callers never share pointers with the store.
type Memory struct {
	mu sync.RWMutex

	accounts    map[string]*models.Account
	children    map[string][]string
	nonces      map[string]struct{}
	commitments map[string]*models.Commitment
	pending     map[string]time.Time

	games        map[string][]*models.GameRecord
	transactions map[string][]*models.Transaction
	withdrawals  map[string]*models.Withdrawal

	commissions map[string]*models.Commission
	progress    map[string]*models.DistributionProgress
	deposits    map[string]string
	protection  map[string]map[string]decimal.Decimal

	rounds       map[string]*memRound
	currentRound string
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[string]*models.Account),
		children:     make(map[string][]string),
		nonces:       make(map[string]struct{}),
		commitments:  make(map[string]*models.Commitment),
		pending:      make(map[string]time.Time),
		games:        make(map[string][]*models.GameRecord),
		transactions: make(map[string][]*models.Transaction),
		withdrawals:  make(map[string]*models.Withdrawal),
		commissions:  make(map[string]*models.Commission),
		progress:     make(map[string]*models.DistributionProgress),
		deposits:     make(map[string]string),
		protection:   make(map[string]map[string]decimal.Decimal),
		rounds:       make(map[string]*memRound),
	}
}

func (m *Memory) CreateAccount(_ context.Context, acct *models.Account) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.UserID]; ok {
		return false, nil
	}
	m.accounts[acct.UserID] = acct.Clone()
	return true, nil
}

func (m *Memory) GetAccount(_ context.Context, userID string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[userID]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "user %s not found", userID)
	}
	return acct.Clone(), nil
}

func (m *Memory) SaveAccount(_ context.Context, acct *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.UserID] = acct.Clone()
	return nil
}

func (m *Memory) ApplyUnit(_ context.Context, u *Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := CheckVersion(m.accounts[u.Account.UserID], u.Account); err != nil {
		return err
	}
	for _, h := range u.DepositClaims {
		if _, ok := m.deposits[h]; ok {
			return DuplicateDeposit(h)
		}
	}

	m.accounts[u.Account.UserID] = u.Account.Clone()
	for _, h := range u.DepositClaims {
		m.deposits[h] = u.Account.UserID
	}
	for _, tx := range u.Transactions {
		m.putTransaction(tx)
	}
	for _, c := range u.Commitments {
		m.putCommitment(c)
	}
	for _, g := range u.Games {
		m.putGame(g)
	}
	for _, w := range u.Withdrawals {
		cp := *w
		m.withdrawals[w.ID] = &cp
	}
	for _, c := range u.Commissions {
		cp := *c
		m.commissions[c.Key()] = &cp
	}
	for _, p := range u.Distributions {
		cp := *p
		m.progress[p.EventID] = &cp
	}
	for _, pc := range u.ProtectionCredits {
		m.addProtection(pc.Day, u.Account.UserID, pc.Amount)
	}
	return nil
}

func (m *Memory) ListUserIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) AddChild(_ context.Context, parentID, childID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.children[parentID] {
		if c == childID {
			return nil
		}
	}
	m.children[parentID] = append(m.children[parentID], childID)
	return nil
}

func (m *Memory) Children(_ context.Context, parentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.children[parentID]...), nil
}

func nonceKey(userID string, nonce int64) string {
	return fmt.Sprintf("%s:%d", userID, nonce)
}

func (m *Memory) ReserveNonce(_ context.Context, userID string, nonce int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := nonceKey(userID, nonce)
	if _, ok := m.nonces[key]; ok {
		return false, nil
	}
	m.nonces[key] = struct{}{}
	return true, nil
}

func (m *Memory) ReleaseNonce(_ context.Context, userID string, nonce int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nonces, nonceKey(userID, nonce))
	return nil
}

func (m *Memory) SaveCommitment(_ context.Context, c *models.Commitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCommitment(c)
	return nil
}

func (m *Memory) putCommitment(c *models.Commitment) {
	cp := *c
	m.commitments[c.ID] = &cp
	if c.Status == models.CommitmentCommitted {
		m.pending[c.ID] = c.ExpiresAt
	} else {
		delete(m.pending, c.ID)
	}
}

func (m *Memory) GetCommitment(_ context.Context, id string) (*models.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commitments[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "commitment not found")
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) OverdueCommitments(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := []string{}
	for id, exp := range m.pending {
		if !now.Before(exp) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return m.pending[ids[i]].Before(m.pending[ids[j]]) })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *Memory) AppendGame(_ context.Context, rec *models.GameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putGame(rec)
	return nil
}

func (m *Memory) putGame(rec *models.GameRecord) {
	cp := *rec
	list := append(m.games[rec.UserID], &cp)
	if len(list) > HistoryLimit {
		list = list[len(list)-HistoryLimit:]
	}
	m.games[rec.UserID] = list
}

func (m *Memory) GameHistory(_ context.Context, userID string, limit int) ([]*models.GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.games[userID]
	out := make([]*models.GameRecord, 0, len(list))
	for i := len(list) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) SaveTransaction(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putTransaction(tx)
	return nil
}

func (m *Memory) putTransaction(tx *models.Transaction) {
	cp := *tx
	list := append(m.transactions[tx.UserID], &cp)
	if len(list) > HistoryLimit {
		list = list[len(list)-HistoryLimit:]
	}
	m.transactions[tx.UserID] = list
}

func (m *Memory) Transactions(_ context.Context, userID string, limit int) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.transactions[userID]
	out := make([]*models.Transaction, 0, len(list))
	for i := len(list) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) SaveWithdrawal(_ context.Context, w *models.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.withdrawals[w.ID] = &cp
	return nil
}

func (m *Memory) GetCommission(_ context.Context, key string) (*models.Commission, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commissions[key]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (m *Memory) SaveCommission(_ context.Context, c *models.Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.commissions[c.Key()] = &cp
	return nil
}

// Commissions lists every stored commission. Used by tests and the CLI.
func (m *Memory) Commissions() []*models.Commission {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Commission, 0, len(m.commissions))
	for _, c := range m.commissions {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (m *Memory) GetProgress(_ context.Context, eventID string) (*models.DistributionProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.progress[eventID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) SaveProgress(_ context.Context, p *models.DistributionProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.progress[p.EventID] = &cp
	return nil
}

func (m *Memory) PendingDistributions(_ context.Context, olderThan time.Time, limit int) ([]*models.DistributionProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.DistributionProgress{}
	for _, p := range m.progress {
		if p.Done || p.UpdatedAt.After(olderThan) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DepositClaimed(_ context.Context, txHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.deposits[txHash]
	return ok, nil
}

func (m *Memory) AddProtectionCredit(_ context.Context, day, userID string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addProtection(day, userID, amount)
	return nil
}

func (m *Memory) addProtection(day, userID string, amount decimal.Decimal) {
	byUser, ok := m.protection[day]
	if !ok {
		byUser = make(map[string]decimal.Decimal)
		m.protection[day] = byUser
	}
	byUser[userID] = byUser[userID].Add(amount)
}

func (m *Memory) ProtectionCredits(_ context.Context, day string) (map[string]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(m.protection[day]))
	for u, v := range m.protection[day] {
		out[u] = v
	}
	return out, nil
}

func copyRound(r *models.JackpotRound) *models.JackpotRound {
	// rounds are small; a JSON round trip gives a deep copy of every slice
	data, _ := json.Marshal(r)
	var cp models.JackpotRound
	_ = json.Unmarshal(data, &cp)
	return &cp
}

func (m *Memory) CreateRound(_ context.Context, r *models.JackpotRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[r.ID]; ok {
		return fmt.Errorf("round %s already exists", r.ID)
	}
	m.rounds[r.ID] = &memRound{round: copyRound(r), entries: make(map[string]models.TicketEntry)}
	m.currentRound = r.ID
	return nil
}

func (m *Memory) GetRound(_ context.Context, id string) (*models.JackpotRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mr, ok := m.rounds[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "round %s not found", id)
	}
	r := copyRound(mr.round)
	r.Entries = sortedEntries(mr.entries)
	return r, nil
}

func sortedEntries(entries map[string]models.TicketEntry) []models.TicketEntry {
	out := make([]models.TicketEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchaseID < out[j].PurchaseID })
	return out
}

func (m *Memory) CurrentRoundID(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentRound, nil
}

func (m *Memory) ReserveTickets(_ context.Context, roundID string, entry models.TicketEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.rounds[roundID]
	if !ok {
		return 0, apperr.New(apperr.CodeNotFound, "round %s not found", roundID)
	}
	if mr.round.Status != models.RoundOpen {
		return 0, apperr.New(apperr.CodeRoundNotOpen, "round %s is %s", roundID, mr.round.Status)
	}
	if mr.round.TicketsSold+entry.Quantity > mr.round.TotalTickets {
		return 0, apperr.New(apperr.CodeRoundCapacity, "only %d tickets left", mr.round.TotalTickets-mr.round.TicketsSold)
	}
	mr.round.TicketsSold += entry.Quantity
	mr.entries[entry.PurchaseID] = entry
	return mr.round.TicketsSold, nil
}

func (m *Memory) ReleaseTickets(_ context.Context, roundID, purchaseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.rounds[roundID]
	if !ok {
		return false, nil
	}
	e, ok := mr.entries[purchaseID]
	if !ok || mr.round.Status != models.RoundOpen {
		return false, nil
	}
	delete(mr.entries, purchaseID)
	mr.round.TicketsSold -= e.Quantity
	return true, nil
}

func (m *Memory) TransitionRound(_ context.Context, id string, from, to models.RoundStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.rounds[id]
	if !ok {
		return false, apperr.New(apperr.CodeNotFound, "round %s not found", id)
	}
	if mr.round.Status != from {
		return false, nil
	}
	mr.round.Status = to
	return true, nil
}

func (m *Memory) SaveRoundResult(_ context.Context, r *models.JackpotRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.rounds[r.ID]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "round %s not found", r.ID)
	}
	cp := copyRound(r)
	cp.TicketsSold = mr.round.TicketsSold
	cp.Entries = nil
	mr.round = cp
	return nil
}
