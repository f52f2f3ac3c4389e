package integration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// cloneRefund copies a refund deeply enough that callers cannot alias the
// stored aggregate through the history slice or pointer fields.
func cloneRefund(r *domain.Refund) *domain.Refund {
	c := *r
	c.History = append([]domain.StatusChange(nil), r.History...)
	if r.BankAccountID != nil {
		id := *r.BankAccountID
		c.BankAccountID = &id
	}
	if r.GatewayReference != nil {
		ref := *r.GatewayReference
		c.GatewayReference = &ref
	}
	return &c
}

// --- In-Memory Refund Repo ---

type inMemoryRefundRepo struct {
	mu      sync.RWMutex
	refunds map[uuid.UUID]*domain.Refund
}

func newInMemoryRefundRepo() *inMemoryRefundRepo {
	return &inMemoryRefundRepo{refunds: make(map[uuid.UUID]*domain.Refund)}
}

func (r *inMemoryRefundRepo) Create(ctx context.Context, refund *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.refunds[refund.ID]; ok {
		return fmt.Errorf("refund already exists")
	}
	r.refunds[refund.ID] = cloneRefund(refund)
	return nil
}

func (r *inMemoryRefundRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refund, ok := r.refunds[id]
	if !ok {
		return nil, nil
	}
	return cloneRefund(refund), nil
}

func (r *inMemoryRefundRepo) GetByGatewayReference(ctx context.Context, gatewayID, gatewayReference string) (*domain.Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, refund := range r.refunds {
		if refund.GatewayID == gatewayID && refund.GatewayReference != nil && *refund.GatewayReference == gatewayReference {
			return cloneRefund(refund), nil
		}
	}
	return nil, nil
}

func (r *inMemoryRefundRepo) Save(ctx context.Context, tx pgx.Tx, refund *domain.Refund, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.refunds[refund.ID]
	if !ok {
		return fmt.Errorf("refund not found")
	}
	if stored.Version != expectedVersion {
		return ports.ErrVersionConflict
	}
	saved := cloneRefund(refund)
	saved.Version = expectedVersion + 1
	r.refunds[refund.ID] = saved
	refund.Version = expectedVersion + 1
	return nil
}

func (r *inMemoryRefundRepo) List(ctx context.Context, params ports.RefundListParams) ([]domain.Refund, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Refund
	for _, refund := range r.refunds {
		if params.Status != nil && refund.Status != *params.Status {
			continue
		}
		if params.GatewayID != nil && refund.GatewayID != *params.GatewayID {
			continue
		}
		if params.TransactionRef != nil && refund.TransactionRef != *params.TransactionRef {
			continue
		}
		if params.From != nil && refund.CreatedAt.Unix() < *params.From {
			continue
		}
		if params.To != nil && refund.CreatedAt.Unix() > *params.To {
			continue
		}
		result = append(result, *cloneRefund(refund))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	total := int64(len(result))

	start := (params.Page - 1) * params.PageSize
	if start >= len(result) {
		return []domain.Refund{}, total, nil
	}
	end := start + params.PageSize
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], total, nil
}

func (r *inMemoryRefundRepo) GetStats(ctx context.Context, from, to *int64) (*ports.RefundStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &ports.RefundStats{}
	for _, refund := range r.refunds {
		if from != nil && refund.CreatedAt.Unix() < *from {
			continue
		}
		if to != nil && refund.CreatedAt.Unix() > *to {
			continue
		}
		stats.Total++
		switch refund.Status {
		case domain.RefundStatusCompleted:
			stats.Completed++
		case domain.RefundStatusFailed:
			stats.Failed++
		case domain.RefundStatusRejected:
			stats.Rejected++
		case domain.RefundStatusCanceled:
			stats.Canceled++
		case domain.RefundStatusGatewayPending, domain.RefundStatusGatewayError:
			stats.InFlight++
		default:
			stats.AwaitingAction++
		}
	}
	return stats, nil
}

func (r *inMemoryRefundRepo) CompletedTotals(ctx context.Context, from, to *int64) ([]ports.CurrencyTotal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byCurrency := make(map[string]decimal.Decimal)
	for _, refund := range r.refunds {
		if refund.Status != domain.RefundStatusCompleted {
			continue
		}
		if from != nil && refund.CreatedAt.Unix() < *from {
			continue
		}
		if to != nil && refund.CreatedAt.Unix() > *to {
			continue
		}
		byCurrency[refund.Currency] = byCurrency[refund.Currency].Add(refund.Amount)
	}
	currencies := make([]string, 0, len(byCurrency))
	for currency := range byCurrency {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)
	totals := make([]ports.CurrencyTotal, 0, len(currencies))
	for _, currency := range currencies {
		totals = append(totals, ports.CurrencyTotal{Currency: currency, Total: byCurrency[currency]})
	}
	return totals, nil
}

// --- In-Memory Idempotency Ledger ---

// inMemoryLedger mirrors the SQL ledger: one-shot claim, single takeover of
// stale or abandoned records, finalize only from CLAIMED.
type inMemoryLedger struct {
	mu           sync.Mutex
	records      map[string]*domain.IdempotencyRecord
	claimTimeout time.Duration
}

func newInMemoryLedger(claimTimeout time.Duration) *inMemoryLedger {
	return &inMemoryLedger{
		records:      make(map[string]*domain.IdempotencyRecord),
		claimTimeout: claimTimeout,
	}
}

func copyRecord(r *domain.IdempotencyRecord) *domain.IdempotencyRecord {
	c := *r
	c.AckJSON = append([]byte(nil), r.AckJSON...)
	if r.RefundVersion != nil {
		v := *r.RefundVersion
		c.RefundVersion = &v
	}
	if r.FinalizedAt != nil {
		t := *r.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}

func (l *inMemoryLedger) Claim(ctx context.Context, gatewayID, eventID string) (*ports.ClaimResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	key := domain.BuildEventKey(gatewayID, eventID)

	record, ok := l.records[key]
	if !ok {
		l.records[key] = &domain.IdempotencyRecord{
			GatewayID: gatewayID,
			EventID:   eventID,
			State:     domain.IdempotencyStateClaimed,
			Attempts:  1,
			ClaimedAt: now,
		}
		return &ports.ClaimResult{Outcome: ports.ClaimAcquired}, nil
	}

	if record.Reclaimable(now, l.claimTimeout) {
		record.State = domain.IdempotencyStateClaimed
		record.Attempts++
		record.ClaimedAt = now
		record.AckJSON = nil
		record.RefundVersion = nil
		record.FinalizedAt = nil
		return &ports.ClaimResult{Outcome: ports.ClaimAcquired}, nil
	}

	if !record.IsFinal() {
		return &ports.ClaimResult{Outcome: ports.ClaimInFlight, Record: copyRecord(record)}, nil
	}
	return &ports.ClaimResult{Outcome: ports.ClaimDuplicate, Record: copyRecord(record)}, nil
}

func (l *inMemoryLedger) Finalize(ctx context.Context, gatewayID, eventID string, state domain.IdempotencyState, ackJSON []byte, refundVersion *int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := domain.BuildEventKey(gatewayID, eventID)
	record, ok := l.records[key]
	if !ok || record.IsFinal() {
		return fmt.Errorf("idempotency record not claimed: %s", key)
	}
	now := time.Now()
	record.State = state
	record.AckJSON = append([]byte(nil), ackJSON...)
	record.RefundVersion = refundVersion
	record.FinalizedAt = &now
	return nil
}

func (l *inMemoryLedger) Get(ctx context.Context, gatewayID, eventID string) (*domain.IdempotencyRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[domain.BuildEventKey(gatewayID, eventID)]
	if !ok {
		return nil, nil
	}
	return copyRecord(record), nil
}

// --- In-Memory Gateway Event Repo ---

type inMemoryGatewayEventRepo struct {
	mu     sync.Mutex
	events map[string]*domain.GatewayEvent
}

func newInMemoryGatewayEventRepo() *inMemoryGatewayEventRepo {
	return &inMemoryGatewayEventRepo{events: make(map[string]*domain.GatewayEvent)}
}

// Insert keeps the original row when an event is re-claimed.
func (r *inMemoryGatewayEventRepo) Insert(ctx context.Context, event *domain.GatewayEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := domain.BuildEventKey(event.GatewayID, event.EventID)
	if _, ok := r.events[key]; ok {
		return nil
	}
	copied := *event
	r.events[key] = &copied
	return nil
}

func (r *inMemoryGatewayEventRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// --- In-Memory Anomaly Repo ---

type inMemoryAnomalyRepo struct {
	mu        sync.Mutex
	anomalies []domain.Anomaly
}

func newInMemoryAnomalyRepo() *inMemoryAnomalyRepo {
	return &inMemoryAnomalyRepo{}
}

func (r *inMemoryAnomalyRepo) Insert(ctx context.Context, anomaly *domain.Anomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies = append(r.anomalies, *anomaly)
	return nil
}

func (r *inMemoryAnomalyRepo) List(ctx context.Context, params ports.AnomalyListParams) ([]domain.Anomaly, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Anomaly
	for _, a := range r.anomalies {
		if params.Kind != nil && a.Kind != *params.Kind {
			continue
		}
		if params.GatewayID != nil && a.GatewayID != *params.GatewayID {
			continue
		}
		if params.From != nil && a.CreatedAt.Unix() < *params.From {
			continue
		}
		if params.To != nil && a.CreatedAt.Unix() > *params.To {
			continue
		}
		result = append(result, a)
	}
	total := int64(len(result))

	start := (params.Page - 1) * params.PageSize
	if start >= len(result) {
		return []domain.Anomaly{}, total, nil
	}
	end := start + params.PageSize
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], total, nil
}

func (r *inMemoryAnomalyRepo) kinds() []domain.AnomalyKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]domain.AnomalyKind, 0, len(r.anomalies))
	for _, a := range r.anomalies {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

// --- In-Memory Outbox (Refund Event) Repo ---

type inMemoryOutboxRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.RefundEvent
}

func newInMemoryOutboxRepo() *inMemoryOutboxRepo {
	return &inMemoryOutboxRepo{events: make(map[uuid.UUID]*domain.RefundEvent)}
}

func (r *inMemoryOutboxRepo) Insert(ctx context.Context, tx pgx.Tx, event *domain.RefundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *event
	r.events[event.ID] = &copied
	return nil
}

func (r *inMemoryOutboxRepo) ListPending(ctx context.Context, limit int) ([]domain.RefundEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []domain.RefundEvent
	for _, e := range r.events {
		if e.Status == domain.NotificationStatusPending {
			pending = append(pending, *e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *inMemoryOutboxRepo) MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return fmt.Errorf("refund event not found")
	}
	e.Status = domain.NotificationStatusDelivered
	e.DeliveredAt = &deliveredAt
	return nil
}

func (r *inMemoryOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, lastError string, final bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return fmt.Errorf("refund event not found")
	}
	e.Attempt = attempt
	e.LastError = &lastError
	if final {
		e.Status = domain.NotificationStatusFailed
	}
	return nil
}

func (r *inMemoryOutboxRepo) byRefund(refundID uuid.UUID) []domain.RefundEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.RefundEvent
	for _, e := range r.events {
		if e.RefundID == refundID {
			result = append(result, *e)
		}
	}
	return result
}

// --- In-Memory Bank Account Repo ---

type inMemoryBankAccountRepo struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*domain.BankAccount
}

func newInMemoryBankAccountRepo() *inMemoryBankAccountRepo {
	return &inMemoryBankAccountRepo{accounts: make(map[uuid.UUID]*domain.BankAccount)}
}

func (r *inMemoryBankAccountRepo) Create(ctx context.Context, account *domain.BankAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *account
	r.accounts[account.ID] = &copied
	return nil
}

func (r *inMemoryBankAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (r *inMemoryBankAccountRepo) List(ctx context.Context) ([]domain.BankAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.BankAccount, 0, len(r.accounts))
	for _, account := range r.accounts {
		result = append(result, *account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *inMemoryBankAccountRepo) Update(ctx context.Context, account *domain.BankAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.ID]; !ok {
		return fmt.Errorf("bank account not found")
	}
	copied := *account
	r.accounts[account.ID] = &copied
	return nil
}

// --- In-Memory Parameter Repo ---

type inMemoryParameterRepo struct {
	mu     sync.RWMutex
	params map[string]*domain.Parameter
}

func newInMemoryParameterRepo() *inMemoryParameterRepo {
	return &inMemoryParameterRepo{params: make(map[string]*domain.Parameter)}
}

func paramKey(scope, key string) string {
	return scope + "/" + key
}

func (r *inMemoryParameterRepo) Upsert(ctx context.Context, p *domain.Parameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *p
	r.params[paramKey(p.Scope, p.Key)] = &copied
	return nil
}

func (r *inMemoryParameterRepo) Get(ctx context.Context, scope, key string) (*domain.Parameter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.params[paramKey(scope, key)]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (r *inMemoryParameterRepo) ListByScope(ctx context.Context, scope string) ([]domain.Parameter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Parameter
	for k, p := range r.params {
		if strings.HasPrefix(k, scope+"/") {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (r *inMemoryParameterRepo) Delete(ctx context.Context, scope, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.params, paramKey(scope, key))
	return nil
}

// --- In-Memory Operator Repo ---

type inMemoryOperatorRepo struct {
	mu        sync.RWMutex
	operators map[uuid.UUID]*domain.Operator
}

func newInMemoryOperatorRepo() *inMemoryOperatorRepo {
	return &inMemoryOperatorRepo{operators: make(map[uuid.UUID]*domain.Operator)}
}

func (r *inMemoryOperatorRepo) Create(ctx context.Context, operator *domain.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.operators {
		if existing.Username == operator.Username {
			return fmt.Errorf("username already exists")
		}
	}
	copied := *operator
	r.operators[operator.ID] = &copied
	return nil
}

func (r *inMemoryOperatorRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	operator, ok := r.operators[id]
	if !ok {
		return nil, nil
	}
	copied := *operator
	return &copied, nil
}

func (r *inMemoryOperatorRepo) GetByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, operator := range r.operators {
		if operator.Username == username {
			copied := *operator
			return &copied, nil
		}
	}
	return nil, nil
}

// --- In-Memory Audit Repo ---

type inMemoryAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func newInMemoryAuditRepo() *inMemoryAuditRepo {
	return &inMemoryAuditRepo{}
}

func (r *inMemoryAuditRepo) Insert(ctx context.Context, log *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *log)
	return nil
}

func (r *inMemoryAuditRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// --- In-Memory Ack Cache ---

type inMemoryAckCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newInMemoryAckCache() *inMemoryAckCache {
	return &inMemoryAckCache{items: make(map[string][]byte)}
}

func (c *inMemoryAckCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (c *inMemoryAckCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = append([]byte(nil), value...)
	return nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }
