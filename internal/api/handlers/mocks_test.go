package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptoarb/internal/exchange"
	"cryptoarb/internal/models"
	"cryptoarb/internal/repository"
)

// ============ Mock Opportunity Store ============

// MockOpportunityStore мок для OpportunityStoreInterface
type MockOpportunityStore struct {
	opportunities map[int64]*models.Opportunity
	getErr        error
	updateErr     error
	mu            sync.RWMutex
}

// NewMockOpportunityStore создает новый мок хранилища возможностей
func NewMockOpportunityStore() *MockOpportunityStore {
	return &MockOpportunityStore{
		opportunities: make(map[int64]*models.Opportunity),
	}
}

func (m *MockOpportunityStore) GetByID(id int64) (*models.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	opp, ok := m.opportunities[id]
	if !ok {
		return nil, repository.ErrOpportunityNotFound
	}
	return opp, nil
}

func (m *MockOpportunityStore) GetRecent(limit int) ([]*models.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.Opportunity, 0, len(m.opportunities))
	for _, opp := range m.opportunities {
		result = append(result, opp)
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockOpportunityStore) GetByStatus(status string, limit int) ([]*models.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.Opportunity, 0)
	for _, opp := range m.opportunities {
		if opp.Status == status {
			result = append(result, opp)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockOpportunityStore) UpdateStatus(id int64, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	opp, ok := m.opportunities[id]
	if !ok {
		return repository.ErrOpportunityNotFound
	}
	if opp.Status != from {
		return repository.ErrStaleStatus
	}
	opp.Status = to
	return nil
}

// AddOpportunity добавляет возможность напрямую (для настройки тестов)
func (m *MockOpportunityStore) AddOpportunity(opp *models.Opportunity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opportunities[opp.ID] = opp
}

// SetError устанавливает ошибку для указанной операции
func (m *MockOpportunityStore) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch operation {
	case "get":
		m.getErr = err
	case "update":
		m.updateErr = err
	}
}

// ============ Mock Opportunity Details ============

// MockOpportunityDetails мок для OpportunityDetailsInterface
type MockOpportunityDetails struct {
	details map[int64]*models.OpportunityDetail
	deleted []int64
	mu      sync.RWMutex
}

// NewMockOpportunityDetails создает новый мок кэша цепочек
func NewMockOpportunityDetails() *MockOpportunityDetails {
	return &MockOpportunityDetails{
		details: make(map[int64]*models.OpportunityDetail),
	}
}

func (m *MockOpportunityDetails) GetOpportunity(ctx context.Context, id int64) (*models.OpportunityDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.details[id]
	if !ok {
		return nil, redis.Nil
	}
	return d, nil
}

func (m *MockOpportunityDetails) DeleteOpportunity(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.details, id)
	m.deleted = append(m.deleted, id)
	return nil
}

// SetDetail добавляет цепочку напрямую (для настройки тестов)
func (m *MockOpportunityDetails) SetDetail(d *models.OpportunityDetail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[d.ID] = d
}

// Deleted возвращает ID удалённых цепочек
func (m *MockOpportunityDetails) Deleted() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.deleted...)
}

// ============ Mock Executor ============

// MockExecutor мок для ExecutorInterface
type MockExecutor struct {
	executed   []int64
	executeErr error
	active     []int64
	done       chan int64
	mu         sync.Mutex
}

// NewMockExecutor создает новый мок координатора исполнения.
// Канал done сигнализирует о фоновых вызовах Execute.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{done: make(chan int64, 16)}
}

func (m *MockExecutor) Execute(ctx context.Context, id int64) error {
	m.mu.Lock()
	m.executed = append(m.executed, id)
	err := m.executeErr
	m.mu.Unlock()

	m.done <- id
	return err
}

func (m *MockExecutor) Active() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.active...)
}

// WaitForExecution ждёт фонового вызова Execute
func (m *MockExecutor) WaitForExecution(timeout time.Duration) (int64, bool) {
	select {
	case id := <-m.done:
		return id, true
	case <-time.After(timeout):
		return 0, false
	}
}

// ============ Mock Trade Store ============

// MockTradeStore мок для TradeStoreInterface
type MockTradeStore struct {
	trades []*models.Trade
	getErr error
	mu     sync.RWMutex
}

// NewMockTradeStore создает новый мок журнала сделок
func NewMockTradeStore() *MockTradeStore {
	return &MockTradeStore{}
}

func (m *MockTradeStore) GetRecent(limit int) ([]*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	result := append([]*models.Trade(nil), m.trades...)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockTradeStore) GetByOpportunityID(opportunityID int64) ([]*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.Trade, 0)
	for _, tr := range m.trades {
		if tr.OpportunityID == opportunityID {
			result = append(result, tr)
		}
	}
	return result, nil
}

// AddTrade добавляет сделку напрямую (для настройки тестов)
func (m *MockTradeStore) AddTrade(tr *models.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, tr)
}

// ============ Mock Transfer Store ============

// MockTransferStore мок для TransferStoreInterface
type MockTransferStore struct {
	transfers []*models.Transfer
	getErr    error
	mu        sync.RWMutex
}

// NewMockTransferStore создает новый мок журнала переводов
func NewMockTransferStore() *MockTransferStore {
	return &MockTransferStore{}
}

func (m *MockTransferStore) GetRecent(limit int) ([]*models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	result := append([]*models.Transfer(nil), m.transfers...)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockTransferStore) GetByID(id int64) (*models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, tr := range m.transfers {
		if tr.ID == id {
			return tr, nil
		}
	}
	return nil, repository.ErrTransferNotFound
}

func (m *MockTransferStore) GetPending() ([]*models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.Transfer, 0)
	for _, tr := range m.transfers {
		if tr.Status == models.TransferPending {
			result = append(result, tr)
		}
	}
	return result, nil
}

// AddTransfer добавляет перевод напрямую (для настройки тестов)
func (m *MockTransferStore) AddTransfer(tr *models.Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, tr)
}

// ============ Mock Funds Router ============

// MockFundsRouter мок для FundsRouterInterface
type MockFundsRouter struct {
	transferErr error
	requests    []CreateTransferRequest
	mu          sync.Mutex
}

// NewMockFundsRouter создает новый мок маршрутизатора средств
func NewMockFundsRouter() *MockFundsRouter {
	return &MockFundsRouter{}
}

func (m *MockFundsRouter) Transfer(ctx context.Context, from, to, currency string, amount float64, network string) (*models.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, CreateTransferRequest{
		FromExchange: from,
		ToExchange:   to,
		Currency:     currency,
		Amount:       amount,
		Network:      network,
	})
	if m.transferErr != nil {
		return nil, m.transferErr
	}
	return &models.Transfer{
		ID:           1,
		Timestamp:    time.Now(),
		FromExchange: from,
		ToExchange:   to,
		Currency:     currency,
		Amount:       amount,
		Status:       models.TransferPending,
	}, nil
}

// SetError устанавливает ошибку перевода
func (m *MockFundsRouter) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transferErr = err
}

// ============ Mock Recycler ============

// MockRecycler мок для RecyclerInterface
type MockRecycler struct {
	recycled []string
	mu       sync.Mutex
}

// NewMockRecycler создает новый мок пересоздания адаптеров
func NewMockRecycler() *MockRecycler {
	return &MockRecycler{}
}

func (m *MockRecycler) Recycle(ctx context.Context, name, cause string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recycled = append(m.recycled, name)
}

// Recycled возвращает имена пересозданных адаптеров
func (m *MockRecycler) Recycled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.recycled...)
}

// ============ Mock Venue Status Source ============

// MockVenueStatuses мок для VenueStatusInterface
type MockVenueStatuses struct {
	statuses map[string]*models.VenueStatus
	mu       sync.RWMutex
}

// NewMockVenueStatuses создает новый мок статусов подключений
func NewMockVenueStatuses() *MockVenueStatuses {
	return &MockVenueStatuses{statuses: make(map[string]*models.VenueStatus)}
}

func (m *MockVenueStatuses) GetVenueStatus(ctx context.Context, name string) (*models.VenueStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.statuses[name]; ok {
		return st, nil
	}
	return &models.VenueStatus{Exchange: name, Status: models.VenueUnknown}, nil
}

// SetStatus добавляет статус напрямую (для настройки тестов)
func (m *MockVenueStatuses) SetStatus(st *models.VenueStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[st.Exchange] = st
}

// ============ Mock Stats Store ============

// MockStatsStore мок для StatsStoreInterface
type MockStatsStore struct {
	counts    map[string]int
	profit    []*repository.DailyProfit
	countErr  error
	profitErr error
	mu        sync.RWMutex
}

// NewMockStatsStore создает новый мок статистики
func NewMockStatsStore() *MockStatsStore {
	return &MockStatsStore{counts: make(map[string]int)}
}

func (m *MockStatsStore) CountByStatus(status string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.counts[status], nil
}

func (m *MockStatsStore) GetDailyProfit(days int) ([]*repository.DailyProfit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.profitErr != nil {
		return nil, m.profitErr
	}
	return m.profit, nil
}

// SetCount устанавливает счётчик для статуса
func (m *MockStatsStore) SetCount(status string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[status] = count
}

// SetDailyProfit устанавливает прибыль по дням
func (m *MockStatsStore) SetDailyProfit(profit []*repository.DailyProfit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profit = profit
}

// newTestRegistry собирает Manager с paper-биржами
func newTestRegistry(names ...string) *exchange.Manager {
	m := exchange.NewManager()
	for _, name := range names {
		m.Register(exchange.NewPaper(name, 0.001, 0.001, nil))
	}
	return m
}

// ============ Helper errors for tests ============

var ErrMockDatabase = errors.New("mock database error")

// ============ Проверяем, что моки реализуют интерфейсы ============

var _ OpportunityStoreInterface = (*MockOpportunityStore)(nil)
var _ OpportunityDetailsInterface = (*MockOpportunityDetails)(nil)
var _ ExecutorInterface = (*MockExecutor)(nil)
var _ TradeStoreInterface = (*MockTradeStore)(nil)
var _ TransferStoreInterface = (*MockTransferStore)(nil)
var _ FundsRouterInterface = (*MockFundsRouter)(nil)
var _ VenueStatusInterface = (*MockVenueStatuses)(nil)
var _ RecyclerInterface = (*MockRecycler)(nil)
var _ StatsStoreInterface = (*MockStatsStore)(nil)

// exchange.Manager используется в ExchangeHandler напрямую
var _ VenueRegistryInterface = (*exchange.Manager)(nil)
