package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/household_backend/config"
	"github.com/mmdatafocus/household_backend/utils"
)

// MemoryStore is an in-process Store used by tests and STORE_DRIVER=memory.
// Top-level transactions run one at a time and restore a snapshot when fn fails;
// nested ones act as savepoints. Writes made outside a transaction are not isolated.
type MemoryStore struct {
	mu sync.Mutex
	// txMu is held across a top-level transaction body.
	txMu  sync.Mutex
	state memoryState
	// Now stamps CreatedAt/UpdatedAt; tests pin it.
	Now func() time.Time
}

type memoryState struct {
	orders      map[string]PurchaseOrder
	orderSeq    []string
	lineSeq     int
	inventory   map[string]InventoryItem
	invSeq      int
	shopping    []ShoppingListEntry
	shopSeq     int
	feedback    []UserFeedback
	feedbackSeq int
	prefs       map[string]UserPreference
	prefSeq     int
	metrics     map[string]RecommendationMetrics
	events      []EngineEvent
	eventSeq    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memoryState{
			orders:    map[string]PurchaseOrder{},
			inventory: map[string]InventoryItem{},
			prefs:     map[string]UserPreference{},
			metrics:   map[string]RecommendationMetrics{},
		},
		Now: func() time.Time { return time.Now().UTC() },
	}
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		orders:      make(map[string]PurchaseOrder, len(s.orders)),
		orderSeq:    append([]string(nil), s.orderSeq...),
		lineSeq:     s.lineSeq,
		inventory:   make(map[string]InventoryItem, len(s.inventory)),
		invSeq:      s.invSeq,
		shopping:    append([]ShoppingListEntry(nil), s.shopping...),
		shopSeq:     s.shopSeq,
		feedback:    append([]UserFeedback(nil), s.feedback...),
		feedbackSeq: s.feedbackSeq,
		prefs:       make(map[string]UserPreference, len(s.prefs)),
		prefSeq:     s.prefSeq,
		metrics:     make(map[string]RecommendationMetrics, len(s.metrics)),
		events:      append([]EngineEvent(nil), s.events...),
		eventSeq:    s.eventSeq,
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.inventory {
		c.inventory[k] = v
	}
	for k, v := range s.prefs {
		c.prefs[k] = v
	}
	for k, v := range s.metrics {
		c.metrics[k] = v
	}
	return c
}

func prefKey(t PreferenceType, key string) string {
	return string(t) + "\x00" + key
}

func (s *MemoryStore) write(ctx context.Context) error {
	if config.IsReadOnlyContext(ctx) {
		return config.ErrReadOnlyContext
	}
	return nil
}

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return (&memoryTx{s}).Transaction(ctx, fn)
}

// memoryTx is the Store handed to a transaction body.
type memoryTx struct {
	*MemoryStore
}

// Transaction on a memoryTx is a savepoint and must not take txMu again.
func (t *memoryTx) Transaction(ctx context.Context, fn func(tx Store) error) error {
	t.mu.Lock()
	snapshot := t.state.clone()
	t.mu.Unlock()

	if err := fn(t); err != nil {
		t.mu.Lock()
		t.state = snapshot
		t.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemoryStore) CreatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.orders[order.ID]; ok {
		return utils.NewDomainError(utils.DomainCodeDuplicateOrder, "purchase order %q already imported", order.ID)
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.Now()
	}
	for i := range order.Items {
		s.state.lineSeq++
		order.Items[i].ID = s.state.lineSeq
		order.Items[i].ParentId = order.ID
	}
	stored := *order
	stored.Items = append([]PurchaseLineItem(nil), order.Items...)
	s.state.orders[order.ID] = stored
	s.state.orderSeq = append(s.state.orderSeq, order.ID)
	return nil
}

func (s *MemoryStore) PurchaseOrderExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.orders[id]
	return ok, nil
}

func inRange(t, from, to time.Time) bool {
	if t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func (s *MemoryStore) ListPurchaseOrders(ctx context.Context, from, to time.Time) ([]PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PurchaseOrder
	for _, id := range s.state.orderSeq {
		o := s.state.orders[id]
		if !inRange(o.PurchaseDate, from, to) {
			continue
		}
		o.Items = nil
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].PurchaseDate.Before(out[j].PurchaseDate)
	})
	return out, nil
}

func (s *MemoryStore) ListPurchaseLines(ctx context.Context, filter PurchaseLineFilter) ([]PurchaseLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	categories := toSet(filter.Categories)
	items := toSet(filter.ItemNames)
	type keyed struct {
		line PurchaseLine
		id   int
	}
	var rows []keyed
	for _, id := range s.state.orderSeq {
		o := s.state.orders[id]
		if !inRange(o.PurchaseDate, filter.From, filter.To) {
			continue
		}
		for _, li := range o.Items {
			if categories != nil && !categories[li.Category] {
				continue
			}
			if items != nil && !items[li.ItemName] {
				continue
			}
			rows = append(rows, keyed{id: li.ID, line: PurchaseLine{
				OrderId:      o.ID,
				ItemName:     li.ItemName,
				Category:     li.Category,
				Model:        li.Model,
				Quantity:     li.Quantity,
				UnitPrice:    li.UnitPrice,
				PurchaseDate: o.PurchaseDate,
				StoreName:    o.StoreName,
			}})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].line.PurchaseDate.Equal(rows[j].line.PurchaseDate) {
			return rows[i].id < rows[j].id
		}
		return rows[i].line.PurchaseDate.Before(rows[j].line.PurchaseDate)
	})
	out := make([]PurchaseLine, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.line)
	}
	return out, nil
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

func (s *MemoryStore) ListInventoryItems(ctx context.Context, categories []string) ([]InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := toSet(categories)
	var out []InventoryItem
	for _, it := range s.state.inventory {
		if set != nil && !set[it.Category] {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemName < out[j].ItemName })
	return out, nil
}

func (s *MemoryStore) GetInventoryItem(ctx context.Context, itemName string) (*InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.state.inventory[itemName]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return &it, nil
}

func (s *MemoryStore) SaveInventoryItem(ctx context.Context, item *InventoryItem) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	if item.ID == 0 {
		if _, ok := s.state.inventory[item.ItemName]; ok {
			return utils.NewDomainError("duplicate_inventory_item", "inventory item %q already exists", item.ItemName)
		}
		s.state.invSeq++
		item.ID = s.state.invSeq
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.state.inventory[item.ItemName] = *item
	return nil
}

func (s *MemoryStore) ListShoppingList(ctx context.Context, status ShoppingListStatus) ([]ShoppingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ShoppingListEntry
	for _, e := range s.state.shopping {
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetPendingShoppingEntry(ctx context.Context, itemName string) (*ShoppingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.state.shopping {
		if e.ItemName == itemName && e.Status == ShoppingListStatusPending {
			found := e
			return &found, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (s *MemoryStore) SaveShoppingEntry(ctx context.Context, entry *ShoppingListEntry) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.syncPendingKey()
	if entry.PendingKey != nil {
		for _, e := range s.state.shopping {
			if e.ID != entry.ID && e.PendingKey != nil && *e.PendingKey == *entry.PendingKey {
				return utils.NewDomainError(utils.DomainCodePendingExists, "item %q already has a pending shopping list entry", entry.ItemName)
			}
		}
	}
	entry.UpdatedAt = s.Now()
	if entry.ID == 0 {
		s.state.shopSeq++
		entry.ID = s.state.shopSeq
		s.state.shopping = append(s.state.shopping, *entry)
		return nil
	}
	for i := range s.state.shopping {
		if s.state.shopping[i].ID == entry.ID {
			s.state.shopping[i] = *entry
			return nil
		}
	}
	return utils.ErrorRecordNotFound
}

func (s *MemoryStore) CreateFeedback(ctx context.Context, feedback *UserFeedback) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.feedbackSeq++
	feedback.ID = s.state.feedbackSeq
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = s.Now()
	}
	s.state.feedback = append(s.state.feedback, *feedback)
	return nil
}

func (s *MemoryStore) ListFeedback(ctx context.Context, filter FeedbackFilter) ([]UserFeedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := toSet(filter.ItemNames)
	var out []UserFeedback
	for _, f := range s.state.feedback {
		if filter.From != nil && f.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !f.CreatedAt.Before(*filter.To) {
			continue
		}
		if items != nil && !items[f.ItemName] {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetPreference(ctx context.Context, prefType PreferenceType, key string) (*UserPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.prefs[prefKey(prefType, key)]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return &p, nil
}

func (s *MemoryStore) CreatePreference(ctx context.Context, pref *UserPreference) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := prefKey(pref.PreferenceType, pref.PreferenceKey)
	if _, ok := s.state.prefs[k]; ok {
		return utils.ErrStalePreference
	}
	s.state.prefSeq++
	pref.ID = s.state.prefSeq
	if pref.Version == 0 {
		pref.Version = 1
	}
	now := s.Now()
	pref.CreatedAt = now
	pref.UpdatedAt = now
	s.state.prefs[k] = *pref
	return nil
}

func (s *MemoryStore) UpdatePreference(ctx context.Context, pref *UserPreference, expectedVersion int) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := prefKey(pref.PreferenceType, pref.PreferenceKey)
	cur, ok := s.state.prefs[k]
	if !ok || cur.Version != expectedVersion {
		return utils.ErrStalePreference
	}
	pref.Version = expectedVersion + 1
	pref.UpdatedAt = s.Now()
	s.state.prefs[k] = *pref
	return nil
}

func (s *MemoryStore) ListPreferences(ctx context.Context, filter PreferenceFilter) ([]UserPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []UserPreference
	for _, p := range s.state.prefs {
		if p.ConfidenceScore < filter.MinConfidence {
			continue
		}
		if filter.PreferenceType != "" && p.PreferenceType != filter.PreferenceType {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PreferenceType != out[j].PreferenceType {
			return out[i].PreferenceType < out[j].PreferenceType
		}
		return out[i].PreferenceKey < out[j].PreferenceKey
	})
	return out, nil
}

func (s *MemoryStore) GetRecommendationMetrics(ctx context.Context, metricDate string) (*RecommendationMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.metrics[metricDate]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return &m, nil
}

func (s *MemoryStore) SaveRecommendationMetrics(ctx context.Context, metrics *RecommendationMetrics) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	if prev, ok := s.state.metrics[metrics.MetricDate]; ok {
		metrics.CreatedAt = prev.CreatedAt
	} else {
		metrics.CreatedAt = now
	}
	metrics.UpdatedAt = now
	s.state.metrics[metrics.MetricDate] = *metrics
	return nil
}

func (s *MemoryStore) ListRecommendationMetrics(ctx context.Context, fromDate, toDate string) ([]RecommendationMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RecommendationMetrics
	for d, m := range s.state.metrics {
		if d >= fromDate && d <= toDate {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricDate < out[j].MetricDate })
	return out, nil
}

func (s *MemoryStore) CreateEngineEvent(ctx context.Context, event *EngineEvent) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.eventSeq++
	event.ID = s.state.eventSeq
	if event.PublishStatus == "" {
		event.PublishStatus = OutboxPublishStatusPending
	}
	event.CreatedAt = s.Now()
	s.state.events = append(s.state.events, *event)
	return nil
}

// Events returns a copy of the outbox rows written so far.
func (s *MemoryStore) Events() []EngineEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EngineEvent(nil), s.state.events...)
}
