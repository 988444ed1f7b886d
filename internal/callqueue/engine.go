// Package callqueue holds the customer set of one calling session and tracks
// which customers still have to be called.
//
// The Engine is the only owner of the in-memory set. Every mutation is written
// to the store first and applied in memory only when the write succeeded, so a
// failing backend never leaves a half-applied change behind.
package callqueue

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/calllist-service/internal/apperrors"
	"gitlab.com/dirk.krummacker/calllist-service/internal/model"
	"gitlab.com/dirk.krummacker/calllist-service/internal/normalize"
	"gitlab.com/dirk.krummacker/calllist-service/internal/store"
	"gitlab.com/dirk.krummacker/calllist-service/internal/telephony"
)

// State is the derived state of the queue.
type State string

const (
	StateEmpty           State = "EMPTY"
	StateActive          State = "ACTIVE"
	StateSessionComplete State = "SESSION_COMPLETE"
)

// Ordering selects how the customer set is ordered for display.
type Ordering int

const (
	// ImportOrder keeps the order in which customers were loaded.
	ImportOrder Ordering = iota
	// LastCallOrder puts never-called customers first, then the rest by ascending last call.
	// Ties are broken by descending id.
	LastCallOrder
)

// CallRequest is the result of starting a call.
type CallRequest struct {
	Customer model.Customer
	DialURI  string
}

// MergeResult counts what an import merge did to the set.
type MergeResult struct {
	Inserted int
	Updated  int
}

// Engine is the call queue state machine. It is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	store     store.Store
	dialer    telephony.Dialer
	clock     func() time.Time
	loc       *time.Location
	ordering  Ordering
	logger    *zap.Logger
	customers []model.Customer
	meta      model.Metadata
	awaiting  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLocation sets the location whose calendar decides what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

func WithOrdering(ordering Ordering) Option {
	return func(e *Engine) { e.ordering = ordering }
}

func WithDialer(dialer telephony.Dialer) Option {
	return func(e *Engine) { e.dialer = dialer }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an empty engine that mirrors every change into s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		clock:  time.Now,
		loc:    time.Local,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dialer == nil {
		e.dialer = telephony.NewLogDialer(e.logger)
	}
	return e
}

func (e *Engine) now() time.Time {
	return e.clock().In(e.loc)
}

// Restore loads the last saved snapshot into memory. It reports whether anything was found.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	snapshot, found, err := e.store.Load(ctx)
	if err != nil {
		return false, apperrors.NewBackend("load", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.awaiting = ""
	if !found {
		e.customers = nil
		e.meta = model.Metadata{}
		return false, nil
	}
	e.customers = e.ordered(snapshot.Customers)
	e.meta = snapshot.Metadata
	e.logger.Info("restored customer set",
		zap.Int("customers", len(e.customers)), zap.String("file", e.meta.FileName))
	return true, nil
}

// Load replaces the whole customer set. Customers without an id get a fresh one and a repeated id
// updates the earlier customer instead of adding a second one.
func (e *Engine) Load(ctx context.Context, customers []model.Customer, meta model.Metadata) error {
	if len(customers) == 0 {
		return apperrors.NewValidation("no valid rows")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	replacement := make([]model.Customer, 0, len(customers))
	index := make(map[string]int, len(customers))
	for _, c := range customers {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if i, ok := index[c.ID]; ok {
			c.CreatedAt = replacement[i].CreatedAt
			replacement[i] = c
			continue
		}
		index[c.ID] = len(replacement)
		replacement = append(replacement, c)
	}
	replacement = e.ordered(replacement)

	meta.SavedAt = e.now()
	if err := e.store.Save(ctx, model.Snapshot{Customers: replacement, Metadata: meta}); err != nil {
		e.logger.Error("could not save imported customers", zap.Error(err))
		return apperrors.NewBackend("save", err)
	}

	e.customers = replacement
	e.meta = meta
	e.awaiting = ""
	e.logger.Info("loaded customer set",
		zap.Int("customers", len(replacement)), zap.String("file", meta.FileName))
	return nil
}

// Merge applies an import on top of the current set. Customers whose id is already known are
// updated, keeping their creation time; all others are inserted.
func (e *Engine) Merge(ctx context.Context, customers []model.Customer, meta model.Metadata) (MergeResult, error) {
	if len(customers) == 0 {
		return MergeResult{}, apperrors.NewValidation("no valid rows")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	merged := slices.Clone(e.customers)
	index := make(map[string]int, len(merged)+len(customers))
	for i, c := range merged {
		index[c.ID] = i
	}
	existing := len(merged)

	var updated []int
	for _, c := range customers {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if i, ok := index[c.ID]; ok {
			c.CreatedAt = merged[i].CreatedAt
			merged[i] = c
			if i < existing && !slices.Contains(updated, i) {
				updated = append(updated, i)
			}
			continue
		}
		index[c.ID] = len(merged)
		merged = append(merged, c)
	}

	update := make([]model.Customer, len(updated))
	for n, i := range updated {
		update[n] = merged[i]
	}
	insert := slices.Clone(merged[existing:])
	meta.SavedAt = e.now()

	var err error
	if m, ok := e.store.(store.Merger); ok {
		err = m.Merge(ctx, update, insert, meta)
	} else {
		err = e.store.Save(ctx, model.Snapshot{Customers: merged, Metadata: meta})
	}
	if err != nil {
		e.logger.Error("could not merge imported customers", zap.Error(err))
		return MergeResult{}, apperrors.NewBackend("merge", err)
	}

	e.customers = e.ordered(merged)
	e.meta = meta
	if e.awaiting != "" && e.indexOf(e.awaiting) < 0 {
		e.awaiting = ""
	}
	result := MergeResult{Inserted: len(insert), Updated: len(update)}
	e.logger.Info("merged import",
		zap.Int("inserted", result.Inserted), zap.Int("updated", result.Updated), zap.String("file", meta.FileName))
	return result, nil
}

// StartCall requests a dial for the customer and waits for the outcome. Only one customer can be
// awaiting an outcome; dialing the same customer again is allowed.
func (e *Engine) StartCall(ctx context.Context, id string) (CallRequest, error) {
	e.mu.Lock()
	i := e.indexOf(id)
	if i < 0 {
		e.mu.Unlock()
		return CallRequest{}, apperrors.NewNotFound(id)
	}
	if e.awaiting != "" && e.awaiting != id {
		awaiting := e.awaiting
		e.mu.Unlock()
		return CallRequest{}, apperrors.NewInvalidState("customer %s is still awaiting a call outcome", awaiting)
	}
	e.awaiting = id
	request := CallRequest{Customer: e.customers[i], DialURI: telephony.DialURI(e.customers[i].Phone)}
	e.mu.Unlock()

	e.dialer.Dial(ctx, request.DialURI)
	return request, nil
}

// CompleteCall records the outcome of the awaited call and stamps it with the current time.
func (e *Engine) CompleteCall(ctx context.Context, id string, status model.Status, note string) (model.Customer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.awaiting == "" {
		return model.Customer{}, apperrors.NewInvalidState("no call is awaiting an outcome")
	}
	if e.awaiting != id {
		return model.Customer{}, apperrors.NewInvalidState("customer %s is not awaiting a call outcome", id)
	}
	if !status.IsOutcome() {
		return model.Customer{}, apperrors.NewValidation("choose a status")
	}
	i := e.indexOf(id)
	if i < 0 {
		return model.Customer{}, apperrors.NewNotFound(id)
	}

	now := e.now()
	c := e.customers[i]
	c.Status = status
	c.Note = strings.TrimSpace(note)
	c.LastCall = &now

	if err := e.persistOne(ctx, i, c); err != nil {
		e.logger.Error("could not save call outcome", zap.String("id", id), zap.Error(err))
		return model.Customer{}, apperrors.NewBackend("save", err)
	}

	e.customers[i] = c
	e.customers = e.ordered(e.customers)
	e.awaiting = ""
	e.logger.Info("call completed", zap.String("id", id), zap.Stringer("status", status))
	return c, nil
}

func (e *Engine) persistOne(ctx context.Context, i int, c model.Customer) error {
	if w, ok := e.store.(store.RecordWriter); ok {
		return w.UpdateCustomer(ctx, c)
	}
	customers := slices.Clone(e.customers)
	customers[i] = c
	meta := e.meta
	meta.SavedAt = e.now()
	return e.store.Save(ctx, model.Snapshot{Customers: customers, Metadata: meta})
}

// CancelCall leaves the awaiting sub-state without touching any customer.
func (e *Engine) CancelCall() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.awaiting == "" {
		return apperrors.NewInvalidState("no call is awaiting an outcome")
	}
	e.logger.Info("call cancelled", zap.String("id", e.awaiting))
	e.awaiting = ""
	return nil
}

// Reset clears the stored snapshot and then the in-memory set.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Clear(ctx); err != nil {
		return apperrors.NewBackend("clear", err)
	}
	e.customers = nil
	e.meta = model.Metadata{}
	e.awaiting = ""
	e.logger.Info("customer set reset")
	return nil
}

// IsPending reports whether c still has to be called in the session that is current at now.
// A customer without status is pending. A customer with status is pending only when the last
// call happened on an earlier (or later) calendar day than now, in the location of now.
func IsPending(c model.Customer, now time.Time) bool {
	if c.Status == model.StatusNone {
		return true
	}
	if c.LastCall == nil {
		return false
	}
	return !sameDay(c.LastCall.In(now.Location()), now)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// PendingCustomers returns the pending customers in display order. Every iteration
// works on the set as it is when the iteration starts.
func (e *Engine) PendingCustomers() iter.Seq[model.Customer] {
	return func(yield func(model.Customer) bool) {
		e.mu.Lock()
		customers := slices.Clone(e.customers)
		now := e.now()
		e.mu.Unlock()

		for _, c := range customers {
			if !IsPending(c, now) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// PendingCount returns the size of the pending partition.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingCount()
}

func (e *Engine) pendingCount() int {
	now := e.now()
	n := 0
	for _, c := range e.customers {
		if IsPending(c, now) {
			n++
		}
	}
	return n
}

// Total returns the number of loaded customers.
func (e *Engine) Total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.customers)
}

// CompletedCount is the number of customers that are not pending.
func (e *Engine) CompletedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.customers) - e.pendingCount()
}

// IsSessionComplete reports whether customers are loaded and none of them is pending.
func (e *Engine) IsSessionComplete() bool {
	return e.State() == StateSessionComplete
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case len(e.customers) == 0:
		return StateEmpty
	case e.pendingCount() == 0:
		return StateSessionComplete
	default:
		return StateActive
	}
}

// Customers returns a copy of the set in display order, restricted to customers matching query.
// A customer matches when its name contains query, ignoring case, or when the digits of query
// appear in its phone. An empty query matches everybody.
func (e *Engine) Customers(query string) []model.Customer {
	e.mu.Lock()
	customers := slices.Clone(e.customers)
	e.mu.Unlock()

	query = strings.TrimSpace(query)
	if query == "" {
		return customers
	}
	return slices.DeleteFunc(customers, func(c model.Customer) bool {
		return !matches(c, query)
	})
}

func matches(c model.Customer, query string) bool {
	if strings.Contains(strings.ToLower(c.Name), strings.ToLower(query)) {
		return true
	}
	digits := normalize.CanonicalizePhone(query)
	return digits != "" && strings.Contains(c.Phone, digits)
}

// Customer returns the customer with the given id.
func (e *Engine) Customer(id string) (model.Customer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(id)
	if i < 0 {
		return model.Customer{}, apperrors.NewNotFound(id)
	}
	return e.customers[i], nil
}

func (e *Engine) Metadata() model.Metadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta
}

// Awaiting returns the customer that is waiting for a call outcome, if any.
func (e *Engine) Awaiting() (model.Customer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.awaiting == "" {
		return model.Customer{}, false
	}
	i := e.indexOf(e.awaiting)
	if i < 0 {
		return model.Customer{}, false
	}
	return e.customers[i], true
}

// Now returns the engine clock, in the engine location.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Location returns the location used for calendar dates.
func (e *Engine) Location() *time.Location {
	return e.loc
}

func (e *Engine) indexOf(id string) int {
	return slices.IndexFunc(e.customers, func(c model.Customer) bool { return c.ID == id })
}

func (e *Engine) ordered(customers []model.Customer) []model.Customer {
	if e.ordering == LastCallOrder {
		slices.SortStableFunc(customers, compareLastCall)
	}
	return customers
}

func compareLastCall(a, b model.Customer) int {
	switch {
	case a.LastCall == nil && b.LastCall != nil:
		return -1
	case a.LastCall != nil && b.LastCall == nil:
		return 1
	case a.LastCall != nil && b.LastCall != nil:
		if c := a.LastCall.Compare(*b.LastCall); c != 0 {
			return c
		}
	}
	return strings.Compare(b.ID, a.ID)
}
