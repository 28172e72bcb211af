package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nekogravitycat/rental-booking-backend/internal/booking"
)

var (
	guestID = "11111111-1111-1111-1111-111111111111"
	hostID  = "22222222-2222-2222-2222-222222222222"
	adminID = "33333333-3333-3333-3333-333333333333"
)

var errUniqueTxID = errors.New("duplicate key value violates unique constraint \"payment_records_provider_tx_id_key\"")

// memRepo keeps payment records and exceptions in memory with the same
// uniqueness rules as the database.
type memRepo struct {
	mu         sync.Mutex
	records    map[string]*Record
	exceptions map[string]*Exception
	seq        int
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[string]*Record{}, exceptions: map[string]*Exception{}}
}

func cloneRecord(r *Record) *Record {
	c := *r
	return &c
}

type repoSnapshot struct {
	records    map[string]*Record
	exceptions map[string]*Exception
}

func (m *memRepo) snapshot() repoSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := repoSnapshot{records: map[string]*Record{}, exceptions: map[string]*Exception{}}
	for k, v := range m.records {
		s.records[k] = cloneRecord(v)
	}
	for k, v := range m.exceptions {
		e := *v
		s.exceptions[k] = &e
	}
	return s
}

func (m *memRepo) restore(s repoSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = s.records
	m.exceptions = s.exceptions
}

func (m *memRepo) sorted() []*Record {
	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memRepo) checkUnique(rec *Record) error {
	for _, r := range m.records {
		if r.ID == rec.ID {
			continue
		}
		if rec.ProviderTxID != nil && r.ProviderTxID != nil && *r.ProviderTxID == *rec.ProviderTxID {
			return errUniqueTxID
		}
		settled := func(x *Record) bool {
			return x.Direction == DirectionCharge && (x.Status == StatusCompleted || x.Status == StatusRefunded)
		}
		if settled(rec) && settled(r) && r.BookingID == rec.BookingID {
			return fmt.Errorf("second settled charge for booking %s", rec.BookingID)
		}
	}
	return nil
}

func (m *memRepo) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(rec); err != nil {
		return err
	}
	m.seq++
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Date(2025, 6, 1, 0, 0, m.seq, 0, time.UTC)
	rec.UpdatedAt = rec.CreatedAt
	m.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (m *memRepo) Update(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[rec.ID]
	if !ok {
		return ErrNotFound
	}
	if err := m.checkUnique(rec); err != nil {
		return err
	}
	cur.Status = rec.Status
	cur.Amount = rec.Amount
	cur.Currency = rec.Currency
	cur.ProviderTxID = rec.ProviderTxID
	cur.ProviderOrderID = rec.ProviderOrderID
	cur.Note = rec.Note
	return nil
}

func (m *memRepo) SetOrderID(_ context.Context, id, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok && r.ProviderOrderID == nil {
		r.ProviderOrderID = &orderID
	}
	return nil
}

func (m *memRepo) find(match func(*Record) bool, latest bool) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.sorted()
	if latest {
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	}
	for _, r := range recs {
		if match(r) {
			return cloneRecord(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) GetByID(_ context.Context, id string) (*Record, error) {
	return m.find(func(r *Record) bool { return r.ID == id }, false)
}

func (m *memRepo) GetByProviderTxID(_ context.Context, txID string) (*Record, error) {
	return m.find(func(r *Record) bool { return r.ProviderTxID != nil && *r.ProviderTxID == txID }, false)
}

func (m *memRepo) GetByOrderID(_ context.Context, orderID string) (*Record, error) {
	return m.find(func(r *Record) bool { return r.ProviderOrderID != nil && *r.ProviderOrderID == orderID }, true)
}

func (m *memRepo) GetInitiated(_ context.Context, bookingID string, dir Direction) (*Record, error) {
	return m.find(func(r *Record) bool {
		return r.BookingID == bookingID && r.Direction == dir && r.Status == StatusInitiated
	}, true)
}

func (m *memRepo) GetInitiatedRefund(_ context.Context, chargeID string, amount int64) (*Record, error) {
	return m.find(func(r *Record) bool {
		return r.ParentID != nil && *r.ParentID == chargeID && r.Direction == DirectionRefund &&
			r.Status == StatusInitiated && r.Amount == amount
	}, false)
}

func (m *memRepo) GetCompletedCharge(_ context.Context, bookingID string) (*Record, error) {
	return m.find(func(r *Record) bool {
		return r.BookingID == bookingID && r.Direction == DirectionCharge &&
			(r.Status == StatusCompleted || r.Status == StatusRefunded)
	}, false)
}

func (m *memRepo) RefundTotals(_ context.Context, bookingID string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var completed, pending int64
	for _, r := range m.records {
		if r.BookingID != bookingID || r.Direction != DirectionRefund {
			continue
		}
		switch r.Status {
		case StatusCompleted:
			completed += r.Amount
		case StatusInitiated:
			pending += r.Amount
		}
	}
	return completed, pending, nil
}

func (m *memRepo) ListByBooking(_ context.Context, bookingID string) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.sorted() {
		if r.BookingID == bookingID {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func (m *memRepo) ListUndispatchedRefunds(_ context.Context, limit int) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.sorted() {
		if r.Direction == DirectionRefund && r.Status == StatusInitiated && r.ProviderOrderID == nil && len(out) < limit {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func (m *memRepo) CreateException(_ context.Context, e *Exception) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.exceptions {
		if cur.ProviderTxID == e.ProviderTxID && cur.Kind == e.Kind {
			return false, nil
		}
	}
	e.ID = uuid.NewString()
	c := *e
	m.exceptions[e.ID] = &c
	return true, nil
}

func (m *memRepo) ListExceptions(_ context.Context, filter ExceptionFilter) ([]*Exception, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Exception
	for _, e := range m.exceptions {
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.Resolved != nil && e.Resolved != *filter.Resolved {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out, len(out), nil
}

func (m *memRepo) ResolveException(_ context.Context, id, note string) (*Exception, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exceptions[id]
	if !ok {
		return nil, ErrExceptionNotFound
	}
	e.Resolved = true
	e.ResolutionNote = &note
	c := *e
	return &c, nil
}

func (m *memRepo) CountOpenExceptions(_ context.Context, bookingID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.exceptions {
		if e.BookingID != nil && *e.BookingID == bookingID && !e.Resolved {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) exceptionsOfKind(kind string) []*Exception {
	open := false
	list, _, _ := m.ListExceptions(context.Background(), ExceptionFilter{Kind: kind, Resolved: &open})
	return list
}

// fakeBookings drives the real transition table over in-memory bookings.
type fakeBookings struct {
	mu          sync.Mutex
	byID        map[string]*booking.Booking
	transitions []booking.Event
	refunds     *BookingHooks
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{byID: map[string]*booking.Booking{}}
}

func (f *fakeBookings) add(ref string, status booking.Status, total int64) *booking.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &booking.Booking{
		ID:          uuid.NewString(),
		Reference:   ref,
		PropertyID:  uuid.NewString(),
		GuestID:     guestID,
		CheckIn:     time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		CheckOut:    time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC),
		GuestCount:  2,
		TotalAmount: total,
		Currency:    "EUR",
		Status:      status,
	}
	f.byID[b.ID] = b
	c := *b
	return &c
}

func (f *fakeBookings) status(id string) booking.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id].Status
}

func (f *fakeBookings) snapshot() map[string]booking.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]booking.Booking{}
	for k, v := range f.byID {
		out[k] = *v
	}
	return out
}

func (f *fakeBookings) restore(s map[string]booking.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range s {
		b := v
		f.byID[k] = &b
	}
}

func (f *fakeBookings) byRef(ref string) (*booking.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.byID {
		if b.Reference == ref {
			c := *b
			return &c, nil
		}
	}
	return nil, booking.ErrNotFound
}

func (f *fakeBookings) GetByReference(_ context.Context, ref string) (*booking.Booking, error) {
	return f.byRef(ref)
}

func (f *fakeBookings) LockByReference(_ context.Context, ref string) (*booking.Booking, error) {
	return f.byRef(ref)
}

func (f *fakeBookings) LockByID(_ context.Context, id string) (*booking.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.byID[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	c := *b
	return &c, nil
}

func (f *fakeBookings) RolesFor(_ context.Context, b *booking.Booking, actor booking.Actor) ([]booking.Role, error) {
	switch {
	case actor.System:
		return []booking.Role{booking.RoleSystem}, nil
	case actor.UserID == b.GuestID:
		return []booking.Role{booking.RoleGuest}, nil
	case actor.UserID == hostID:
		return []booking.Role{booking.RoleHost}, nil
	case actor.UserID == adminID:
		return []booking.Role{booking.RoleAdmin}, nil
	}
	return nil, nil
}

func (f *fakeBookings) Transition(ctx context.Context, ref string, ev booking.Event, actor booking.Actor, reason string) (*booking.Booking, error) {
	b, err := f.byRef(ref)
	if err != nil {
		return nil, err
	}
	roles, _ := f.RolesFor(ctx, b, actor)
	to, err := booking.Next(b.Status, ev, roles)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.byID[b.ID].Status = to
	f.transitions = append(f.transitions, ev)
	f.mu.Unlock()

	b.Status = to
	if f.refunds != nil && to == booking.StatusCancelled {
		if err := f.refunds.RequestCancellationRefund(ctx, b, b.TotalAmount, reason); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (f *fakeBookings) transitionCount(ev booking.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.transitions {
		if e == ev {
			n++
		}
	}
	return n
}

// memTx serializes transactions and rolls both stores back when fn fails.
type memTx struct {
	mu       sync.Mutex
	repo     *memRepo
	bookings *fakeBookings
}

type inTxKey struct{}

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	repoSnap := t.repo.snapshot()
	bookingSnap := t.bookings.snapshot()
	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		t.repo.restore(repoSnap)
		t.bookings.restore(bookingSnap)
		return err
	}
	return nil
}

type fakeProcessor struct {
	mu      sync.Mutex
	fail    error
	orders  []OrderRequest
	refunds []RefundRequest
	// onRefund runs before Refund returns, like a provider callback that
	// lands before the caller has stored the refund id.
	onRefund func(req RefundRequest, res *RefundResult)
}

func (p *fakeProcessor) CreateOrder(_ context.Context, req OrderRequest) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, req)
	if p.fail != nil {
		return nil, p.fail
	}
	return &Order{ID: "order-" + req.IdempotencyKey, Status: "CREATED"}, nil
}

func (p *fakeProcessor) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	p.mu.Lock()
	p.refunds = append(p.refunds, req)
	fail, hook := p.fail, p.onRefund
	p.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	res := &RefundResult{ID: "refund-" + req.IdempotencyKey, Status: "PENDING"}
	if hook != nil {
		hook(req, res)
	}
	return res, nil
}

type fixture struct {
	repo      *memRepo
	bookings  *fakeBookings
	processor *fakeProcessor
	svc       Service
}

func newFixture() *fixture {
	repo := newMemRepo()
	bookings := newFakeBookings()
	bookings.refunds = NewBookingHooks(repo)
	processor := &fakeProcessor{}
	tx := &memTx{repo: repo, bookings: bookings}
	return &fixture{
		repo:      repo,
		bookings:  bookings,
		processor: processor,
		svc:       NewService(repo, tx, bookings, processor),
	}
}

func capture(txID, orderID, ref string, amount int64) ProviderEvent {
	return ProviderEvent{
		TransactionID:    txID,
		Type:             EventCaptureCompleted,
		OrderID:          orderID,
		BookingReference: ref,
		Amount:           amount,
		Currency:         "EUR",
		OccurredAt:       time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC),
	}
}
