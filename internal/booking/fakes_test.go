package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nekogravitycat/rental-booking-backend/internal/availability"
	"github.com/nekogravitycat/rental-booking-backend/internal/event"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/dates"
	"github.com/nekogravitycat/rental-booking-backend/internal/property"
	"github.com/nekogravitycat/rental-booking-backend/internal/user"
)

// memRepo is an in-memory ledger. It copies on read and write like a real store
// and supports snapshots so memTx can roll back.
type memRepo struct {
	mu        sync.Mutex
	byRef     map[string]*Booking
	now       func() time.Time
	collide   int // number of Create calls that report a reference collision
	creates   int
	lockCalls int
}

func newMemRepo(now func() time.Time) *memRepo {
	return &memRepo{byRef: map[string]*Booking{}, now: now}
}

func clone(b *Booking) *Booking {
	c := *b
	if b.CancellationReason != nil {
		r := *b.CancellationReason
		c.CancellationReason = &r
	}
	return &c
}

func (m *memRepo) snapshot() map[string]*Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Booking, len(m.byRef))
	for k, v := range m.byRef {
		out[k] = clone(v)
	}
	return out
}

func (m *memRepo) restore(s map[string]*Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRef = s
}

func (m *memRepo) LockProperty(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCalls++
	return nil
}

func (m *memRepo) OccupiedRanges(_ context.Context, propertyID string, within dates.Range) ([]dates.Range, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []dates.Range
	for _, b := range m.byRef {
		if b.PropertyID == propertyID && b.Status.Occupying() && b.Range().Overlaps(within) {
			out = append(out, b.Range())
		}
	}
	return out, nil
}

func (m *memRepo) Create(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.collide > 0 {
		m.collide--
		return errReferenceTaken
	}
	if _, ok := m.byRef[b.Reference]; ok {
		return errReferenceTaken
	}
	b.ID = uuid.NewString()
	b.CreatedAt = m.now()
	b.UpdatedAt = b.CreatedAt
	m.byRef[b.Reference] = clone(b)
	return nil
}

func (m *memRepo) GetByReference(_ context.Context, ref string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(b), nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byRef {
		if b.ID == id {
			return clone(b), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) LockByReference(ctx context.Context, ref string) (*Booking, error) {
	return m.GetByReference(ctx, ref)
}

func (m *memRepo) LockByID(ctx context.Context, id string) (*Booking, error) {
	return m.GetByID(ctx, id)
}

func (m *memRepo) UpdateStatus(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byRef[b.Reference]
	if !ok {
		return ErrNotFound
	}
	stored.Status = b.Status
	stored.CancellationReason = b.CancellationReason
	stored.UpdatedAt = m.now()
	b.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m *memRepo) List(_ context.Context, filter Filter) ([]*Booking, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.byRef {
		if filter.VisibleTo != "" && b.GuestID != filter.VisibleTo && b.PropertyID != hostedBy[filter.VisibleTo] {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		out = append(out, clone(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out, len(out), nil
}

func (m *memRepo) ListStale(_ context.Context, f StaleFilter) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []string
	for ref, b := range m.byRef {
		if b.Status != f.Status {
			continue
		}
		if f.CreatedBefore != nil && !b.CreatedAt.Before(*f.CreatedBefore) {
			continue
		}
		if f.CheckOutBefore != nil && b.CheckOut.After(*f.CheckOutBefore) {
			continue
		}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		a, b := m.byRef[refs[i]], m.byRef[refs[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return refs[i] < refs[j]
	})
	if f.Offset >= len(refs) {
		return nil, nil
	}
	refs = refs[f.Offset:]
	if f.Limit > 0 && len(refs) > f.Limit {
		refs = refs[:f.Limit]
	}
	return refs, nil
}

// memTx serializes transactions and restores the ledger when fn fails.
type memTx struct {
	mu   sync.Mutex
	repo *memRepo
}

type inTxKey struct{}

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.repo.snapshot()
	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		t.repo.restore(snap)
		return err
	}
	return nil
}

type fakeProperties map[string]*property.Property

func (f fakeProperties) GetByID(_ context.Context, id string) (*property.Property, error) {
	p, ok := f[id]
	if !ok {
		return nil, property.ErrNotFound
	}
	return p, nil
}

type fakeUsers map[string]*user.User

func (f fakeUsers) GetByID(_ context.Context, id string) (*user.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (f fakeUsers) GetActive(ctx context.Context, id string) (*user.User, error) {
	u, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, user.ErrInactiveUser
	}
	return u, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type refundCall struct {
	reference string
	amount    int64
	reason    string
}

type fakeRefunds struct {
	calls []refundCall
	err   error
}

func (f *fakeRefunds) RequestCancellationRefund(_ context.Context, b *Booking, amount int64, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, refundCall{b.Reference, amount, reason})
	return nil
}

type fakeDisputes map[string]bool

func (f fakeDisputes) HasOpenDisputes(_ context.Context, bookingID string) (bool, error) {
	return f[bookingID], nil
}

var (
	guestID    = "11111111-1111-4111-8111-111111111111"
	hostID     = "22222222-2222-4222-8222-222222222222"
	adminID    = "33333333-3333-4333-8333-333333333333"
	strangerID = "44444444-4444-4444-8444-444444444444"
	inactiveID = "55555555-5555-4555-8555-555555555555"
	propertyID = "66666666-6666-4666-8666-666666666666"

	hostedBy = map[string]string{hostID: propertyID}
)

type fixture struct {
	svc       Service
	repo      *memRepo
	publisher *recordingPublisher
	refunds   *fakeRefunds
	disputes  fakeDisputes
	property  *property.Property
	clock     *time.Time
}

func newFixture() *fixture {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := &now
	nowFn := func() time.Time { return *clock }

	p := &property.Property{
		ID:                 propertyID,
		HostID:             hostID,
		Title:              "Seaside cottage",
		IsActive:           true,
		MaxGuests:          4,
		MinimumStay:        2,
		MaximumStay:        30,
		NightlyRate:        10000,
		CleaningFee:        2000,
		ServiceFee:         1000,
		Currency:           "EUR",
		CancellationPolicy: property.PolicyModerate,
		BookingMode:        property.BookingModeInstant,
	}
	props := fakeProperties{p.ID: p}
	users := fakeUsers{
		guestID:    {ID: guestID, IsActive: true},
		hostID:     {ID: hostID, IsActive: true},
		adminID:    {ID: adminID, IsActive: true, IsSystemAdmin: true},
		strangerID: {ID: strangerID, IsActive: true},
		inactiveID: {ID: inactiveID},
	}

	repo := newMemRepo(nowFn)
	avail := availability.NewService(props, repo, availability.WithClock(nowFn))
	publisher := &recordingPublisher{}
	refunds := &fakeRefunds{}
	disputes := fakeDisputes{}

	svc := NewService(repo, &memTx{repo: repo}, avail, props, users, publisher,
		WithClock(nowFn), WithRefunds(refunds), WithDisputes(disputes))

	return &fixture{
		svc:       svc,
		repo:      repo,
		publisher: publisher,
		refunds:   refunds,
		disputes:  disputes,
		property:  p,
		clock:     clock,
	}
}

func day(s string) time.Time {
	t, err := dates.Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (f *fixture) request(in, out string) CreateRequest {
	return CreateRequest{
		GuestID:    guestID,
		PropertyID: propertyID,
		CheckIn:    day(in),
		CheckOut:   day(out),
		GuestCount: 2,
	}
}

func (f *fixture) setToday(s string) {
	*f.clock = day(s).Add(10 * time.Hour)
}
