package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

const (
	provider = "prov-1"
	client   = "client-1"
	svc      = "svc-1"
	other    = "svc-2"
)

var monday = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

type fixture struct {
	ledger  *Ledger
	catalog *catalog.Static
	windows *availability.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mem := storage.NewMemory()
	cat := catalog.NewStatic().AddService(svc, 60).AddService(other, 30).Link(provider, svc, other)
	windows := availability.NewStore(mem, cat)
	_, err := windows.AddWindow(context.Background(), provider, availability.WindowInput{
		Day: model.Monday, Start: model.NewClock(9, 0), End: model.NewClock(12, 0),
	})
	require.NoError(t, err)

	l := New(mem, cat, windows)
	l.now = func() time.Time { return time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC) }
	return fixture{ledger: l, catalog: cat, windows: windows}
}

func req(start model.Clock, minutes int) Request {
	return Request{ProviderID: provider, ClientID: client, ServiceID: svc, Date: monday, Start: start, DurationMinutes: minutes}
}

func TestCreateValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := req(model.NewClock(9, 0), 60)
	r.ServiceID = "svc-unlinked"
	_, err := f.ledger.Create(ctx, r)
	require.ErrorIs(t, err, model.ErrServiceNotOffered)

	_, err = f.ledger.Create(ctx, req(model.NewClock(11, 30), 60))
	require.ErrorIs(t, err, model.ErrSlotUnavailable, "11:30-12:30 runs past the window")

	_, err = f.ledger.Create(ctx, req(model.NewClock(9, 0), 0))
	require.ErrorIs(t, err, model.ErrInvalidInput)

	appt, err := f.ledger.Create(ctx, req(model.NewClock(10, 0), 60))
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, appt.Status)
	require.Equal(t, model.NewClock(11, 0), appt.End())

	_, err = f.ledger.Create(ctx, req(model.NewClock(10, 30), 30))
	require.ErrorIs(t, err, model.ErrSlotUnavailable)
}

func TestOversizedDurationsCannotWrap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, minutes := range []int{model.MinutesPerDay + 1, math.MaxInt, math.MaxInt - 500} {
		_, err := f.ledger.Create(ctx, req(model.NewClock(9, 0), minutes))
		require.ErrorIs(t, err, model.ErrInvalidInput, "%d minutes", minutes)
	}

	appt, err := f.ledger.Create(ctx, req(model.NewClock(9, 0), 60))
	require.NoError(t, err, "rejected requests must not occupy the interval")

	for _, minutes := range []int{model.MinutesPerDay + 1, math.MaxInt} {
		_, err = f.ledger.Reschedule(ctx, appt.ID, Change{DurationMinutes: minutes}, nil)
		require.ErrorIs(t, err, model.ErrInvalidInput, "%d minutes", minutes)
	}
	got, err := f.ledger.Get(ctx, appt.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 60, got.DurationMinutes)
}

func TestRoundTripThroughListByProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.ledger.Create(ctx, req(model.NewClock(9, 30), 45))
	require.NoError(t, err)

	d := monday.Add(15 * time.Hour)
	listed, err := f.ledger.ListByProvider(ctx, provider, &d)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, created.ID, listed[0].ID)
	require.Equal(t, model.StatusPending, listed[0].Status)
	require.True(t, listed[0].Date.Equal(monday))
	require.Equal(t, model.NewClock(9, 30), listed[0].Start)
	require.Equal(t, 45, listed[0].DurationMinutes)
}

func TestStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.ledger.Create(ctx, req(model.NewClock(10, 0), 60))
	require.NoError(t, err)

	_, err = f.ledger.Cancel(ctx, appt.ID, nil)
	require.NoError(t, err)
	_, err = f.ledger.Confirm(ctx, appt.ID, nil)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = f.ledger.Cancel(ctx, appt.ID, nil)
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	second, err := f.ledger.Create(ctx, req(model.NewClock(10, 0), 60))
	require.NoError(t, err, "a cancelled appointment frees its interval")

	_, err = f.ledger.Confirm(ctx, second.ID, nil)
	require.NoError(t, err)
	busy, err := f.ledger.ActiveIntervals(ctx, provider, monday)
	require.NoError(t, err)
	require.Len(t, busy, 1)

	refused, err := f.ledger.Refuse(ctx, second.ID, nil)
	require.NoError(t, err)
	require.Equal(t, model.StatusRefused, refused.Status)
	busy, err = f.ledger.ActiveIntervals(ctx, provider, monday)
	require.NoError(t, err)
	require.Empty(t, busy)

	_, err = f.ledger.Confirm(ctx, "missing", nil)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestGuardRunsBeforeTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.ledger.Create(ctx, req(model.NewClock(10, 0), 60))
	require.NoError(t, err)

	deny := func(model.Appointment) error { return model.ErrForbidden }
	_, err = f.ledger.Confirm(ctx, appt.ID, deny)
	require.ErrorIs(t, err, model.ErrForbidden)

	got, err := f.ledger.Get(ctx, appt.ID, nil)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
}

func TestConcurrentCreateAdmitsExactlyOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = f.ledger.Create(ctx, req(model.NewClock(10, 0), 60))
		}()
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrSlotUnavailable):
			conflicts++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflicts)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.ledger.Create(ctx, req(model.NewClock(9, 0), 60))
	require.NoError(t, err)
	_, err = f.ledger.Create(ctx, req(model.NewClock(11, 0), 60))
	require.NoError(t, err)
	_, err = f.ledger.Confirm(ctx, first.ID, nil)
	require.NoError(t, err)

	start := model.NewClock(9, 30)
	moved, err := f.ledger.Reschedule(ctx, first.ID, Change{Start: &start}, nil)
	require.NoError(t, err, "overlap with its own old interval is ignored")
	require.Equal(t, start, moved.Start)
	require.Equal(t, model.StatusPending, moved.Status)

	clash := model.NewClock(10, 30)
	_, err = f.ledger.Reschedule(ctx, first.ID, Change{Start: &clash}, nil)
	require.ErrorIs(t, err, model.ErrSlotUnavailable)

	tuesday := monday.AddDate(0, 0, 1)
	_, err = f.ledger.Reschedule(ctx, first.ID, Change{Date: &tuesday}, nil)
	require.ErrorIs(t, err, model.ErrOutsideAvailability)

	_, err = f.ledger.Reschedule(ctx, first.ID, Change{ServiceID: "svc-unlinked"}, nil)
	require.ErrorIs(t, err, model.ErrServiceNotOffered)

	_, err = f.ledger.Cancel(ctx, first.ID, nil)
	require.NoError(t, err)
	_, err = f.ledger.Reschedule(ctx, first.ID, Change{Start: &start}, nil)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestUnlinkedServiceKeepsExistingAppointments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.ledger.Create(ctx, req(model.NewClock(9, 0), 60))
	require.NoError(t, err)

	f.catalog.Unlink(provider, svc)
	confirmed, err := f.ledger.Confirm(ctx, appt.ID, nil)
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, confirmed.Status)

	_, err = f.ledger.Create(ctx, req(model.NewClock(11, 0), 60))
	require.ErrorIs(t, err, model.ErrServiceNotOffered)
}

func TestListByClientOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.windows.AddWindow(ctx, provider, availability.WindowInput{Day: model.Tuesday, Start: model.NewClock(8, 0), End: model.NewClock(9, 0)})
	require.NoError(t, err)

	tue := req(model.NewClock(8, 0), 30)
	tue.Date = monday.AddDate(0, 0, 1)
	_, err = f.ledger.Create(ctx, tue)
	require.NoError(t, err)
	_, err = f.ledger.Create(ctx, req(model.NewClock(11, 0), 30))
	require.NoError(t, err)
	_, err = f.ledger.Create(ctx, req(model.NewClock(9, 0), 30))
	require.NoError(t, err)

	got, err := f.ledger.ListByClient(ctx, client)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, model.NewClock(9, 0), got[0].Start)
	require.Equal(t, model.NewClock(11, 0), got[1].Start)
	require.True(t, got[2].Date.Equal(tue.Date))
}
