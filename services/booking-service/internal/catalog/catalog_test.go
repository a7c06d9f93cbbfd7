package catalog

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const (
	provA      = "6f1c3a52-4a0e-4d4b-9a51-0d7c9e2b1a01"
	svcA       = "0b6d2f3e-8c1a-4e7f-b2d4-5a9c8e7f6a02"
	svcB       = "0b6d2f3e-8c1a-4e7f-b2d4-5a9c8e7f6a03"
	svcNone    = "0b6d2f3e-8c1a-4e7f-b2d4-5a9c8e7f6a04"
	svcMissing = "0b6d2f3e-8c1a-4e7f-b2d4-5a9c8e7f6a05"
)

func TestRepositoryServicesOfferedBy(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT service_id\\s+FROM provider_services").
		WithArgs(provA).
		WillReturnRows(pgxmock.NewRows([]string{"service_id"}).AddRow(svcA).AddRow(svcB))

	ids, err := NewRepository(mock).ServicesOfferedBy(context.Background(), provA)
	if err != nil {
		t.Fatalf("ServicesOfferedBy: %v", err)
	}
	if !slices.Equal(ids, []string{svcA, svcB}) {
		t.Fatalf("unexpected ids %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRepositoryServiceDuration(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT COALESCE\\(duration_minutes, 0\\) FROM services").
		WithArgs(svcA).
		WillReturnRows(pgxmock.NewRows([]string{"duration_minutes"}).AddRow(int32(45)))
	mock.ExpectQuery("SELECT COALESCE\\(duration_minutes, 0\\) FROM services").
		WithArgs(svcNone).
		WillReturnRows(pgxmock.NewRows([]string{"duration_minutes"}).AddRow(int32(0)))
	mock.ExpectQuery("SELECT COALESCE\\(duration_minutes, 0\\) FROM services").
		WithArgs(svcMissing).
		WillReturnRows(pgxmock.NewRows([]string{"duration_minutes"}))

	repo := NewRepository(mock)
	ctx := context.Background()

	minutes, ok, err := repo.ServiceDuration(ctx, svcA)
	if err != nil || !ok || minutes != 45 {
		t.Fatalf("expected 45 minutes, got %d ok=%v err=%v", minutes, ok, err)
	}
	if _, ok, err := repo.ServiceDuration(ctx, svcNone); err != nil || ok {
		t.Fatalf("expected no canonical duration, got ok=%v err=%v", ok, err)
	}
	if _, _, err := repo.ServiceDuration(ctx, svcMissing); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRepositoryWrapsInfrastructureErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT service_id").WithArgs(provA).WillReturnError(errors.New("conn reset"))

	_, err = NewRepository(mock).ServicesOfferedBy(context.Background(), provA)
	if !errors.Is(err, model.ErrInfrastructure) {
		t.Fatalf("expected ErrInfrastructure, got %v", err)
	}
}

func TestRepositoryMalformedIDsAreDomainErrors(t *testing.T) {
	repo := NewRepository(nil)
	ctx := context.Background()

	ids, err := repo.ServicesOfferedBy(ctx, "abc")
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no offerings, got %v err=%v", ids, err)
	}
	offered, err := Offers(ctx, repo, "abc", svcA)
	if err != nil || offered {
		t.Fatalf("expected not offered, got %v err=%v", offered, err)
	}
	_, _, err = repo.ServiceDuration(ctx, "svc'; --")
	if !errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInfrastructure) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type countingCatalog struct {
	*Static
	offeringCalls int
	durationCalls int
}

func (c *countingCatalog) ServicesOfferedBy(ctx context.Context, providerID string) ([]string, error) {
	c.offeringCalls++
	return c.Static.ServicesOfferedBy(ctx, providerID)
}

func (c *countingCatalog) ServiceDuration(ctx context.Context, serviceID string) (int, bool, error) {
	c.durationCalls++
	return c.Static.ServiceDuration(ctx, serviceID)
}

func newTestCache(t *testing.T, next Catalog) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(next, rdb, time.Minute, nil), mr
}

func TestCacheServesOfferingsFromRedis(t *testing.T) {
	backing := &countingCatalog{Static: NewStatic().AddService("svc-a", 30).Link("prov-1", "svc-a")}
	cache, mr := newTestCache(t, backing)
	ctx := context.Background()

	for range 3 {
		ok, err := Offers(ctx, cache, "prov-1", "svc-a")
		if err != nil || !ok {
			t.Fatalf("expected prov-1 to offer svc-a, got ok=%v err=%v", ok, err)
		}
	}
	if backing.offeringCalls != 1 {
		t.Fatalf("expected one backing lookup, got %d", backing.offeringCalls)
	}
	if !mr.Exists("catalog:provider:prov-1:services") {
		t.Fatal("expected offerings to be cached")
	}

	backing.Link("prov-1", "svc-b")
	if err := cache.InvalidateProvider(ctx, "prov-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	ok, err := Offers(ctx, cache, "prov-1", "svc-b")
	if err != nil || !ok {
		t.Fatalf("expected fresh offerings after invalidation, got ok=%v err=%v", ok, err)
	}
	if backing.offeringCalls != 2 {
		t.Fatalf("expected a second backing lookup, got %d", backing.offeringCalls)
	}
}

func TestCacheDuration(t *testing.T) {
	backing := &countingCatalog{Static: NewStatic().AddService("svc-a", 45).AddService("svc-open", 0)}
	cache, _ := newTestCache(t, backing)
	ctx := context.Background()

	for range 2 {
		minutes, ok, err := cache.ServiceDuration(ctx, "svc-a")
		if err != nil || !ok || minutes != 45 {
			t.Fatalf("expected 45, got %d ok=%v err=%v", minutes, ok, err)
		}
		if _, ok, err := cache.ServiceDuration(ctx, "svc-open"); err != nil || ok {
			t.Fatalf("expected no duration, got ok=%v err=%v", ok, err)
		}
	}
	if backing.durationCalls != 2 {
		t.Fatalf("expected two backing lookups, got %d", backing.durationCalls)
	}
	if _, _, err := cache.ServiceDuration(ctx, "svc-missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCacheFallsBackWhenRedisIsDown(t *testing.T) {
	backing := &countingCatalog{Static: NewStatic().AddService("svc-a", 30).Link("prov-1", "svc-a")}
	cache, mr := newTestCache(t, backing)
	mr.Close()

	ok, err := Offers(context.Background(), cache, "prov-1", "svc-a")
	if err != nil || !ok {
		t.Fatalf("expected fallback lookup, got ok=%v err=%v", ok, err)
	}
}

func TestParseStatic(t *testing.T) {
	cat, err := ParseStatic([]string{"prov-1/svc-a/45", "prov-2/svc-a", "prov-1/svc-b"})
	if err != nil {
		t.Fatalf("ParseStatic: %v", err)
	}
	ctx := context.Background()
	if minutes, ok, _ := cat.ServiceDuration(ctx, "svc-a"); !ok || minutes != 45 {
		t.Fatalf("svc-a duration = %d, %v", minutes, ok)
	}
	if _, ok, _ := cat.ServiceDuration(ctx, "svc-b"); ok {
		t.Fatal("svc-b should have no canonical duration")
	}
	if offered, _ := Offers(ctx, cat, "prov-2", "svc-a"); !offered {
		t.Fatal("prov-2 should offer svc-a")
	}

	for _, bad := range []string{"prov-1", "prov-1/svc-a/x", "/svc-a", "a/b/0"} {
		if _, err := ParseStatic([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
