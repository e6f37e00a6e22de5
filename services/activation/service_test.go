package activation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/georgeminyillahmensah/license-service/pkg/db/option"
	"github.com/georgeminyillahmensah/license-service/pkg/errutil"
	"github.com/georgeminyillahmensah/license-service/pkg/repository"
	"github.com/georgeminyillahmensah/license-service/services/catalog"
	"github.com/georgeminyillahmensah/license-service/services/license"
	"github.com/georgeminyillahmensah/license-service/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	findOneFn func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	createFn  func(ctx context.Context, resource *T) error
	countFn   func(ctx context.Context, query *T) (int64, error)
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] { return m }

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error { return nil }

func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error { return nil }

func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, query)
	}
	return 0, nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&catalog.Brand{},
		&catalog.Product{},
		&license.LicenseKey{},
		&license.License{},
		&license.Event{},
		&Activation{},
	)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := NewService(ServiceParams{DB: db, Node: node})
	return svc, db
}

func seedLicense(t *testing.T, db *gorm.DB, status license.Status, seats int, expiration time.Time) *license.License {
	t.Helper()

	brand := &catalog.Brand{ID: "brand-1", Name: "Acme", Slug: "acme", IsActive: true}
	require.NoError(t, db.Create(brand).Error)

	product := &catalog.Product{ID: "product-1", BrandID: brand.ID, Name: "Widget Pro", Slug: "widget-pro", IsActive: true}
	require.NoError(t, db.Create(product).Error)

	key := &license.LicenseKey{ID: "key-1", Key: "opaque-key", BrandID: brand.ID, CustomerEmail: "buyer@example.com", IsActive: true}
	require.NoError(t, db.Create(key).Error)

	lic := &license.License{
		ID:             "license-1",
		LicenseKeyID:   key.ID,
		ProductID:      product.ID,
		Status:         status,
		Seats:          seats,
		ExpirationDate: expiration,
	}
	require.NoError(t, db.Create(lic).Error)

	return lic
}

func activateReq(instance string) *ActivateRequest {
	return &ActivateRequest{
		LicenseKey:         "opaque-key",
		ProductSlug:        "widget-pro",
		InstanceIdentifier: instance,
		InstanceType:       "machine",
	}
}

func TestActivateConsumesSeat(t *testing.T) {
	svc, db := newTestService(t)
	seedLicense(t, db, license.StatusValid, 2, time.Now().Add(24*time.Hour))

	resp, err := svc.Activate(context.Background(), activateReq("host-a"))
	require.NoError(t, err)
	require.False(t, resp.AlreadyActive)
	require.True(t, resp.Activation.IsActive)
	require.Equal(t, 1, resp.AvailableSeats)

	var events []*license.Event
	require.NoError(t, db.Where(&license.Event{LicenseID: "license-1"}).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, license.OpActivate, events[0].Operation)
	require.NotNil(t, events[0].ActivationID)
	require.Equal(t, resp.Activation.ID, *events[0].ActivationID)
}

func TestActivateIdempotentPerInstance(t *testing.T) {
	svc, db := newTestService(t)
	seedLicense(t, db, license.StatusValid, 2, time.Now().Add(24*time.Hour))

	first, err := svc.Activate(context.Background(), activateReq("host-a"))
	require.NoError(t, err)

	second, err := svc.Activate(context.Background(), activateReq("host-a"))
	require.NoError(t, err)
	require.True(t, second.AlreadyActive)
	require.Equal(t, first.Activation.ID, second.Activation.ID)

	// the repeat consumed no seat and wrote no event
	available, err := svc.AvailableSeats(context.Background(), "license-1")
	require.NoError(t, err)
	require.Equal(t, 1, available)

	var count int64
	require.NoError(t, db.Model(&license.Event{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestActivateNotEntitled(t *testing.T) {
	cases := []struct {
		name       string
		status     license.Status
		expiration time.Time
		current    string
	}{
		{name: "suspended", status: license.StatusSuspended, expiration: time.Now().Add(24 * time.Hour), current: "suspended"},
		{name: "cancelled", status: license.StatusCancelled, expiration: time.Now().Add(24 * time.Hour), current: "cancelled"},
		{name: "pending", status: license.StatusPending, expiration: time.Now().Add(24 * time.Hour), current: "pending"},
		{name: "expired", status: license.StatusValid, expiration: time.Now().Add(-time.Hour), current: "expired"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, db := newTestService(t)
			seedLicense(t, db, tc.status, 2, tc.expiration)

			_, err := svc.Activate(context.Background(), activateReq("host-a"))
			require.Error(t, err)

			var notEntitled *NotEntitledError
			require.True(t, errors.As(err, &notEntitled))
			require.Equal(t, tc.current, notEntitled.Current)
		})
	}
}

func TestActivateSeatsExhausted(t *testing.T) {
	svc, db := newTestService(t)
	seedLicense(t, db, license.StatusValid, 1, time.Now().Add(24*time.Hour))

	_, err := svc.Activate(context.Background(), activateReq("host-a"))
	require.NoError(t, err)

	_, err = svc.Activate(context.Background(), activateReq("host-b"))
	require.Error(t, err)

	var exhausted *SeatsExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, "license-1", exhausted.LicenseID)
	require.Equal(t, 1, exhausted.Seats)
}

func TestActivateUnknownKey(t *testing.T) {
	svc, db := newTestService(t)
	seedLicense(t, db, license.StatusValid, 1, time.Now().Add(24*time.Hour))

	_, err := svc.Activate(context.Background(), &ActivateRequest{
		LicenseKey:         "wrong-key",
		ProductSlug:        "widget-pro",
		InstanceIdentifier: "host-a",
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestDeactivateFreesSeat(t *testing.T) {
	svc, db := newTestService(t)
	seedLicense(t, db, license.StatusValid, 1, time.Now().Add(24*time.Hour))

	resp, err := svc.Activate(context.Background(), activateReq("host-a"))
	require.NoError(t, err)

	act, err := svc.Deactivate(context.Background(), &DeactivateRequest{
		ActivationID: resp.Activation.ID,
		Reason:       "machine retired",
	})
	require.NoError(t, err)
	require.False(t, act.IsActive)
	require.Equal(t, "machine retired", act.DeactivationReason)
	require.NotNil(t, act.DeactivatedAt)

	available, err := svc.AvailableSeats(context.Background(), "license-1")
	require.NoError(t, err)
	require.Equal(t, 1, available)

	// repeat deactivation is a deterministic failure
	_, err = svc.Deactivate(context.Background(), &DeactivateRequest{ActivationID: resp.Activation.ID})
	require.Error(t, err)

	var inactive *AlreadyInactiveError
	require.True(t, errors.As(err, &inactive))
	require.Equal(t, resp.Activation.ID, inactive.ActivationID)
}

func TestReactivateAfterDeactivateKeepsHistory(t *testing.T) {
	svc, db := newTestService(t)
	seedLicense(t, db, license.StatusValid, 1, time.Now().Add(24*time.Hour))

	first, err := svc.Activate(context.Background(), activateReq("host-a"))
	require.NoError(t, err)

	_, err = svc.Deactivate(context.Background(), &DeactivateRequest{ActivationID: first.Activation.ID})
	require.NoError(t, err)

	second, err := svc.Activate(context.Background(), activateReq("host-a"))
	require.NoError(t, err)
	require.False(t, second.AlreadyActive)
	require.NotEqual(t, first.Activation.ID, second.Activation.ID)

	var rows int64
	require.NoError(t, db.Model(&Activation{}).Where("instance_identifier = ?", "host-a").Count(&rows).Error)
	require.Equal(t, int64(2), rows)
}

func TestBulkDeactivateCollectsErrors(t *testing.T) {
	svc, db := newTestService(t)
	seedLicense(t, db, license.StatusValid, 3, time.Now().Add(24*time.Hour))

	active, err := svc.Activate(context.Background(), activateReq("host-a"))
	require.NoError(t, err)

	inactive, err := svc.Activate(context.Background(), activateReq("host-b"))
	require.NoError(t, err)
	_, err = svc.Deactivate(context.Background(), &DeactivateRequest{ActivationID: inactive.Activation.ID})
	require.NoError(t, err)

	resp, err := svc.BulkDeactivate(context.Background(), &BulkDeactivateRequest{
		ActivationIDs: []string{active.Activation.ID, inactive.Activation.ID, "missing"},
		Reason:        "fleet decommissioned",
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Deactivated)
	require.Len(t, resp.Errors, 2)
	require.Equal(t, inactive.Activation.ID, resp.Errors[0].ActivationID)
	require.Equal(t, "missing", resp.Errors[1].ActivationID)
}

func TestBulkDeactivateScopedToCustomer(t *testing.T) {
	svc, db := newTestService(t)
	seedLicense(t, db, license.StatusValid, 2, time.Now().Add(24*time.Hour))

	resp, err := svc.Activate(context.Background(), activateReq("host-a"))
	require.NoError(t, err)

	out, err := svc.BulkDeactivate(context.Background(), &BulkDeactivateRequest{
		ActivationIDs: []string{resp.Activation.ID},
		CustomerEmail: "someone-else@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, 0, out.Deactivated)
	require.Len(t, out.Errors, 1)

	// the activation is untouched
	var stored Activation
	require.NoError(t, db.First(&stored, "id = ?", resp.Activation.ID).Error)
	require.True(t, stored.IsActive)
}

func TestAvailableSeatsNeverNegative(t *testing.T) {
	svc, db := newTestService(t)
	seedLicense(t, db, license.StatusValid, 1, time.Now().Add(24*time.Hour))

	// two active rows against a single seat, as if the limit was lowered
	for i := 0; i < 2; i++ {
		require.NoError(t, db.Create(&Activation{
			ID:                 fmt.Sprintf("act-%d", i),
			LicenseID:          "license-1",
			InstanceIdentifier: fmt.Sprintf("host-%d", i),
			IsActive:           true,
		}).Error)
	}

	available, err := svc.AvailableSeats(context.Background(), "license-1")
	require.NoError(t, err)
	require.Equal(t, 0, available)
}

func TestActivateLostRaceReturnsWinnerRow(t *testing.T) {
	svc, db := newTestService(t)
	seedLicense(t, db, license.StatusValid, 2, time.Now().Add(24*time.Hour))

	winner := &Activation{
		ID:                 "winner",
		LicenseID:          "license-1",
		InstanceIdentifier: "host-a",
		IsActive:           true,
	}

	var created bool
	var lastQuery *Activation
	svc.activations = &repoMock[Activation]{
		findOneFn: func(ctx context.Context, query *Activation, opts ...option.QueryOption) (*Activation, error) {
			lastQuery = query
			if created {
				return winner, nil
			}
			return nil, nil
		},
		createFn: func(ctx context.Context, resource *Activation) error {
			created = true
			return fmt.Errorf("UNIQUE constraint failed: activations.license_id, activations.instance_identifier")
		},
		countFn: func(ctx context.Context, query *Activation) (int64, error) {
			return 1, nil
		},
	}

	resp, err := svc.Activate(context.Background(), activateReq("host-a"))
	require.NoError(t, err)
	require.True(t, resp.AlreadyActive)
	require.Equal(t, "winner", resp.Activation.ID)
	require.Equal(t, 1, resp.AvailableSeats)

	// the fallback lookup is scoped to the license that was resolved
	require.NotNil(t, lastQuery)
	require.Equal(t, "license-1", lastQuery.LicenseID)
	require.Equal(t, "host-a", lastQuery.InstanceIdentifier)
}

func TestConcurrentActivationsRespectSeatLimit(t *testing.T) {
	svc, db := newTestService(t)
	seedLicense(t, db, license.StatusValid, 2, time.Now().Add(24*time.Hour))

	instances := []string{"host-a", "host-b", "host-c"}

	var wg sync.WaitGroup
	results := make([]error, len(instances))
	for i, instance := range instances {
		wg.Add(1)
		go func(i int, instance string) {
			defer wg.Done()
			_, err := svc.Activate(context.Background(), activateReq(instance))
			results[i] = err
		}(i, instance)
	}
	wg.Wait()

	var succeeded, exhausted int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var seatErr *SeatsExhaustedError
		require.True(t, errors.As(err, &seatErr))
		exhausted++
	}
	require.Equal(t, 2, succeeded)
	require.Equal(t, 1, exhausted)

	var active int64
	require.NoError(t, db.Model(&Activation{}).Where("is_active = ?", true).Count(&active).Error)
	require.Equal(t, int64(2), active)
}
