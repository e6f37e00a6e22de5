package license

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/georgeminyillahmensah/license-service/pkg/db/option"
	"github.com/georgeminyillahmensah/license-service/pkg/errutil"
	"github.com/georgeminyillahmensah/license-service/pkg/keygen"
	"github.com/georgeminyillahmensah/license-service/pkg/repository"
	"github.com/georgeminyillahmensah/license-service/pkg/sequence"
	"github.com/georgeminyillahmensah/license-service/pkg/task"
	"github.com/georgeminyillahmensah/license-service/pkg/taskname"
	"github.com/georgeminyillahmensah/license-service/services/catalog"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	keys     repository.Repository[LicenseKey]
	licenses repository.Repository[License]
	events   repository.Repository[Event]
	brands   repository.Repository[catalog.Brand]
	products repository.Repository[catalog.Product]

	keygen   keygen.Generator
	sequence sequence.Generator
	enqueuer task.Enqueuer
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Keygen   keygen.Generator
	Sequence sequence.Generator `optional:"true"`
	Enqueuer task.Enqueuer      `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		keys:     repository.ProvideStore[LicenseKey](p.DB),
		licenses: repository.ProvideStore[License](p.DB),
		events:   repository.ProvideStore[Event](p.DB),
		brands:   repository.ProvideStore[catalog.Brand](p.DB),
		products: repository.ProvideStore[catalog.Product](p.DB),

		keygen:   p.Keygen,
		sequence: p.Sequence,
		enqueuer: p.Enqueuer,
	}
}

type ProvisionRequest struct {
	CustomerEmail  string    `json:"customer_email" binding:"required,email"`
	BrandID        string    `json:"brand_id" binding:"required"`
	ProductID      string    `json:"product_id" binding:"required"`
	Seats          int       `json:"seats"`
	ExpirationDate time.Time `json:"expiration_date" binding:"required"`
	Actor          string    `json:"actor"`
}

type ProvisionResponse struct {
	LicenseKey *LicenseKey `json:"license_key"`
	License    *License    `json:"license"`
	Reference  string      `json:"reference,omitempty"`
}

// Provision gets or creates the license key for (customer, brand) and issues a
// license for the product under it.
func (s *Service) Provision(ctx context.Context, req *ProvisionRequest) (*ProvisionResponse, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	seats := req.Seats
	if seats == 0 {
		seats = 1
	}
	if seats < 1 {
		return nil, errutil.ValidationFailed("seats must be at least 1", nil)
	}
	if !req.ExpirationDate.After(time.Now()) {
		return nil, errutil.ValidationFailed("expiration_date must be in the future", nil)
	}

	brand, err := s.brands.FindOne(ctx, &catalog.Brand{ID: req.BrandID})
	if err != nil {
		zapLog.Error("failed query get brand by id", zap.Error(err))
		return nil, errutil.Internal("failed to resolve brand", err)
	}
	if brand == nil || !brand.IsActive {
		return nil, errutil.NotFound("brand not found or inactive", nil)
	}

	product, err := s.products.FindOne(ctx, &catalog.Product{ID: req.ProductID, BrandID: brand.ID})
	if err != nil {
		zapLog.Error("failed query get product by id", zap.Error(err))
		return nil, errutil.Internal("failed to resolve product", err)
	}
	if product == nil || !product.IsActive {
		return nil, errutil.NotFound("product not found or inactive", nil)
	}

	reference := s.mintProvisionCode(ctx, brand.Slug)

	var (
		key     *LicenseKey
		license *License
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keys := s.keys.WithTrx(tx)

		key, err = keys.FindOne(ctx, &LicenseKey{BrandID: brand.ID, CustomerEmail: req.CustomerEmail, IsActive: true})
		if err != nil {
			return err
		}

		if key == nil {
			key = &LicenseKey{
				ID:            s.node.Generate().String(),
				Key:           s.keygen.NewLicenseKey(),
				BrandID:       brand.ID,
				CustomerEmail: req.CustomerEmail,
				IsActive:      true,
				CreatedAt:     time.Now(),
				UpdatedAt:     time.Now(),
			}
			if err := keys.Create(ctx, key); err != nil {
				return err
			}
		}

		license = &License{
			ID:             s.node.Generate().String(),
			LicenseKeyID:   key.ID,
			ProductID:      product.ID,
			Status:         StatusValid,
			Seats:          seats,
			ExpirationDate: req.ExpirationDate,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		if err := s.licenses.WithTrx(tx).Create(ctx, license); err != nil {
			return err
		}

		return s.appendEvent(ctx, tx, &Event{
			LicenseID: license.ID,
			Operation: OpProvision,
			Actor:     req.Actor,
		}, map[string]any{
			"reference":      reference,
			"customer_email": req.CustomerEmail,
			"product_id":     product.ID,
			"seats":          seats,
		})
	})
	if err != nil {
		zapLog.Error("failed to provision license", zap.Error(err))
		return nil, errutil.Internal("failed to provision license", err)
	}

	s.notify(taskname.LicenseProvisioned, license.ID, string(StatusValid))

	zapLog.Info("license provisioned",
		zap.String("license_id", license.ID),
		zap.String("license_key_id", key.ID),
		zap.String("reference", reference),
	)

	return &ProvisionResponse{LicenseKey: key, License: license, Reference: reference}, nil
}

func (s *Service) GetLicense(ctx context.Context, licenseID string) (*License, error) {
	license, err := s.licenses.FindOne(ctx, &License{ID: licenseID})
	if err != nil {
		return nil, errutil.Internal("failed to get license", err)
	}
	if license == nil {
		return nil, errutil.NotFound("license not found", nil)
	}
	return license, nil
}

type RenewRequest struct {
	LicenseID     string    `json:"license_id" binding:"required"`
	NewExpiration time.Time `json:"new_expiration" binding:"required"`
	Reason        string    `json:"reason"`
	Actor         string    `json:"actor"`
}

// Renew extends the license. Legal from valid or renewed, and from a license
// that has lapsed by clock as long as it was not suspended or cancelled.
func (s *Service) Renew(ctx context.Context, req *RenewRequest) (*License, error) {
	now := time.Now()
	if !req.NewExpiration.After(now) {
		return nil, errutil.ValidationFailed("new_expiration must be in the future", nil)
	}

	return s.transition(ctx, req.LicenseID, OpRenew, req.Actor, func(license *License) (map[string]any, error) {
		legal := license.Status == StatusValid || license.Status == StatusRenewed
		if !legal && license.IsExpired(now) {
			legal = license.Status != StatusSuspended && license.Status != StatusCancelled
		}
		if !legal {
			return nil, &TransitionError{Current: license.EffectiveStatus(now), Attempted: OpRenew}
		}

		updates := map[string]any{
			"status":          StatusRenewed,
			"expiration_date": req.NewExpiration,
			"renewal_count":   license.RenewalCount + 1,
			"updated_at":      now,
		}
		if license.OriginalExpiration == nil {
			updates["original_expiration"] = license.ExpirationDate
		}
		return updates, nil
	}, map[string]any{"new_expiration": req.NewExpiration, "reason": req.Reason})
}

type SuspendRequest struct {
	LicenseID string `json:"license_id" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
	Actor     string `json:"actor"`
}

func (s *Service) Suspend(ctx context.Context, req *SuspendRequest) (*License, error) {
	now := time.Now()
	return s.transition(ctx, req.LicenseID, OpSuspend, req.Actor, func(license *License) (map[string]any, error) {
		if license.Status != StatusValid && license.Status != StatusRenewed {
			return nil, &TransitionError{Current: license.EffectiveStatus(now), Attempted: OpSuspend}
		}
		return map[string]any{
			"status":            StatusSuspended,
			"suspension_reason": req.Reason,
			"suspended_at":      now,
			"updated_at":        now,
		}, nil
	}, map[string]any{"reason": req.Reason})
}

type ResumeRequest struct {
	LicenseID string `json:"license_id" binding:"required"`
	Actor     string `json:"actor"`
}

func (s *Service) Resume(ctx context.Context, req *ResumeRequest) (*License, error) {
	now := time.Now()
	return s.transition(ctx, req.LicenseID, OpResume, req.Actor, func(license *License) (map[string]any, error) {
		if license.Status != StatusSuspended {
			return nil, &TransitionError{Current: license.EffectiveStatus(now), Attempted: OpResume}
		}
		return map[string]any{
			"status":            StatusValid,
			"suspension_reason": "",
			"suspended_at":      nil,
			"updated_at":        now,
		}, nil
	}, nil)
}

type CancelRequest struct {
	LicenseID string `json:"license_id" binding:"required"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}

// Cancel is terminal. Legal from every stored status except cancelled itself.
func (s *Service) Cancel(ctx context.Context, req *CancelRequest) (*License, error) {
	now := time.Now()
	return s.transition(ctx, req.LicenseID, OpCancel, req.Actor, func(license *License) (map[string]any, error) {
		if license.Status == StatusCancelled {
			return nil, &TransitionError{Current: string(StatusCancelled), Attempted: OpCancel}
		}
		return map[string]any{
			"status":              StatusCancelled,
			"cancellation_reason": req.Reason,
			"cancelled_at":        now,
			"updated_at":          now,
		}, nil
	}, map[string]any{"reason": req.Reason})
}

// transition runs one lifecycle change: lock the license row, decide legality,
// apply the column updates and append the audit event, all in one transaction.
func (s *Service) transition(ctx context.Context, licenseID, operation, actor string, decide func(*License) (map[string]any, error), payload map[string]any) (*License, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("license_id", licenseID),
		zap.String("operation", operation),
	)

	var result *License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		licenses := s.licenses.WithTrx(tx)

		license, err := licenses.FindOne(ctx, &License{ID: licenseID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if license == nil {
			return errutil.NotFound("license not found", nil)
		}

		updates, err := decide(license)
		if err != nil {
			return err
		}

		if err := licenses.Update(ctx, license.ID, updates); err != nil {
			return err
		}

		result, err = licenses.FindOne(ctx, &License{ID: licenseID})
		if err != nil {
			return err
		}

		return s.appendEvent(ctx, tx, &Event{
			LicenseID: licenseID,
			Operation: operation,
			Actor:     actor,
		}, payload)
	})
	if err != nil {
		var transition *TransitionError
		var coded errutil.StatusCoder
		switch {
		case errors.As(err, &transition):
			zapLog.Warn("illegal license transition", zap.String("current_status", transition.Current))
			return nil, err
		case errors.As(err, &coded):
			return nil, err
		default:
			zapLog.Error("license transition failed", zap.Error(err))
			return nil, errutil.Internal("failed to update license", err)
		}
	}

	s.notify(taskname.LicenseStatusChanged, licenseID, string(result.Status))

	zapLog.Info("license status changed", zap.String("status", string(result.Status)))
	return result, nil
}

// appendEvent writes one audit row inside the caller's transaction.
func (s *Service) appendEvent(ctx context.Context, tx *gorm.DB, event *Event, payload map[string]any) error {
	event.ID = s.node.Generate().String()
	event.CreatedAt = time.Now()
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		event.Payload = datatypes.JSON(raw)
	}
	return s.events.WithTrx(tx).Create(ctx, event)
}

// notify enqueues a status-change task after commit. Best effort: enqueue
// failures are logged, never propagated to the caller.
func (s *Service) notify(name, licenseID, status string) {
	if s.enqueuer == nil {
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"license_id": licenseID,
		"status":     status,
	})

	if _, err := s.enqueuer.Enqueue(asynq.NewTask(name, payload)); err != nil {
		zap.L().Error("failed to enqueue license notification",
			zap.String("task_type", name),
			zap.String("license_id", licenseID),
			zap.Error(err),
		)
	}
}

// mintProvisionCode asks the sequence generator for a human-facing reference.
// Provisioning proceeds without one when Redis is unavailable.
func (s *Service) mintProvisionCode(ctx context.Context, brandSlug string) string {
	if s.sequence == nil {
		return ""
	}
	code, err := s.sequence.NextProvisionCode(ctx, brandSlug)
	if err != nil {
		zap.L().Warn("failed to mint provision reference", zap.Error(err))
		return ""
	}
	return code
}
