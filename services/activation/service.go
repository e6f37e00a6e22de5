package activation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/georgeminyillahmensah/license-service/pkg/db/option"
	"github.com/georgeminyillahmensah/license-service/pkg/errutil"
	"github.com/georgeminyillahmensah/license-service/pkg/repository"
	"github.com/georgeminyillahmensah/license-service/pkg/sequence"
	"github.com/georgeminyillahmensah/license-service/pkg/task"
	"github.com/georgeminyillahmensah/license-service/pkg/taskname"
	"github.com/georgeminyillahmensah/license-service/services/catalog"
	"github.com/georgeminyillahmensah/license-service/services/license"
)

// errDuplicatePair signals the partial unique index fired under a concurrent
// activation of the same (license, instance) pair.
var errDuplicatePair = errors.New("activation pair already active")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	activations repository.Repository[Activation]
	licenses    repository.Repository[license.License]
	keys        repository.Repository[license.LicenseKey]
	products    repository.Repository[catalog.Product]
	events      repository.Repository[license.Event]

	sequence sequence.Generator
	enqueuer task.Enqueuer
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Sequence sequence.Generator `optional:"true"`
	Enqueuer task.Enqueuer      `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		activations: repository.ProvideStore[Activation](p.DB),
		licenses:    repository.ProvideStore[license.License](p.DB),
		keys:        repository.ProvideStore[license.LicenseKey](p.DB),
		products:    repository.ProvideStore[catalog.Product](p.DB),
		events:      repository.ProvideStore[license.Event](p.DB),

		sequence: p.Sequence,
		enqueuer: p.Enqueuer,
	}
}

type ActivateRequest struct {
	LicenseKey         string `json:"license_key" binding:"required"`
	ProductSlug        string `json:"product_slug" binding:"required"`
	InstanceIdentifier string `json:"instance_identifier" binding:"required"`
	InstanceType       string `json:"instance_type"`
	Actor              string `json:"actor"`
}

type ActivateResponse struct {
	Activation     *Activation `json:"activation"`
	AlreadyActive  bool        `json:"already_active"`
	AvailableSeats int         `json:"available_seats"`
}

// Activate consumes one seat for the instance, or returns the existing
// activation when the instance already holds one. The license row is locked
// for the seat check and the insert so concurrent activations serialize and
// the seat limit holds.
func (s *Service) Activate(ctx context.Context, req *ActivateRequest) (*ActivateResponse, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("instance_identifier", req.InstanceIdentifier),
	)

	key, err := s.keys.FindOne(ctx, &license.LicenseKey{Key: req.LicenseKey, IsActive: true})
	if err != nil {
		zapLog.Error("failed query get license key", zap.Error(err))
		return nil, errutil.Internal("failed to resolve license key", err)
	}
	if key == nil {
		return nil, errutil.NotFound("license key not found", nil)
	}

	product, err := s.products.FindOne(ctx, &catalog.Product{BrandID: key.BrandID, Slug: req.ProductSlug, IsActive: true})
	if err != nil {
		zapLog.Error("failed query get product by slug", zap.Error(err))
		return nil, errutil.Internal("failed to resolve product", err)
	}
	if product == nil {
		return nil, errutil.NotFound("product not found", nil)
	}

	now := time.Now()
	resp := &ActivateResponse{}
	var chosen *license.License

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		licenses := s.licenses.WithTrx(tx)
		activations := s.activations.WithTrx(tx)

		candidates, err := licenses.Find(ctx, &license.License{LicenseKeyID: key.ID, ProductID: product.ID},
			option.WithLockingUpdate(),
			option.WithSortBy(option.QuerySortBy{
				SortBy:  "created_at",
				OrderBy: "desc",
				Allow:   map[string]bool{"created_at": true},
			}),
		)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return errutil.NotFound("no license for this product", nil)
		}

		var lic *license.License
		for _, candidate := range candidates {
			if candidate.Entitled(now) {
				lic = candidate
				break
			}
		}
		if lic == nil {
			return &NotEntitledError{
				LicenseID: candidates[0].ID,
				Current:   candidates[0].EffectiveStatus(now),
			}
		}
		chosen = lic

		existing, err := activations.FindOne(ctx, &Activation{
			LicenseID:          lic.ID,
			InstanceIdentifier: req.InstanceIdentifier,
			IsActive:           true,
		})
		if err != nil {
			return err
		}
		if existing != nil {
			available, err := s.availableSeats(ctx, tx, lic)
			if err != nil {
				return err
			}
			resp.Activation = existing
			resp.AlreadyActive = true
			resp.AvailableSeats = available
			return nil
		}

		available, err := s.availableSeats(ctx, tx, lic)
		if err != nil {
			return err
		}
		if available <= 0 {
			return &SeatsExhaustedError{LicenseID: lic.ID, Seats: lic.Seats}
		}

		act := &Activation{
			ID:                 s.node.Generate().String(),
			LicenseID:          lic.ID,
			InstanceIdentifier: req.InstanceIdentifier,
			InstanceType:       req.InstanceType,
			IsActive:           true,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := activations.Create(ctx, act); err != nil {
			if isUniqueViolation(err) {
				return errDuplicatePair
			}
			return err
		}

		resp.Activation = act
		resp.AvailableSeats = available - 1

		return s.appendEvent(ctx, tx, lic.ID, &act.ID, license.OpActivate, "", req.Actor, map[string]any{
			"instance_identifier": req.InstanceIdentifier,
			"instance_type":       req.InstanceType,
		})
	})
	if err != nil {
		// a racing activation of the same pair won; return its row
		if errors.Is(err, errDuplicatePair) {
			existing, findErr := s.activations.FindOne(ctx, &Activation{
				LicenseID:          chosen.ID,
				InstanceIdentifier: req.InstanceIdentifier,
				IsActive:           true,
			})
			if findErr == nil && existing != nil {
				available, seatErr := s.availableSeats(ctx, nil, chosen)
				if seatErr != nil {
					return nil, seatErr
				}
				return &ActivateResponse{Activation: existing, AlreadyActive: true, AvailableSeats: available}, nil
			}
			return nil, errutil.Internal("failed to activate license", err)
		}

		var coded errutil.StatusCoder
		if errors.As(err, &coded) {
			return nil, err
		}

		zapLog.Error("failed to activate license", zap.Error(err))
		return nil, errutil.Internal("failed to activate license", err)
	}

	if !resp.AlreadyActive {
		s.notify(taskname.ActivationCreated, resp.Activation)
		zapLog.Info("activation created",
			zap.String("activation_id", resp.Activation.ID),
			zap.String("license_id", resp.Activation.LicenseID),
			zap.Int("available_seats", resp.AvailableSeats),
		)
	}

	return resp, nil
}

type DeactivateRequest struct {
	ActivationID string `json:"activation_id" binding:"required"`
	Reason       string `json:"reason"`
	Actor        string `json:"actor"`
}

// Deactivate frees the seat held by the activation. Deactivating an inactive
// activation fails with AlreadyInactiveError rather than succeeding silently.
func (s *Service) Deactivate(ctx context.Context, req *DeactivateRequest) (*Activation, error) {
	var result *Activation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.deactivateOne(ctx, tx, req.ActivationID, req.Reason, req.Actor, "")
		return err
	})
	if err != nil {
		var coded errutil.StatusCoder
		if errors.As(err, &coded) {
			return nil, err
		}
		zap.L().Error("failed to deactivate activation", zap.String("activation_id", req.ActivationID), zap.Error(err))
		return nil, errutil.Internal("failed to deactivate activation", err)
	}

	s.notify(taskname.ActivationDeactivated, result)

	return result, nil
}

type BulkDeactivateRequest struct {
	ActivationIDs []string `json:"activation_ids" binding:"required"`
	Reason        string   `json:"reason"`
	CustomerEmail string   `json:"customer_email"`
	Actor         string   `json:"actor"`
}

type BulkDeactivateError struct {
	ActivationID string `json:"activation_id"`
	Message      string `json:"message"`
}

type BulkDeactivateResponse struct {
	Deactivated int                   `json:"deactivated"`
	Errors      []BulkDeactivateError `json:"errors,omitempty"`
	Reference   string                `json:"reference,omitempty"`
}

// BulkDeactivate processes every id independently. Failures are collected per
// id and never abort the remainder of the batch.
func (s *Service) BulkDeactivate(ctx context.Context, req *BulkDeactivateRequest) (*BulkDeactivateResponse, error) {
	if len(req.ActivationIDs) == 0 {
		return nil, errutil.ValidationFailed("activation_ids must not be empty", nil)
	}

	resp := &BulkDeactivateResponse{Reference: s.mintBatchCode(ctx)}

	for _, id := range req.ActivationIDs {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := s.deactivateOne(ctx, tx, id, req.Reason, req.Actor, req.CustomerEmail)
			return err
		})
		if err != nil {
			resp.Errors = append(resp.Errors, BulkDeactivateError{ActivationID: id, Message: err.Error()})
			continue
		}
		resp.Deactivated++
	}

	zap.L().Info("bulk deactivation finished",
		zap.String("reference", resp.Reference),
		zap.Int("requested", len(req.ActivationIDs)),
		zap.Int("deactivated", resp.Deactivated),
		zap.Int("failed", len(resp.Errors)),
	)

	return resp, nil
}

// deactivateOne flips one activation inactive inside the caller's transaction.
// When customerEmail is set, the activation must belong to that customer.
func (s *Service) deactivateOne(ctx context.Context, tx *gorm.DB, activationID, reason, actor, customerEmail string) (*Activation, error) {
	activations := s.activations.WithTrx(tx)

	act, err := activations.FindOne(ctx, &Activation{ID: activationID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if act == nil {
		return nil, errutil.NotFound("activation not found", nil)
	}

	if customerEmail != "" {
		owned, err := s.ownedBy(ctx, tx, act, customerEmail)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, errutil.NotFound("activation not found for customer", nil)
		}
	}

	if !act.IsActive {
		return nil, &AlreadyInactiveError{ActivationID: act.ID}
	}

	now := time.Now()
	updates := map[string]any{
		"is_active":           false,
		"deactivated_at":      now,
		"deactivation_reason": reason,
		"updated_at":          now,
	}
	if err := activations.Update(ctx, act.ID, updates); err != nil {
		return nil, err
	}

	act.IsActive = false
	act.DeactivatedAt = &now
	act.DeactivationReason = reason
	act.UpdatedAt = now

	if err := s.appendEvent(ctx, tx, act.LicenseID, &act.ID, license.OpDeactivate, reason, actor, nil); err != nil {
		return nil, err
	}

	return act, nil
}

func (s *Service) ownedBy(ctx context.Context, tx *gorm.DB, act *Activation, customerEmail string) (bool, error) {
	lic, err := s.licenses.WithTrx(tx).FindOne(ctx, &license.License{ID: act.LicenseID})
	if err != nil || lic == nil {
		return false, err
	}

	key, err := s.keys.WithTrx(tx).FindOne(ctx, &license.LicenseKey{ID: lic.LicenseKeyID})
	if err != nil || key == nil {
		return false, err
	}

	return strings.EqualFold(key.CustomerEmail, customerEmail), nil
}

func (s *Service) appendEvent(ctx context.Context, tx *gorm.DB, licenseID string, activationID *string, operation, reason, actor string, payload map[string]any) error {
	event := &license.Event{
		ID:           s.node.Generate().String(),
		CreatedAt:    time.Now(),
		LicenseID:    licenseID,
		ActivationID: activationID,
		Operation:    operation,
		Reason:       reason,
		Actor:        actor,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		event.Payload = datatypes.JSON(raw)
	}
	return s.events.WithTrx(tx).Create(ctx, event)
}

func (s *Service) notify(name string, act *Activation) {
	if s.enqueuer == nil {
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"activation_id": act.ID,
		"license_id":    act.LicenseID,
	})

	if _, err := s.enqueuer.Enqueue(asynq.NewTask(name, payload)); err != nil {
		zap.L().Error("failed to enqueue activation notification",
			zap.String("task_type", name),
			zap.String("activation_id", act.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) mintBatchCode(ctx context.Context) string {
	if s.sequence == nil {
		return ""
	}
	code, err := s.sequence.NextDeactivationBatchCode(ctx)
	if err != nil {
		zap.L().Warn("failed to mint deactivation batch reference", zap.Error(err))
		return ""
	}
	return code
}

// isUniqueViolation detects the partial unique index firing on postgres
// (lib/pq code 23505) and on the sqlite driver used in tests.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
