package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/georgeminyillahmensah/license-service/pkg/repository"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	notifications repository.Repository[Notification]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		notifications: repository.ProvideStore[Notification](p.DB),
	}
}

type statusChangedPayload struct {
	LicenseID string `json:"license_id"`
	Status    string `json:"status"`
}

type activationPayload struct {
	ActivationID string `json:"activation_id"`
	LicenseID    string `json:"license_id"`
}

func (s *Service) HandleLicenseStatusChanged(ctx context.Context, t *asynq.Task) error {
	var p statusChangedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	if p.LicenseID == "" {
		return fmt.Errorf("payload missing license_id")
	}

	return s.record(ctx, t, p.LicenseID, nil)
}

func (s *Service) HandleLicenseProvisioned(ctx context.Context, t *asynq.Task) error {
	var p statusChangedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	if p.LicenseID == "" {
		return fmt.Errorf("payload missing license_id")
	}

	return s.record(ctx, t, p.LicenseID, nil)
}

func (s *Service) HandleActivationCreated(ctx context.Context, t *asynq.Task) error {
	return s.handleActivation(ctx, t)
}

func (s *Service) HandleActivationDeactivated(ctx context.Context, t *asynq.Task) error {
	return s.handleActivation(ctx, t)
}

func (s *Service) handleActivation(ctx context.Context, t *asynq.Task) error {
	var p activationPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	if p.ActivationID == "" || p.LicenseID == "" {
		return fmt.Errorf("payload missing activation_id or license_id")
	}

	return s.record(ctx, t, p.LicenseID, &p.ActivationID)
}

// record writes the delivery ledger row. Returning an error hands the task
// back to asynq for retry.
func (s *Service) record(ctx context.Context, t *asynq.Task, licenseID string, activationID *string) error {
	notification := &Notification{
		ID:           s.node.Generate().String(),
		CreatedAt:    time.Now(),
		TaskType:     t.Type(),
		LicenseID:    licenseID,
		ActivationID: activationID,
		Status:       "delivered",
		Payload:      datatypes.JSON(t.Payload()),
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		zap.L().Error("failed to record notification",
			zap.String("task_type", t.Type()),
			zap.String("license_id", licenseID),
			zap.Error(err),
		)
		return err
	}

	zap.L().Info("notification processed",
		zap.String("task_type", t.Type()),
		zap.String("license_id", licenseID),
	)

	return nil
}
