package notifier

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/georgeminyillahmensah/license-service/pkg/taskname"
	"github.com/georgeminyillahmensah/license-service/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Notification{})
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node}), db
}

func task(t *testing.T, name string, payload map[string]string) *asynq.Task {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(name, raw)
}

func TestHandleLicenseStatusChanged(t *testing.T) {
	svc, db := newTestService(t)

	err := svc.HandleLicenseStatusChanged(context.Background(), task(t, taskname.LicenseStatusChanged, map[string]string{
		"license_id": "license-1",
		"status":     "suspended",
	}))
	require.NoError(t, err)

	var rows []*Notification
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, taskname.LicenseStatusChanged, rows[0].TaskType)
	require.Equal(t, "license-1", rows[0].LicenseID)
	require.Nil(t, rows[0].ActivationID)
	require.Equal(t, "delivered", rows[0].Status)
}

func TestHandleActivationTasks(t *testing.T) {
	svc, db := newTestService(t)

	payload := map[string]string{"activation_id": "act-1", "license_id": "license-1"}

	require.NoError(t, svc.HandleActivationCreated(context.Background(), task(t, taskname.ActivationCreated, payload)))
	require.NoError(t, svc.HandleActivationDeactivated(context.Background(), task(t, taskname.ActivationDeactivated, payload)))

	var rows []*Notification
	require.NoError(t, db.Order("created_at").Find(&rows).Error)
	require.Len(t, rows, 2)
	require.Equal(t, taskname.ActivationCreated, rows[0].TaskType)
	require.Equal(t, taskname.ActivationDeactivated, rows[1].TaskType)
	require.NotNil(t, rows[0].ActivationID)
	require.Equal(t, "act-1", *rows[0].ActivationID)
}

func TestHandlersRejectBadPayloads(t *testing.T) {
	svc, db := newTestService(t)

	err := svc.HandleLicenseStatusChanged(context.Background(), asynq.NewTask(taskname.LicenseStatusChanged, []byte("not-json")))
	require.Error(t, err)

	err = svc.HandleLicenseStatusChanged(context.Background(), task(t, taskname.LicenseStatusChanged, map[string]string{"status": "valid"}))
	require.Error(t, err)

	err = svc.HandleActivationCreated(context.Background(), task(t, taskname.ActivationCreated, map[string]string{"license_id": "license-1"}))
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&Notification{}).Count(&count).Error)
	require.Equal(t, int64(0), count)
}
