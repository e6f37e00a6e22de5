package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/georgeminyillahmensah/license-service/pkg/config"
	"github.com/georgeminyillahmensah/license-service/pkg/db"
	"github.com/georgeminyillahmensah/license-service/pkg/logger"
	"github.com/georgeminyillahmensah/license-service/pkg/task"
	"github.com/georgeminyillahmensah/license-service/pkg/taskname"
	"github.com/georgeminyillahmensah/license-service/services/notifier"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		task.Server,
		fx.Provide(provideSnowflakeNode),
		notifier.Module,
		fx.Invoke(registerHandlers),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}

func registerHandlers(mux *asynq.ServeMux, svc *notifier.Service) {
	mux.HandleFunc(taskname.LicenseStatusChanged, svc.HandleLicenseStatusChanged)
	mux.HandleFunc(taskname.LicenseProvisioned, svc.HandleLicenseProvisioned)
	mux.HandleFunc(taskname.ActivationCreated, svc.HandleActivationCreated)
	mux.HandleFunc(taskname.ActivationDeactivated, svc.HandleActivationDeactivated)
}
