package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/georgeminyillahmensah/license-service/internal/httpapi"
	"github.com/georgeminyillahmensah/license-service/pkg/config"
	"github.com/georgeminyillahmensah/license-service/pkg/db"
	"github.com/georgeminyillahmensah/license-service/pkg/health"
	"github.com/georgeminyillahmensah/license-service/pkg/keygen"
	"github.com/georgeminyillahmensah/license-service/pkg/logger"
	"github.com/georgeminyillahmensah/license-service/pkg/redis"
	"github.com/georgeminyillahmensah/license-service/pkg/sequence"
	"github.com/georgeminyillahmensah/license-service/pkg/server"
	"github.com/georgeminyillahmensah/license-service/pkg/task"
	"github.com/georgeminyillahmensah/license-service/services/activation"
	"github.com/georgeminyillahmensah/license-service/services/catalog"
	"github.com/georgeminyillahmensah/license-service/services/entitlement"
	"github.com/georgeminyillahmensah/license-service/services/license"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		keygen.Module,
		health.Module,
		fx.Provide(
			provideTracerProvider,
			provideSnowflakeNode,
		),
		fx.Invoke(db.Otel, db.Metric),
		catalog.Module,
		license.Module,
		activation.Module,
		entitlement.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
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

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
