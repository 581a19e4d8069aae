package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-venue-backend/internal/backup"
	"github.com/tbourn/go-venue-backend/internal/config"
	httpapi "github.com/tbourn/go-venue-backend/internal/http"
	"github.com/tbourn/go-venue-backend/internal/mail"
	"github.com/tbourn/go-venue-backend/internal/repo"
	"github.com/tbourn/go-venue-backend/internal/services"
)

// App is the assembled server: engine, database and pipeline.
type App struct {
	Engine  *gin.Engine
	DB      *gorm.DB
	Service *services.SubmissionService
	Store   *backup.Store
}

// migrate is replaced in tests.
var migrate = repo.AutoMigrate

// newPipeline builds the submission service without any database; the
// resend tool needs nothing more.
func newPipeline(cfg config.Config) (*services.SubmissionService, *backup.Store, *mail.Dispatcher, error) {
	strategies, err := mail.StrategiesFromConfig(cfg.Mail)
	if err != nil {
		return nil, nil, nil, err
	}
	dispatcher := mail.NewDispatcher(cfg.Mail.AttemptTimeout, strategies...)
	store := backup.New(cfg.SubmissionsDir)
	svc := services.NewSubmissionService(store, dispatcher, mail.Addressing{
		From:     cfg.Mail.From,
		FromName: cfg.Mail.FromName,
		To:       cfg.Mail.To,
	})
	return svc, store, dispatcher, nil
}

// NewApp opens the idempotency database, drops expired keys, and wires the
// pipeline into a Gin engine.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	lg := zerolog.Ctx(ctx)

	svc, store, dispatcher, err := newPipeline(cfg)
	if err != nil {
		return nil, fmt.Errorf("mail: %w", err)
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", cfg.DBPath, err)
	}
	if err := migrate(db); err != nil {
		_ = (&App{DB: db}).Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if n, err := repo.PurgeExpiredIdempotency(ctx, db, time.Now()); err != nil {
		lg.Warn().Err(err).Msg("idempotency purge failed")
	} else if n > 0 {
		lg.Info().Int64("purged", n).Msg("expired idempotency keys removed")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, svc, cfg)

	lg.Info().
		Strs("strategies", dispatcher.Strategies()).
		Str("submissions_dir", store.Dir()).
		Str("api_base", cfg.APIBasePath).
		Msg("application ready")

	return &App{Engine: r, DB: db, Service: svc, Store: store}, nil
}

// Close releases the database.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
