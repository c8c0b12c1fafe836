package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"ledgerback/internal/config"
	"ledgerback/internal/database"
	"ledgerback/internal/drive"
	"ledgerback/internal/encryption"
	"ledgerback/internal/engine"
	"ledgerback/internal/google"
)

// App is the application layer between the CLI and the engine. It constructs
// all dependencies from config and manages the database lifecycle on Close.
type App struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	tokens    *engine.TokenManager
	oauth     *google.Client
	encryptor engine.Encryptor
	service   *engine.Service
	scheduler *engine.Scheduler
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "backup", "restore") and tags
// every log line of the run. The caller must call Close when done.
func NewApp(cfg *config.Config, operation string) (*App, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z") + "-" + operation
	logger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	oauth := google.NewClient(google.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
	})

	tokens := engine.NewTokenManager(db, oauth, engine.RealClock{}, log)

	storage := drive.NewClient(drive.Options{
		FilePrefix: cfg.Backup.FilePrefix,
		Logger:     log,
	})

	svc := engine.NewService(tokens, storage, db, enc, db, log, engine.RealClock{},
		engine.UUIDGenerator{}, cfg.AppID, cfg.Backup.FilePrefix)

	sched := engine.NewScheduler(svc, db, engine.RealClock{}, log, engine.SchedulerOptions{
		Interval:     time.Duration(cfg.Backup.IntervalMinutes) * time.Minute,
		EarliestHour: cfg.Backup.EarliestHour,
	})

	return &App{
		cfg:       cfg,
		db:        db,
		tokens:    tokens,
		oauth:     oauth,
		encryptor: enc,
		service:   svc,
		scheduler: sched,
		logFile:   logFile,
	}, nil
}

// Service exposes the engine's operation surface.
func (a *App) Service() *engine.Service { return a.service }

// Settings exposes the scheduler flags store.
func (a *App) Settings() engine.SettingsStore { return a.db }

// Encryptor exposes the configured snapshot encryptor.
func (a *App) Encryptor() engine.Encryptor { return a.encryptor }

// AuthCodeURL returns the consent URL for the connect flow.
func (a *App) AuthCodeURL() string {
	return a.oauth.AuthCodeURL(a.cfg.Google.RedirectURI)
}

// Connect exchanges a pasted authorization code for a persistent credential.
func (a *App) Connect(ctx context.Context, code string) error {
	_, err := a.tokens.ExchangeCode(ctx, code, a.cfg.Google.RedirectURI)
	return err
}

// ConnectImplicit stores an externally obtained access token. The resulting
// credential is ephemeral: no refresh token, dead at expiry.
func (a *App) ConnectImplicit(accessToken string, expiresInSeconds int) error {
	_, err := a.tokens.ExchangeImplicit(accessToken, time.Duration(expiresInSeconds)*time.Second)
	return err
}

// Disconnect revokes and clears the stored credential.
func (a *App) Disconnect(ctx context.Context) error {
	return a.tokens.Revoke(ctx)
}

// Watch runs the backup scheduler and the credential upkeep loop until ctx is
// cancelled.
func (a *App) Watch(ctx context.Context) {
	go a.tokens.Upkeep(ctx, engine.UpkeepInterval)
	a.scheduler.Run(ctx)
}

// Close closes all resources.
func (a *App) Close() error {
	err := a.db.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
