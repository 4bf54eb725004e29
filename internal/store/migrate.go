package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations

	"github.com/coachpo/litebridge/db/migrations"
	"github.com/coachpo/litebridge/errs"
	"github.com/coachpo/litebridge/internal/observability"
)

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(ctx context.Context, dsn string, log observability.Logger) error {
	if log == nil {
		log = observability.NopLogger()
	}

	source, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return errs.New("store/migrate", errs.CodeUnavailable,
			errs.WithMessage("open migration source"), errs.WithCause(err))
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errs.New("store/migrate", errs.CodeUnavailable,
			errs.WithMessage("open migration connection"), errs.WithCause(err))
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Warn("migration connection close", observability.F("error", cerr.Error()))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return errs.New("store/migrate", errs.CodeUnavailable,
			errs.WithMessage("ping migration database"), errs.WithCause(err))
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return errs.New("store/migrate", errs.CodeUnavailable,
			errs.WithMessage("initialise migration driver"), errs.WithCause(err))
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return errs.New("store/migrate", errs.CodeUnavailable,
			errs.WithMessage("initialise migrate instance"), errs.WithCause(err))
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			log.Warn("migration source close", observability.F("error", sourceErr.Error()))
		}
		if dbErr != nil {
			log.Warn("migration db close", observability.F("error", dbErr.Error()))
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("database schema up to date")
			return nil
		}
		return errs.New("store/migrate", errs.CodeUnavailable,
			errs.WithMessage("apply migrations"), errs.WithCause(err))
	}
	log.Info("database migrations applied")
	return nil
}
