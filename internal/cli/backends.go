package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/blobstore"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/config"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/db"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/handler"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/ledger"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/service"
)

// backends holds the storage a Protocol runs on.
type backends struct {
	journal ledger.Journal
	submit  ledger.Submitter
	pinger  handler.Pinger
	blobs   blobstore.Store
	pool    *pgxpool.Pool

	closers []func() error
}

// openBackends connects the journal, the blob store and, when database_url
// is set, the projection database.
func openBackends(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backends, error) {
	b := &backends{}
	ready := false
	defer func() {
		if !ready {
			b.Close(log)
		}
	}()

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		b.pool = pool
		b.closers = append(b.closers, func() error { pool.Close(); return nil })

		if err := db.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	var bdb *badger.DB
	if cfg.RequiresBadger() {
		var err error
		bdb, err = db.OpenBadger(db.BadgerConfig{
			Path:       cfg.Ledger.BadgerPath,
			SyncWrites: cfg.Ledger.SyncWrites,
		}, log)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, bdb.Close)
	}

	switch cfg.Ledger.Backend {
	case config.LedgerMemory:
		log.Warn().Msg("ledger: memory backend, state is lost on restart")
		b.journal = ledger.NewMemoryJournal()
	case config.LedgerBadger:
		j, err := ledger.NewBadgerJournal(bdb)
		if err != nil {
			return nil, fmt.Errorf("open badger journal: %w", err)
		}
		b.journal = j
		b.pinger = j
	case config.LedgerPostgres:
		if b.pool == nil {
			return nil, errors.New("ledger: postgres backend requires database_url")
		}
		j := ledger.NewPostgresJournal(b.pool)
		b.journal = j
		b.pinger = j
	}

	retrying := ledger.NewRetrying(b.journal, ledger.RetryConfig{
		Attempts:       cfg.Ledger.Attempts,
		Interval:       cfg.Ledger.RetryInterval,
		AttemptTimeout: cfg.Ledger.AttemptTimeout,
	}, log)
	retrying.OnFailure = func(op ledger.Operation, err error) {
		log.Error().Err(err).
			Str("kind", string(op.Kind)).
			Str("op_id", op.ID.String()).
			Msg("journal submission abandoned")
	}
	b.submit = retrying

	switch cfg.Blob.Backend {
	case config.BlobGCS:
		gcs, err := blobstore.NewGCSStore(ctx, cfg.Blob.GCSBucket, cfg.Blob.GCSPrefix, cfg.Blob.GCSCredentials)
		if err != nil {
			return nil, err
		}
		b.blobs = gcs
		b.closers = append(b.closers, gcs.Close)
	default:
		b.blobs = blobstore.NewBadgerStore(bdb)
	}

	log.Info().
		Str("ledger", cfg.Ledger.Backend).
		Str("blob", cfg.Blob.Backend).
		Bool("projection", b.pool != nil).
		Msg("backends ready")
	ready = true
	return b, nil
}

// Close releases backends in reverse order of opening.
func (b *backends) Close(log zerolog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close backend")
		}
	}
	b.closers = nil
}

func settingsFrom(cfg *config.Config) service.Settings {
	return service.Settings{
		InitialGrant:   cfg.Protocol.InitialGrant,
		VotingDuration: cfg.Protocol.VotingDuration,
		AutoOpenRounds: cfg.Protocol.AutoOpenRounds,
		Params:         cfg.Protocol.Params,
		Limits:         cfg.Market.Limits,
	}
}
