package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS channel_states (
  channel_id TEXT PRIMARY KEY,
  status     TEXT NOT NULL,
  state      JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outages (
  id         TEXT PRIMARY KEY,
  channel_id TEXT NOT NULL,
  start_time TIMESTAMPTZ NOT NULL,
  end_time   TIMESTAMPTZ NULL,
  data       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outages_channel_start ON outages (channel_id, start_time DESC);

CREATE TABLE IF NOT EXISTS watch_sessions (
  id         TEXT PRIMARY KEY,
  active     BOOLEAN NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  data       JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS samples (
  id         BIGSERIAL PRIMARY KEY,
  channel_id TEXT NOT NULL,
  ts         TIMESTAMPTZ NOT NULL,
  success    BOOLEAN NOT NULL,
  latency_ms DOUBLE PRECISION NULL,
  error      TEXT NOT NULL DEFAULT '',
  details    JSONB NULL
);
CREATE INDEX IF NOT EXISTS idx_samples_channel_ts ON samples (channel_id, ts);

CREATE TABLE IF NOT EXISTS alerts (
  channel_id   TEXT PRIMARY KEY,
  last_status  TEXT NOT NULL,
  last_sent_at TIMESTAMPTZ NULL
);
`

// ---- StateStore ----

func (s *Store) GetChannelState(ctx context.Context, id domain.ChannelID) (*domain.ChannelState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM channel_states WHERE channel_id=$1`, string(id)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel state: %w", err)
	}
	var st domain.ChannelState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode channel state: %w", err)
	}
	return &st, nil
}

func (s *Store) SetChannelState(ctx context.Context, st domain.ChannelState) error {
	b, err := json.Marshal(st.Reduced(0))
	if err != nil {
		return fmt.Errorf("encode channel state: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO channel_states (channel_id, status, state, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (channel_id)
		DO UPDATE SET status=EXCLUDED.status, state=EXCLUDED.state, updated_at=now()`,
		string(st.ChannelID), string(st.Status), b)
	if err != nil {
		return fmt.Errorf("upsert channel state: %w", err)
	}
	return nil
}

func (s *Store) ListChannelStates(ctx context.Context) ([]domain.ChannelState, error) {
	rows, err := s.pool.Query(ctx, `SELECT state FROM channel_states ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list channel states: %w", err)
	}
	defer rows.Close()

	var out []domain.ChannelState
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan channel state: %w", err)
		}
		var st domain.ChannelState
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("decode channel state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) DeleteChannelState(ctx context.Context, id domain.ChannelID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM channel_states WHERE channel_id=$1`, string(id)); err != nil {
		return fmt.Errorf("delete channel state: %w", err)
	}
	return nil
}

// ---- OutageStore ----

func (s *Store) GetOutages(ctx context.Context, id domain.ChannelID, limit int) ([]domain.Outage, error) {
	q := `SELECT data FROM outages WHERE ($1 = '' OR channel_id = $1) ORDER BY start_time DESC`
	args := []any{string(id)}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get outages: %w", err)
	}
	defer rows.Close()

	var out []domain.Outage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan outage: %w", err)
		}
		var o domain.Outage
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode outage: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return repo.NewestOutages(out, limit), nil
}

func (s *Store) RecordOutage(ctx context.Context, o domain.Outage) error {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outage: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO outages (id, channel_id, start_time, end_time, data)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, string(o.ChannelID), o.StartTime, o.EndTime, b)
	if err != nil {
		return fmt.Errorf("insert outage: %w", err)
	}
	return nil
}

func (s *Store) UpdateOutage(ctx context.Context, o domain.Outage) error {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outage: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE outages SET end_time=$2, data=$3 WHERE id=$1`,
		o.ID, o.EndTime, b)
	if err != nil {
		return fmt.Errorf("update outage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- WatchStore ----

func (s *Store) GetCurrentWatchSession(ctx context.Context) (*domain.WatchSession, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM watch_sessions WHERE active ORDER BY started_at DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watch session: %w", err)
	}
	var ws domain.WatchSession
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("decode watch session: %w", err)
	}
	return &ws, nil
}

// StartWatchSession deactivates any other session in the same transaction.
func (s *Store) StartWatchSession(ctx context.Context, ws domain.WatchSession) error {
	b, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encode watch session: %w", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE watch_sessions SET active=false WHERE active AND id<>$1`, ws.ID); err != nil {
			return fmt.Errorf("deactivate watch sessions: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO watch_sessions (id, active, started_at, data)
			VALUES ($1,true,$2,$3)
			ON CONFLICT (id) DO UPDATE SET active=true, data=EXCLUDED.data`,
			ws.ID, ws.StartTime, b)
		if err != nil {
			return fmt.Errorf("insert watch session: %w", err)
		}
		return nil
	})
}

func (s *Store) EndWatchSession(ctx context.Context, ws domain.WatchSession) error {
	b, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encode watch session: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO watch_sessions (id, active, started_at, data)
		VALUES ($1,false,$2,$3)
		ON CONFLICT (id) DO UPDATE SET active=false, data=EXCLUDED.data`,
		ws.ID, ws.StartTime, b)
	if err != nil {
		return fmt.Errorf("end watch session: %w", err)
	}
	return nil
}

// ---- SampleStore ----

func (s *Store) AppendSample(ctx context.Context, id domain.ChannelID, smp domain.Sample) error {
	var details []byte
	if len(smp.Details) > 0 {
		b, err := json.Marshal(smp.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		details = b
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO samples (channel_id, ts, success, latency_ms, error, details)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		string(id), smp.Timestamp, smp.Success, smp.LatencyMS, smp.Error, details)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func (s *Store) GetSamples(ctx context.Context, id domain.ChannelID, start, end time.Time) ([]domain.Sample, error) {
	var startArg, endArg *time.Time
	if !start.IsZero() {
		startArg = &start
	}
	if !end.IsZero() {
		endArg = &end
	}
	rows, err := s.pool.Query(ctx, `
SELECT ts, success, latency_ms, error, details
  FROM samples
 WHERE channel_id = $1
   AND ($2::timestamptz IS NULL OR ts >= $2)
   AND ($3::timestamptz IS NULL OR ts <= $3)
 ORDER BY ts, id`, string(id), startArg, endArg)
	if err != nil {
		return nil, fmt.Errorf("get samples: %w", err)
	}
	defer rows.Close()

	var out []domain.Sample
	for rows.Next() {
		var (
			ts      time.Time
			success bool
			latency *float64
			errMsg  string
			raw     []byte
		)
		if err := rows.Scan(&ts, &success, &latency, &errMsg, &raw); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		var details map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		smp, err := domain.NewSample(ts, success, latency, errMsg, details)
		if err != nil {
			s.log.Warn("sample_skipped", zap.String("channel_id", string(id)), zap.Error(err))
			continue
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}
