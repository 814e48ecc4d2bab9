package store

import (
	"context"
	"embed"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"busfleet/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(dsn string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "open embedded migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return errors.Wrap(err, "init migrate")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

// PostgresStore persists the fleet in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}

	s := &PostgresStore{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return errors.Wrap(s.pool.Ping(ctx), "ping database")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Reseed(ctx context.Context, stops []domain.Stop, routes []domain.Route, buses []domain.Bus) error {
	if err := checkFleet(stops, routes, buses); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin reseed")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE location_updates, buses, routes, stops RESTART IDENTITY`); err != nil {
		return errors.Wrap(err, "clear fleet")
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"stops"},
		[]string{"id", "name", "lat", "lng", "city"},
		pgx.CopyFromSlice(len(stops), func(i int) ([]any, error) {
			st := stops[i]
			return []any{st.ID, st.Name, st.Lat, st.Lng, st.City}, nil
		}),
	)
	if err != nil {
		return errors.Wrap(err, "copy stops")
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"routes"},
		[]string{"id", "name", "stop_ids", "distance_km", "estimated_duration_minutes", "city"},
		pgx.CopyFromSlice(len(routes), func(i int) ([]any, error) {
			r := routes[i]
			return []any{r.ID, r.Name, r.Stops, r.DistanceKm, r.EstimatedDurationMinutes, r.City}, nil
		}),
	)
	if err != nil {
		return errors.Wrap(err, "copy routes")
	}

	// stop_ids is an array column, so referential integrity is checked here
	var missing []string
	err = tx.QueryRow(ctx, `
SELECT COALESCE(array_agg(DISTINCT sid), '{}')
FROM routes r, unnest(r.stop_ids) AS sid
WHERE NOT EXISTS (SELECT 1 FROM stops s WHERE s.id = sid)`).Scan(&missing)
	if err != nil {
		return errors.Wrap(err, "verify route stops")
	}
	if len(missing) > 0 {
		return errors.Wrapf(domain.ErrNotFound, "routes reference unknown stops %v", missing)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"buses"},
		[]string{"id", "bus_number", "route_id", "capacity", "current_occupancy", "current_lat", "current_lng",
			"current_stop_index", "direction", "status", "last_updated"},
		pgx.CopyFromSlice(len(buses), func(i int) ([]any, error) {
			b := buses[i]
			return []any{b.ID, b.BusNumber, b.RouteID, b.Capacity, b.CurrentOccupancy, b.CurrentLat, b.CurrentLng,
				b.CurrentStopIndex, int16(b.Direction), string(b.Status), b.LastUpdated}, nil
		}),
	)
	if err != nil {
		return errors.Wrap(err, "copy buses")
	}

	return errors.Wrap(tx.Commit(ctx), "commit reseed")
}

func scanStop(row pgx.CollectableRow) (domain.Stop, error) {
	var st domain.Stop
	err := row.Scan(&st.ID, &st.Name, &st.Lat, &st.Lng, &st.City)
	return st, err
}

func (s *PostgresStore) ListStops(ctx context.Context) ([]domain.Stop, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, lat, lng, city FROM stops ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(err, "query stops")
	}
	stops, err := pgx.CollectRows(rows, scanStop)
	return stops, errors.Wrap(err, "scan stops")
}

func (s *PostgresStore) GetStop(ctx context.Context, id string) (domain.Stop, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, lat, lng, city FROM stops WHERE id = $1`, id)
	if err != nil {
		return domain.Stop{}, errors.Wrap(err, "query stop")
	}
	st, err := pgx.CollectExactlyOneRow(rows, scanStop)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Stop{}, errors.Wrapf(domain.ErrNotFound, "stop %q", id)
	}
	return st, errors.Wrap(err, "scan stop")
}

func (s *PostgresStore) FindStopByName(ctx context.Context, query string) (domain.Stop, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, lat, lng, city FROM stops
WHERE name ILIKE '%' || $1 || '%'
ORDER BY seq
LIMIT 1`, escapeLike(query))
	if err != nil {
		return domain.Stop{}, errors.Wrap(err, "query stop by name")
	}
	st, err := pgx.CollectExactlyOneRow(rows, scanStop)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Stop{}, errors.Wrapf(domain.ErrNotFound, "stop matching %q", query)
	}
	return st, errors.Wrap(err, "scan stop")
}

func scanRoute(row pgx.CollectableRow) (domain.Route, error) {
	var r domain.Route
	err := row.Scan(&r.ID, &r.Name, &r.Stops, &r.DistanceKm, &r.EstimatedDurationMinutes, &r.City)
	return r, err
}

func (s *PostgresStore) ListRoutes(ctx context.Context) ([]domain.Route, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, stop_ids, distance_km, estimated_duration_minutes, city
FROM routes ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(err, "query routes")
	}
	routes, err := pgx.CollectRows(rows, scanRoute)
	return routes, errors.Wrap(err, "scan routes")
}

func (s *PostgresStore) GetRoute(ctx context.Context, id string) (domain.Route, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, stop_ids, distance_km, estimated_duration_minutes, city
FROM routes WHERE id = $1`, id)
	if err != nil {
		return domain.Route{}, errors.Wrap(err, "query route")
	}
	r, err := pgx.CollectExactlyOneRow(rows, scanRoute)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Route{}, errors.Wrapf(domain.ErrNotFound, "route %q", id)
	}
	return r, errors.Wrap(err, "scan route")
}

func scanBus(row pgx.CollectableRow) (domain.Bus, error) {
	var (
		b         domain.Bus
		direction int16
		status    string
	)
	err := row.Scan(&b.ID, &b.BusNumber, &b.RouteID, &b.Capacity, &b.CurrentOccupancy, &b.CurrentLat, &b.CurrentLng,
		&b.CurrentStopIndex, &direction, &status, &b.LastUpdated)
	b.Direction = domain.Direction(direction)
	b.Status = domain.BusStatus(status)
	return b, err
}

func (s *PostgresStore) ListBuses(ctx context.Context, opts ListOptions) ([]domain.Bus, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if opts.RouteID != "" {
		args = append(args, opts.RouteID)
		where = append(where, "route_id = $"+strconv.Itoa(len(args)))
	}

	q := `SELECT id, bus_number, route_id, capacity, current_occupancy, current_lat, current_lng,
       current_stop_index, direction, status, last_updated
FROM buses`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query buses")
	}
	buses, err := pgx.CollectRows(rows, scanBus)
	return buses, errors.Wrap(err, "scan buses")
}

func (s *PostgresStore) UpdateBus(ctx context.Context, id string, pos domain.BusPosition) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE buses
SET current_lat = $1, current_lng = $2, current_stop_index = $3, direction = $4,
    current_occupancy = $5, last_updated = $6
WHERE id = $7`,
		pos.Lat, pos.Lng, pos.StopIndex, int16(pos.Direction), pos.Occupancy, pos.LastUpdated, id)
	if err != nil {
		return errors.Wrapf(err, "update bus %q", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "bus %q", id)
	}
	return nil
}

func (s *PostgresStore) AppendLocation(ctx context.Context, u domain.LocationUpdate) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO location_updates (bus_id, lat, lng, occupancy, recorded_at)
VALUES ($1, $2, $3, $4, $5)`, u.BusID, u.Lat, u.Lng, u.Occupancy, u.Timestamp)
	return errors.Wrapf(err, "append location for bus %q", u.BusID)
}

func (s *PostgresStore) CountLocations(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM location_updates`).Scan(&n)
	return n, errors.Wrap(err, "count locations")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}
