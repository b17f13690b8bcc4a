package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"stationpacking/packing"
)

//go:embed schema.sql
var schema string

// PostgresStore keeps entries in two tables, one per result.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to conn and applies the schema.
func OpenPostgres(ctx context.Context, conn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to apply schema")
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Load(ctx context.Context) ([]*SATEntry, []*UNSATEntry, error) {
	var sat []*SATEntry
	rows, err := s.db.QueryContext(ctx, "SELECT id, witness FROM sat_entries ORDER BY created_at, id")
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading SAT entries")
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, nil, errors.Wrap(err, "scanning SAT entry")
		}
		var w packing.Witness
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, nil, errors.Wrapf(err, "decoding SAT entry %s", id)
		}
		sat = append(sat, &SATEntry{ID: id, Witness: w})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "loading SAT entries")
	}

	var unsat []*UNSATEntry
	rows2, err := s.db.QueryContext(ctx, "SELECT id, domains FROM unsat_entries ORDER BY created_at, id")
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading UNSAT entries")
	}
	defer rows2.Close()
	for rows2.Next() {
		var id string
		var raw []byte
		if err := rows2.Scan(&id, &raw); err != nil {
			return nil, nil, errors.Wrap(err, "scanning UNSAT entry")
		}
		var d map[packing.Station][]packing.Channel
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, nil, errors.Wrapf(err, "decoding UNSAT entry %s", id)
		}
		unsat = append(unsat, &UNSATEntry{ID: id, Domains: packing.NewDomains(d)})
	}
	if err := rows2.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "loading UNSAT entries")
	}
	return sat, unsat, nil
}

func (s *PostgresStore) AppendSAT(ctx context.Context, e *SATEntry) error {
	raw, err := json.Marshal(e.Witness)
	if err != nil {
		return errors.Wrap(err, "encoding witness")
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sat_entries (id, stations, witness) VALUES ($1, $2, $3)",
		e.ID, pq.Array(stationIDs(e.Witness.Stations())), raw)
	return errors.Wrap(err, "inserting SAT entry")
}

func (s *PostgresStore) AppendUNSAT(ctx context.Context, e *UNSATEntry) error {
	raw, err := json.Marshal(e.Domains)
	if err != nil {
		return errors.Wrap(err, "encoding domains")
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO unsat_entries (id, stations, domains) VALUES ($1, $2, $3)",
		e.ID, pq.Array(stationIDs(e.Domains.Stations())), raw)
	return errors.Wrap(err, "inserting UNSAT entry")
}

func stationIDs(stations []packing.Station) []int64 {
	out := make([]int64, len(stations))
	for i, s := range stations {
		out[i] = int64(s)
	}
	return out
}
