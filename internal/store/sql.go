package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/vuuvv/errors"
	_ "modernc.org/sqlite"

	"gps-svr/internal/codec"
)

// SQLStore keeps devices and their reports in postgres (pgx) or sqlite.
type SQLStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

// OpenSQL abre la base, verifica conexión y crea el esquema si falta.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", d.name)
	}
	if d.name == sqlite.name {
		// one writer at a time; avoids SQLITE_BUSY under concurrent sessions
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "store: ping %s", d.name)
	}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "store: create schema")
		}
	}
	return &SQLStore{db: db, d: d, now: time.Now}, nil
}

func (s *SQLStore) Name() string { return s.d.name }

func (s *SQLStore) Close() error { return s.db.Close() }

const (
	insertDevice = `INSERT INTO devices (imei, device_name, created_at) VALUES (?, ?, ?)
		ON CONFLICT (imei) DO NOTHING`
	insertReport = `INSERT INTO gps_data (
			device_imei, protocol, timestamp, latitude, longitude,
			speed, heading, altitude, satellites, hdop,
			gsm_signal, battery_voltage, status, raw_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// Record registra el dispositivo la primera vez que aparece su IMEI (sin
// pisar el nombre existente) e inserta el reporte.
func (s *SQLStore) Record(ctx context.Context, rec *codec.Record) error {
	if !rec.Attributable() {
		return errors.New("store: record has no imei")
	}
	now := s.now()
	ts := now
	if rec.Timestamp != nil {
		ts = *rec.Timestamp
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: begin")
	}
	defer tx.Rollback()

	imei := rec.IMEIValue()
	if _, err := tx.ExecContext(ctx, s.d.rebind(insertDevice), imei, rec.DeviceName(), s.d.timeArg(now)); err != nil {
		return errors.Wrapf(err, "store: upsert device %s", imei)
	}
	_, err = tx.ExecContext(ctx, s.d.rebind(insertReport),
		imei,
		rec.Protocol,
		s.d.timeArg(ts),
		nullable(rec.Latitude),
		nullable(rec.Longitude),
		nullable(rec.Speed),
		nullable(rec.Heading),
		nullable(rec.Altitude),
		nullable(rec.Satellites),
		nullable(rec.HDOP),
		nullable(rec.GSMSignal),
		nullable(rec.BatteryVoltage),
		nullable(rec.Status),
		rec.RawData,
	)
	if err != nil {
		return errors.Wrapf(err, "store: insert report %s", imei)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "store: commit")
	}
	return nil
}
