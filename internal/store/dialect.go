package store

import (
	"database/sql/driver"
	"strconv"
	"strings"
	"time"

	"github.com/vuuvv/errors"
)

// sqlite keeps times as fixed width UTC text so lexical order is time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type dialect struct {
	name       string
	driverName string
	schema     []string
}

var postgres = dialect{
	name:       "postgres",
	driverName: "pgx",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id          BIGSERIAL PRIMARY KEY,
			imei        VARCHAR(32) UNIQUE NOT NULL,
			device_name VARCHAR(100),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS gps_data (
			id              BIGSERIAL PRIMARY KEY,
			device_imei     VARCHAR(32) NOT NULL REFERENCES devices(imei),
			protocol        VARCHAR(20),
			timestamp       TIMESTAMPTZ NOT NULL,
			latitude        DOUBLE PRECISION,
			longitude       DOUBLE PRECISION,
			speed           DOUBLE PRECISION,
			heading         DOUBLE PRECISION,
			altitude        DOUBLE PRECISION,
			satellites      INTEGER,
			hdop            DOUBLE PRECISION,
			gsm_signal      DOUBLE PRECISION,
			battery_voltage DOUBLE PRECISION,
			status          INTEGER,
			raw_data        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gps_data_imei_ts ON gps_data (device_imei, timestamp DESC)`,
	},
}

var sqlite = dialect{
	name:       "sqlite",
	driverName: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			imei        TEXT UNIQUE NOT NULL,
			device_name TEXT,
			created_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS gps_data (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			device_imei     TEXT NOT NULL,
			protocol        TEXT,
			timestamp       TEXT NOT NULL,
			latitude        REAL,
			longitude       REAL,
			speed           REAL,
			heading         REAL,
			altitude        REAL,
			satellites      INTEGER,
			hdop            REAL,
			gsm_signal      REAL,
			battery_voltage REAL,
			status          INTEGER,
			raw_data        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gps_data_imei_ts ON gps_data (device_imei, timestamp)`,
	},
}

func dialectFor(name string) (dialect, error) {
	switch name {
	case "postgres", "pgx":
		return postgres, nil
	case "sqlite":
		return sqlite, nil
	}
	return dialect{}, errors.Errorf("store: unknown driver %q", name)
}

// rebind rewrites '?' placeholders into $n for postgres.
func (d dialect) rebind(query string) string {
	if d.name != postgres.name {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) timeArg(t time.Time) any {
	if d.name == sqlite.name {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

// dbTime scans timestamps from either driver.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return errors.Errorf("store: cannot scan %T into time", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = ts.UTC(), true
			return nil
		}
	}
	return errors.Errorf("store: bad time value %q", s)
}

// nullable converts optional record fields into driver values.
func nullable[T float64 | int](p *T) driver.Value {
	if p == nil {
		return nil
	}
	switch v := any(*p).(type) {
	case int:
		return int64(v)
	case float64:
		return v
	}
	return nil
}
