package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/vuuvv/errors"
)

type Device struct {
	ID         int64     `json:"id"`
	IMEI       string    `json:"imei"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Position is one stored gps_data row.
type Position struct {
	ID             int64     `json:"id"`
	DeviceIMEI     string    `json:"device_imei"`
	DeviceName     string    `json:"device_name,omitempty"`
	Protocol       string    `json:"protocol"`
	Timestamp      time.Time `json:"timestamp"`
	Latitude       *float64  `json:"latitude"`
	Longitude      *float64  `json:"longitude"`
	Speed          *float64  `json:"speed"`
	Heading        *float64  `json:"heading"`
	Altitude       *float64  `json:"altitude"`
	Satellites     *int64    `json:"satellites"`
	HDOP           *float64  `json:"hdop"`
	GSMSignal      *float64  `json:"gsm_signal"`
	BatteryVoltage *float64  `json:"battery_voltage"`
	Status         *int64    `json:"status"`
	RawData        string    `json:"raw_data"`
}

type Stats struct {
	TotalDevices int64 `json:"totalDevices"`
	TotalRecords int64 `json:"totalRecords"`
	TodayRecords int64 `json:"todayRecords"`
}

const positionCols = `g.id, g.device_imei, g.protocol, g.timestamp, g.latitude, g.longitude,
	g.speed, g.heading, g.altitude, g.satellites, g.hdop, g.gsm_signal,
	g.battery_voltage, g.status, g.raw_data`

func (s *SQLStore) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, imei, device_name, created_at FROM devices ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "store: list devices")
	}
	defer rows.Close()

	out := make([]Device, 0)
	for rows.Next() {
		var (
			d       Device
			name    sql.NullString
			created dbTime
		)
		if err := rows.Scan(&d.ID, &d.IMEI, &name, &created); err != nil {
			return nil, errors.Wrap(err, "store: scan device")
		}
		d.DeviceName = name.String
		d.CreatedAt = created.Time
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

// LatestPositions returns the newest report of every device.
func (s *SQLStore) LatestPositions(ctx context.Context) ([]Position, error) {
	q := `SELECT ` + positionCols + `, d.device_name
		FROM gps_data g JOIN devices d ON d.imei = g.device_imei
		WHERE g.id = (
			SELECT g2.id FROM gps_data g2 WHERE g2.device_imei = g.device_imei
			ORDER BY g2.timestamp DESC, g2.id DESC LIMIT 1)
		ORDER BY g.timestamp DESC, g.id DESC`
	return s.queryPositions(ctx, q, true)
}

// Positions returns located reports, newest first, optionally for one IMEI.
func (s *SQLStore) Positions(ctx context.Context, imei string, limit int) ([]Position, error) {
	q := `SELECT ` + positionCols + ` FROM gps_data g
		WHERE g.latitude IS NOT NULL AND g.longitude IS NOT NULL`
	var args []any
	if imei != "" {
		q += ` AND g.device_imei = ?`
		args = append(args, imei)
	}
	q += ` ORDER BY g.timestamp DESC, g.id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryPositions(ctx, q, false, args...)
}

func (s *SQLStore) Stats(ctx context.Context, since time.Time) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&st.TotalDevices); err != nil {
		return st, errors.Wrap(err, "store: count devices")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gps_data`).Scan(&st.TotalRecords); err != nil {
		return st, errors.Wrap(err, "store: count records")
	}
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT COUNT(*) FROM gps_data WHERE timestamp >= ?`),
		s.d.timeArg(since)).Scan(&st.TodayRecords)
	if err != nil {
		return st, errors.Wrap(err, "store: count today")
	}
	return st, nil
}

func (s *SQLStore) queryPositions(ctx context.Context, q string, withName bool, args ...any) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, errors.Wrap(err, "store: query positions")
	}
	defer rows.Close()

	out := make([]Position, 0)
	for rows.Next() {
		var (
			p                                      Position
			ts                                     dbTime
			protocol, raw, name                    sql.NullString
			lat, lon, spd, hdg, alt, hdop, gsm, bv sql.NullFloat64
			sats, status                           sql.NullInt64
		)
		dest := []any{&p.ID, &p.DeviceIMEI, &protocol, &ts, &lat, &lon,
			&spd, &hdg, &alt, &sats, &hdop, &gsm, &bv, &status, &raw}
		if withName {
			dest = append(dest, &name)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "store: scan position")
		}
		p.Protocol = protocol.String
		p.Timestamp = ts.Time
		p.RawData = raw.String
		p.DeviceName = name.String
		p.Latitude = floatPtr(lat)
		p.Longitude = floatPtr(lon)
		p.Speed = floatPtr(spd)
		p.Heading = floatPtr(hdg)
		p.Altitude = floatPtr(alt)
		p.HDOP = floatPtr(hdop)
		p.GSMSignal = floatPtr(gsm)
		p.BatteryVoltage = floatPtr(bv)
		p.Satellites = intPtr(sats)
		p.Status = intPtr(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
