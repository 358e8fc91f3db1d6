package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vuuvv/errors"

	"gps-svr/internal/codec"
)

const shadowTTL = 24 * time.Hour

// ShadowCache mantiene en Redis el último estado conocido de cada IMEI
// (gps:shadow:<imei>), para consultas rápidas sin tocar la base.
type ShadowCache struct {
	rdb *redis.Client
	now func() time.Time
}

func NewShadowCache(ctx context.Context, addr string, db int) (*ShadowCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DB:          db,
		DialTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addr)
	}
	return &ShadowCache{rdb: rdb, now: time.Now}, nil
}

func (c *ShadowCache) Name() string { return "redis" }

func (c *ShadowCache) Close() error { return c.rdb.Close() }

func ShadowKey(imei string) string { return "gps:shadow:" + imei }

func (c *ShadowCache) Record(ctx context.Context, rec *codec.Record) error {
	if !rec.Attributable() {
		return errors.New("redis: record has no imei")
	}
	key := ShadowKey(rec.IMEIValue())
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, shadowFields(rec, c.now()))
		p.Expire(ctx, key, shadowTTL)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "redis: shadow %s", key)
	}
	return nil
}

// shadowFields only carries what the record has, so a report without a fix
// never erases the last known position.
func shadowFields(rec *codec.Record, now time.Time) map[string]any {
	f := map[string]any{
		"protocol": rec.Protocol,
		"seen":     now.Unix(),
	}
	if rec.DeviceID != nil && *rec.DeviceID != "" {
		f["device_id"] = *rec.DeviceID
	}
	if rec.Timestamp != nil {
		f["ts"] = rec.Timestamp.Unix()
	}
	putFloat(f, "lat", rec.Latitude)
	putFloat(f, "lon", rec.Longitude)
	putFloat(f, "spd", rec.Speed)
	putFloat(f, "dir", rec.Heading)
	putFloat(f, "alt", rec.Altitude)
	putFloat(f, "bat", rec.BatteryVoltage)
	if rec.Satellites != nil {
		f["sats"] = *rec.Satellites
	}
	if rec.Status != nil {
		f["st"] = *rec.Status
	}
	return f
}

func putFloat(f map[string]any, key string, v *float64) {
	if v != nil {
		f[key] = strconv.FormatFloat(*v, 'f', -1, 64)
	}
}
