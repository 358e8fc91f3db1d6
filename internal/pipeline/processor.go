package pipeline

import (
	"encoding/json"
	"time"

	"gps-svr/internal/codec"
)

func coordsValid(lat, lon *float64) bool {
	if lat == nil || lon == nil {
		return false
	}
	if *lat == 0 && *lon == 0 {
		return false
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		return false
	}
	return true
}

func CalcFix(sats *int, lat, lon *float64) int {
	if sats != nil && *sats > 3 && coordsValid(lat, lon) {
		return 1
	}
	return 0
}

func BuildTracking(rec *codec.Record) *TrackingObject {
	tr := &TrackingObject{
		IMEI:     rec.IMEIValue(),
		Protocol: rec.Protocol,
		Lat:      rec.Latitude,
		Lon:      rec.Longitude,
		Spd:      rec.Speed,
		Crs:      rec.Heading,
		Alt:      rec.Altitude,
		Sats:     rec.Satellites,
		HDOP:     rec.HDOP,
		Batt:     rec.BatteryVoltage,
		St:       rec.Status,
		Fix:      CalcFix(rec.Satellites, rec.Latitude, rec.Longitude),
		Raw:      rec.RawData,
	}
	if rec.DeviceID != nil {
		tr.DeviceID = *rec.DeviceID
	}
	if rec.Timestamp != nil {
		tr.Datetime = rec.Timestamp.UTC().Format(time.RFC3339)
	}
	return tr
}

func Marshal(rec *codec.Record) ([]byte, error) {
	return json.Marshal(BuildTracking(rec))
}
