package codec

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

// none marks a field a protocol does not carry.
const none = -1

// coordSentinel is what devices send when they have no fix. It is compared as
// a string on purpose: "0.0" or "0" are still reported positions.
const coordSentinel = "0.000000"

// layout is the index table of one comma separated protocol. Offsets are
// 0-based after splitting on ','.
type layout struct {
	protocol     string
	minFields    int
	deviceID     int
	deviceIDSkip int // leading chars dropped from the device id field
	imei         int
	date         int // DDMMYYYY
	clock        int // HHMMSS
	lat          int
	latHemi      int // "S" flips the sign
	lon          int
	lonHemi      int // "W" flips the sign
	speed        int
	heading      int
	altitude     int
	satellites   int
	hdop         int
	battery      int
	status       int
	statusFlag   bool // status is 1 when the field is "1", 0 otherwise
}

var (
	stsLayout = layout{
		protocol: ProtocolSTS, minFields: 6,
		deviceID: 0, deviceIDSkip: len("$STS:"), imei: 1,
		date: 4, clock: 5,
		lat: 6, latHemi: none, lon: 8, lonHemi: none,
		speed: 10, heading: 11, altitude: 12, satellites: 13,
		hdop: none, battery: 17, status: none,
	}

	dpLayout = layout{
		protocol: ProtocolDP, minFields: 12,
		deviceID: 2, imei: 6,
		date: 9, clock: 10,
		lat: 11, latHemi: 12, lon: 13, lonHemi: 14,
		speed: 15, heading: 16, altitude: 17, satellites: 18,
		hdop: 25, battery: 38, status: 7, statusFlag: true,
	}

	tmLayout = layout{
		protocol: ProtocolTM, minFields: 12,
		deviceID: 1, imei: 5,
		date: 10, clock: 11,
		lat: 12, latHemi: none, lon: 13, lonHemi: none,
		speed: 14, heading: 15, altitude: 16, satellites: none,
		hdop: none, battery: 17, status: 6,
	}
)

// fields is a split frame with bounds-safe accessors. Every accessor returns
// ok=false instead of failing so one bad field never hides the others.
type fields []string

func splitFields(text string) fields {
	return strings.Split(text, ",")
}

// at returns the raw field; empty strings count as missing.
func (f fields) at(idx int) (string, bool) {
	if idx < 0 || idx >= len(f) || f[idx] == "" {
		return "", false
	}
	return f[idx], true
}

func (f fields) str(idx int) *string {
	if idx < 0 || idx >= len(f) {
		return nil
	}
	s := f[idx]
	return &s
}

func (f fields) float(idx int) *float64 {
	s, ok := f.at(idx)
	if !ok {
		return nil
	}
	v, err := cast.ToFloat64E(s)
	if err != nil {
		return nil
	}
	return &v
}

// integer reads a decimal field the way devices pad them ("08", "3.0").
func (f fields) integer(idx int) *int {
	v := f.float(idx)
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

func (f fields) coord(idx, hemiIdx int, negative string) *float64 {
	s, ok := f.at(idx)
	if !ok || s == coordSentinel {
		return nil
	}
	v := f.float(idx)
	if v == nil {
		return nil
	}
	if h, ok := f.at(hemiIdx); ok && h == negative {
		*v = -*v
	}
	return v
}

func (f fields) timestamp(dateIdx, clockIdx int) *time.Time {
	d, ok1 := f.at(dateIdx)
	c, ok2 := f.at(clockIdx)
	if !ok1 || !ok2 || len(d) != 8 || len(c) != 6 {
		return nil
	}
	ts, err := time.ParseInLocation("02012006150405", d+c, time.UTC)
	if err != nil {
		return nil
	}
	return &ts
}

func (f fields) deviceID(idx, skip int) *string {
	s := f.str(idx)
	if s == nil {
		return nil
	}
	if skip >= len(*s) {
		empty := ""
		return &empty
	}
	id := (*s)[skip:]
	return &id
}

func (f fields) imei(idx int) *string {
	s, ok := f.at(idx)
	if !ok {
		return nil
	}
	return &s
}

func (f fields) status(l layout) *int {
	if !l.statusFlag {
		return f.integer(l.status)
	}
	s, ok := f.at(l.status)
	if !ok {
		return nil
	}
	n := 0
	if s == "1" {
		n = 1
	}
	return &n
}
