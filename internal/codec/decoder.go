package codec

import "regexp"

// Decoder fills a record from a frame of its own protocol. Decoders never
// fail: missing or malformed fields are simply left nil.
type Decoder interface {
	Protocol() string
	Decode(text string, rec *Record)
}

type fieldDecoder struct {
	l layout
}

func (d fieldDecoder) Protocol() string { return d.l.protocol }

func (d fieldDecoder) Decode(text string, rec *Record) {
	f := splitFields(text)
	if len(f) < d.l.minFields {
		return
	}
	l := d.l
	rec.Protocol = l.protocol
	rec.DeviceID = f.deviceID(l.deviceID, l.deviceIDSkip)
	rec.IMEI = f.imei(l.imei)
	rec.Timestamp = f.timestamp(l.date, l.clock)
	rec.Latitude = f.coord(l.lat, l.latHemi, "S")
	rec.Longitude = f.coord(l.lon, l.lonHemi, "W")
	rec.Speed = f.float(l.speed)
	rec.Heading = f.float(l.heading)
	rec.Altitude = f.float(l.altitude)
	rec.Satellites = f.integer(l.satellites)
	rec.HDOP = f.float(l.hdop)
	rec.BatteryVoltage = f.float(l.battery)
	if l.status != none {
		rec.Status = f.status(l)
	}
}

// J869742082283836 ZLIV:21;
var zlivIMEI = regexp.MustCompile(`^J(\d+)`)

type zlivDecoder struct{}

func (zlivDecoder) Protocol() string { return ProtocolZLIV }

func (zlivDecoder) Decode(text string, rec *Record) {
	m := zlivIMEI.FindStringSubmatch(text)
	if m == nil {
		return
	}
	imei := m[1]
	rec.IMEI = &imei
	rec.Protocol = ProtocolZLIV
}

var (
	STS  Decoder = fieldDecoder{l: stsLayout}
	DP   Decoder = fieldDecoder{l: dpLayout}
	TM   Decoder = fieldDecoder{l: tmLayout}
	ZLIV Decoder = zlivDecoder{}
)
