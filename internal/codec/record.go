package codec

import "time"

// Protocol tags.
const (
	ProtocolSTS     = "STS"
	ProtocolDP      = "DP"
	ProtocolTM      = "TM"
	ProtocolZLIV    = "ZLIV"
	ProtocolUnknown = "unknown"
)

// Record es el reporte normalizado de un dispositivo. Todos los campos de
// telemetría son opcionales: nil significa que el equipo no lo reportó o que
// no se pudo convertir.
type Record struct {
	Protocol       string     `json:"protocol"`
	DeviceID       *string    `json:"deviceId"`
	IMEI           *string    `json:"imei"`
	Timestamp      *time.Time `json:"timestamp"`
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	Speed          *float64   `json:"speed"`
	Heading        *float64   `json:"heading"`
	Altitude       *float64   `json:"altitude"`
	Satellites     *int       `json:"satellites"`
	HDOP           *float64   `json:"hdop"`
	GSMSignal      *float64   `json:"gsmSignal"`
	BatteryVoltage *float64   `json:"batteryVoltage"`
	Status         *int       `json:"status"`
	RawData        string     `json:"rawData"`
}

// Attributable reports whether the record carries an IMEI and can be stored
// against a device.
func (r *Record) Attributable() bool {
	return r != nil && r.IMEI != nil && *r.IMEI != ""
}

// IMEIValue returns the IMEI or "" when absent.
func (r *Record) IMEIValue() string {
	if r == nil || r.IMEI == nil {
		return ""
	}
	return *r.IMEI
}

// DeviceName is the label used when a device is first seen.
func (r *Record) DeviceName() string {
	if r == nil || r.DeviceID == nil || *r.DeviceID == "" {
		return "Unknown"
	}
	return *r.DeviceID
}

// AcksOK reports whether the protocol expects "OK\r\n" back.
func (r *Record) AcksOK() bool {
	return r != nil && (r.Protocol == ProtocolSTS || r.Protocol == ProtocolDP)
}
