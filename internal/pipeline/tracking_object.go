package pipeline

// TrackingObject es la vista que se reenvía a sistemas externos (NATS, gRPC,
// proxy NDJSON). Los campos ausentes se omiten.
type TrackingObject struct {
	IMEI     string `json:"imei"`
	DeviceID string `json:"device_id,omitempty"`
	Protocol string `json:"protocol"`
	Datetime string `json:"dt,omitempty"`

	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
	Spd  *float64 `json:"spd,omitempty"`
	Crs  *float64 `json:"crs,omitempty"`
	Alt  *float64 `json:"alt,omitempty"`
	Sats *int     `json:"sats,omitempty"`
	HDOP *float64 `json:"hdop,omitempty"`
	Batt *float64 `json:"batt,omitempty"`
	St   *int     `json:"st,omitempty"`

	Fix int    `json:"fix"` // 1 si sats>3 y coords válidas
	Raw string `json:"raw"`
}
