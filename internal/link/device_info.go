package link

// DeviceInfo es la vista "estática" del dispositivo que se envía al proxy.
type DeviceInfo struct {
	IMEI       string
	DeviceID   string
	Protocol   string
	RemoteIP   string
	RemotePort int
	State      DeviceState
}
