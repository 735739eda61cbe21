package dto

// Transceiver is a radio site registered for the session. IDs are dense
// and zero based across all receive-enabled frequencies.
type Transceiver struct {
	ID         uint16  `json:"ID"`
	Frequency  uint32  `json:"Frequency"`
	LatDeg     float64 `json:"LatDeg"`
	LonDeg     float64 `json:"LonDeg"`
	HeightMslM float64 `json:"HeightMslM"`
	HeightAglM float64 `json:"HeightAglM"`
}

// StationTransceiver is a transceiver as returned by the station lookup
// service, keyed by station name.
type StationTransceiver struct {
	ID         string  `json:"ID" yaml:"id"`
	Name       string  `json:"Name" yaml:"name"`
	LatDeg     float64 `json:"LatDeg" yaml:"lat_deg"`
	LonDeg     float64 `json:"LonDeg" yaml:"lon_deg"`
	HeightMslM float64 `json:"HeightMslM" yaml:"height_msl_m"`
	HeightAglM float64 `json:"HeightAglM" yaml:"height_agl_m"`
}

// CrossCoupleGroup links transceivers so one transmission goes out on all
// of them.
type CrossCoupleGroup struct {
	ID             uint16   `json:"ID"`
	TransceiverIDs []uint16 `json:"TransceiverIDs"`
}
