package model

// Record is one persisted measurement, the unit of the persistence contract.
type Record struct {
	TS     int64   `json:"ts"` // epoch ms
	Group  string  `json:"group"`
	Series string  `json:"series"`
	Value  float64 `json:"value"`
}
