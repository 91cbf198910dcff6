package history

// Point is one PM mass reading. Timestamp is unix milliseconds.
type Point struct {
	Timestamp int64   `db:"timestamp" json:"timestamp"`
	PM1       float64 `db:"pm1" json:"pm1"`
	PM25      float64 `db:"pm25" json:"pm25"`
	PM10      float64 `db:"pm10" json:"pm10"`
	Window    string  `db:"avg_window" json:"window,omitempty"`
}

// Summary aggregates PM2.5 over the retained points.
type Summary struct {
	Count   int     `json:"count"`
	AvgPM25 float64 `json:"avg_pm25"`
	MinPM25 float64 `json:"min_pm25"`
	MaxPM25 float64 `json:"max_pm25"`
	From    int64   `json:"from"`
	To      int64   `json:"to"`
}
