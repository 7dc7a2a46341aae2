package demand

// Preview summarises a schedule before a run is started.
type Preview struct {
	Location   string         `json:"location"`
	StartHour  int            `json:"start_hour"`
	EndHour    int            `json:"end_hour"`
	Seed       int64          `json:"seed"`
	Total      int            `json:"total_vehicles"`
	Expected   float64        `json:"expected_vehicles"`
	Intensity  string         `json:"intensity"`
	ByClass    map[string]int `json:"by_class"`
	ByApproach map[string]int `json:"by_approach"`
	First      []Arrival      `json:"first_arrivals"`
}

// BuildPreview condenses a schedule and its station data into the shape the
// preview API and CLI print. At most limit arrivals are listed.
func BuildPreview(s *Schedule, data *StationData, limit int) Preview {
	if limit <= 0 {
		limit = 10
	}
	if limit > s.Len() {
		limit = s.Len()
	}
	first := make([]Arrival, limit)
	for i := 0; i < limit; i++ {
		first[i] = s.At(i)
	}

	expected := data.WindowCount(s.Window())
	return Preview{
		Location:   s.Location(),
		StartHour:  s.Window().StartHour,
		EndHour:    s.Window().EndHour,
		Seed:       s.Seed(),
		Total:      s.Len(),
		Expected:   expected,
		Intensity:  Intensity(expected),
		ByClass:    s.ClassCounts(),
		ByApproach: s.EntryCounts(),
		First:      first,
	}
}
