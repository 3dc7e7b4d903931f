package domain

// QueryIntent is the structured reading of one query string. Members are
// deduplicated; weekdays are lowercase English names and times are
// normalized to HH:MM, while dates keep the form the query used. A zero
// QueryIntent disables every intent-dependent boost.
type QueryIntent struct {
	Dates      []string `json:"dates,omitempty"`
	DaysOfWeek []string `json:"days_of_week,omitempty"`
	Entities   []string `json:"entities,omitempty"`
	Times      []string `json:"times,omitempty"`
}

func (qi QueryIntent) IsEmpty() bool {
	return len(qi.Dates) == 0 && len(qi.DaysOfWeek) == 0 && len(qi.Entities) == 0 && len(qi.Times) == 0
}
