package domain

// SchemaProfile is the metadata schema observed in one candidate pool.
// Rebuilt per request, never persisted.
type SchemaProfile struct {
	Fields        []string            `json:"fields"`
	FieldTypes    map[string][]string `json:"field_types"`
	FieldCoverage map[string]float64  `json:"field_coverage"`
	FieldExamples map[string][]string `json:"field_examples"`
}

func (p SchemaProfile) IsEmpty() bool {
	return len(p.Fields) == 0
}

// Coverage returns the observed coverage of a field, 0 when unknown.
func (p SchemaProfile) Coverage(field string) float64 {
	if p.FieldCoverage == nil {
		return 0
	}
	return p.FieldCoverage[field]
}
