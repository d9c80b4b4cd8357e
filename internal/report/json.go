package report

import (
	"encoding/json"
	"io"
)

// JSONGenerator generates JSON reports
type JSONGenerator struct {
	Indent bool
}

// Generate generates a JSON report
func (g *JSONGenerator) Generate(s *Session, w io.Writer) error {
	encoder := json.NewEncoder(w)

	if g.Indent {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(s)
}

// Extension returns the file extension
func (g *JSONGenerator) Extension() string {
	return "json"
}
