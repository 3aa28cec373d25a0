package output

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/parklens/parklens/internal/core"
)

// YAMLFormatter renders results as YAML documents.
type YAMLFormatter struct{}

// FormatReadings renders readings as a YAML sequence.
func (f *YAMLFormatter) FormatReadings(readings []core.Reading) (string, error) {
	return marshalYAML(readings)
}

// FormatAreas renders the area catalogue as a YAML sequence.
func (f *YAMLFormatter) FormatAreas(areas []core.Area) (string, error) {
	return marshalYAML(areas)
}

func marshalYAML(v any) (string, error) {
	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
