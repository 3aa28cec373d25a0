package output

import (
	json "github.com/goccy/go-json"

	"github.com/parklens/parklens/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatReadings renders readings as a JSON array.
func (f *JSONFormatter) FormatReadings(readings []core.Reading) (string, error) {
	if readings == nil {
		readings = []core.Reading{}
	}
	return f.marshal(readings)
}

// FormatAreas renders the area catalogue as a JSON array.
func (f *JSONFormatter) FormatAreas(areas []core.Area) (string, error) {
	if areas == nil {
		areas = []core.Area{}
	}
	return f.marshal(areas)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
