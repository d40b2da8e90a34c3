package forecast

import (
	"encoding/json"
	"fmt"
	"time"
)

type artifact struct {
	Variable  string          `json:"variable"`
	Engine    string          `json:"engine"`
	TrainedAt time.Time       `json:"trained_at"`
	Window    Window          `json:"window"`
	Params    json.RawMessage `json:"params"`
}

// Encode serializes m into a self-describing JSON artifact.
func Encode(m *Model) ([]byte, error) {
	if m == nil || m.predictor == nil {
		return nil, fmt.Errorf("cannot encode empty model")
	}
	params, err := json.Marshal(m.predictor.params())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", m.Engine, err)
	}
	return json.MarshalIndent(artifact{
		Variable:  m.Variable,
		Engine:    m.Engine,
		TrainedAt: m.TrainedAt,
		Window:    m.Window,
		Params:    params,
	}, "", "  ")
}

// Decode restores a model written by Encode.
func Decode(data []byte) (*Model, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model artifact: %w", err)
	}
	if a.Variable == "" {
		return nil, fmt.Errorf("model artifact has no variable")
	}

	m := &Model{Variable: a.Variable, Engine: a.Engine, TrainedAt: a.TrainedAt, Window: a.Window}
	switch a.Engine {
	case EngineSeasonal:
		var p seasonalParams
		if err := json.Unmarshal(a.Params, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal seasonal params for %s: %w", a.Variable, err)
		}
		m.predictor = &p
	case EngineFourier:
		var h fourierHistory
		if err := json.Unmarshal(a.Params, &h); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fourier history for %s: %w", a.Variable, err)
		}
		fm, err := fitFourier(h)
		if err != nil {
			return nil, fmt.Errorf("refit %s: %w", a.Variable, err)
		}
		m.predictor = fm
	default:
		return nil, fmt.Errorf("unknown engine %q in artifact for %s", a.Engine, a.Variable)
	}
	return m, nil
}
