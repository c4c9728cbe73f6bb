package alerting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// State survives runner restarts on disk. Breaches maps rule name to the
// unix time the breach was first observed; Silenced maps rule name to the
// unix time the silence ends; LastValues holds the previous scrape's
// counter readings for delta math.
type State struct {
	Breaches   map[string]int64   `json:"breaches"`
	Silenced   map[string]int64   `json:"silenced"`
	LastValues map[string]float64 `json:"last_values"`
}

func NewState() *State {
	return &State{
		Breaches:   map[string]int64{},
		Silenced:   map[string]int64{},
		LastValues: map[string]float64{},
	}
}

// LoadState reads the state file; a missing file starts fresh, a corrupt
// one is discarded with a fresh start rather than wedging the runner.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return NewState(), nil
	}
	if st.Breaches == nil {
		st.Breaches = map[string]int64{}
	}
	if st.Silenced == nil {
		st.Silenced = map[string]int64{}
	}
	if st.LastValues == nil {
		st.LastValues = map[string]float64{}
	}
	return &st, nil
}

// Save writes atomically via a temp file rename.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
