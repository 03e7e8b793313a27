package reputation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// persistedState is the on-disk shape written to the reputation cache file
// (spec section 4.4: "{cache, apiCallsToday, apiResetTime, savedAt}").
type persistedState struct {
	Cache          map[string]Record `json:"cache"`
	APICallsToday  int               `json:"apiCallsToday"`
	APIResetTime   time.Time         `json:"apiResetTime"`
	SavedAt        time.Time         `json:"savedAt"`
}

func loadState(path string) (persistedState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return persistedState{}, nil
		}
		return persistedState{}, err
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return persistedState{}, err
	}
	return st, nil
}

func saveState(path string, st persistedState) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
