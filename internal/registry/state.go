package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// stateValue is the only value the state file ever records for a plugin id.
const stateValueInactive = "inactive"

// readStateFile loads plugins_state.json. Absence means everything is
// active. A corrupt file is treated as empty and logged, matching the
// registry's failure semantics for on-disk state.
func readStateFile(path string, logger *zap.Logger) map[string]string {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}
	}
	if err != nil {
		logger.Warn("failed to read plugin state file", zap.String("path", path), zap.Error(err))
		return map[string]string{}
	}

	var state map[string]string
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn("corrupt plugin state file, treating as empty", zap.String("path", path), zap.Error(err))
		return map[string]string{}
	}
	return state
}

// writeStateFile writes plugins_state.json atomically: write to a temp
// file in the same directory, then rename over the target.
func writeStateFile(path string, state map[string]string) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".plugins_state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
