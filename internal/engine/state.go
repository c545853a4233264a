package engine

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// RunState is the persisted snapshot of a running engine, used by the CLI
// to report what is live without talking to the process.
type RunState struct {
	PID        int             `json:"pid"`
	StartedAt  time.Time       `json:"started_at"`
	Venue      string          `json:"venue"`
	PaperTrade bool            `json:"paper_trade"`
	Strategies []StrategyState `json:"strategies"`
}

// StrategyState is one strategy's identity in the run state file.
type StrategyState struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

const stateDirName = ".ultramm"
const stateFileName = "run_state.json"

func stateFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, stateDirName, stateFileName), nil
}

// WriteRunState writes the current state to disk.
func WriteRunState(state *RunState) error {
	path, err := stateFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

// ReadRunState reads the persisted state, or os.ErrNotExist when no engine
// has recorded one.
func ReadRunState() (*RunState, error) {
	path, err := stateFilePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// RemoveRunState deletes the persisted state.
func RemoveRunState() error {
	path, err := stateFilePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
