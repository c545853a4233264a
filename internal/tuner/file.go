package tuner

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/quantbot/ultramm/internal/config"
)

// FileController re-reads the strategies file when it changes on disk and
// proposes the parameter sets it finds there. Editing the file is the
// operator's way of retuning a running system.
type FileController struct {
	path string

	mu      sync.Mutex
	lastMod time.Time
}

// NewFileController watches the strategies file at path.
func NewFileController(path string) *FileController {
	return &FileController{path: path}
}

// Poll returns one proposal per strategy in the file, but only when the
// file's modification time advanced since the previous poll.
func (c *FileController) Poll(ctx context.Context) (map[string]any, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	changed := info.ModTime().After(c.lastMod)
	if changed {
		c.lastMod = info.ModTime()
	}
	c.mu.Unlock()
	if !changed {
		return nil, nil
	}

	specs, err := config.LoadStrategySpecs(c.path)
	if err != nil {
		return nil, err
	}

	proposals := make(map[string]any, len(specs))
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		switch spec.Type {
		case config.TypeMarketMaking:
			proposals[spec.Name] = spec.MarketMaking
		case config.TypeAdaptiveMarketMaking:
			proposals[spec.Name] = spec.Adaptive
		case config.TypeStatisticalArbitrage:
			proposals[spec.Name] = spec.StatArb
		}
	}
	return proposals, nil
}
