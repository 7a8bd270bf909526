package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/maastricht-university/edmo-mood/emotion"
)

type PersistBundle struct {
	SessionID   string               `json:"session_id"`
	Source      string               `json:"source"`
	Mode        string               `json:"mode"`
	ModelReady  bool                 `json:"model_ready"`
	GeneratedAt time.Time            `json:"generated_at"`
	Predictions []emotion.Prediction `json:"predictions"`
	Summary     Summary              `json:"summary"`
}

func mkSessionDir(outputsRoot string, now time.Time) (string, error) {
	dir := filepath.Join(outputsRoot, "session_"+now.Format("20060102-150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Export writes the poller's history and summary under outputsRoot and
// returns the file path.
func Export(outputsRoot, source string, mode Mode, p *Poller) (string, error) {
	now := time.Now()
	dir, err := mkSessionDir(outputsRoot, now)
	if err != nil {
		return "", err
	}
	preds := p.History()
	bundle := PersistBundle{
		SessionID:   p.Stats().Session,
		Source:      source,
		Mode:        mode.String(),
		ModelReady:  p.ModelReady(),
		GeneratedAt: now,
		Predictions: preds,
		Summary:     Summarize(preds),
	}
	path := filepath.Join(dir, "history.json")
	if err := writeJSON(path, bundle); err != nil {
		return "", err
	}
	return path, nil
}
