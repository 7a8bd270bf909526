package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/maastricht-university/edmo-mood/emotion"
)

// --- Presentation (/emotion) ---
type EmotionUpdate struct {
	Current    emotion.Prediction `json:"current"`
	ModelReady bool               `json:"model_ready"`
}

// PublishEmotion pushes the current prediction to a presentation layer that
// adapts its appearance to it.
func (h *HTTP) PublishEmotion(ctx context.Context, url string, u EmotionUpdate) error {
	b, _ := json.Marshal(u)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/emotion", bytes.NewReader(b))
	if err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json")
	resp, err := h.c.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("presentation %s: %s", resp.Status, string(body))
	}
	return nil
}
