package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// --- Model provisioning (/models/load) ---
type LoadReq struct {
	Model  string `json:"model"`
	Device string `json:"device"`
}
type LoadResp struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Device string `json:"device"`
}

// LoadModel asks the model server to fetch and construct a model on a device.
func (h *HTTP) LoadModel(ctx context.Context, url string, req LoadReq) (*LoadResp, error) {
	b, _ := json.Marshal(req)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/models/load", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := h.c.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("load model %s: %s", resp.Status, string(body))
	}

	var out LoadResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("load model decode: %w", err)
	}
	return &out, nil
}

// UnloadModel releases a model on the server. Missing models are not an error.
func (h *HTTP) UnloadModel(ctx context.Context, url string, req LoadReq) error {
	b, _ := json.Marshal(req)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/models/unload", bytes.NewReader(b))
	if err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := h.c.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unload model %s: %s", resp.Status, string(body))
	}
	return nil
}
