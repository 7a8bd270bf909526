package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// --- Emotion (/classify) ---
type EmoScore struct {
	Label string   `json:"label"`
	Score *float64 `json:"score,omitempty"`
}
type EmoResp struct {
	Results []EmoScore `json:"results"`
}

// Classify uploads an encoded frame to the model server and returns its
// ranked labels.
func (h *HTTP) Classify(ctx context.Context, url, model string, img []byte, mime string) (*EmoResp, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	if err := w.WriteField("model", model); err != nil {
		return nil, err
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="frame"`)
	hdr.Set("Content-Type", mime)
	fw, err := w.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err = fw.Write(img); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/classify", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("classify %s: %s", resp.Status, string(body))
	}

	var out EmoResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("classify decode: %w", err)
	}
	return &out, nil
}
