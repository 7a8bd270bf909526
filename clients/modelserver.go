package clients

import (
	"context"
	"time"

	"github.com/maastricht-university/edmo-mood/frame"
	"github.com/maastricht-university/edmo-mood/model"
)

// ModelServer is a model.Factory backed by a remote model server.
type ModelServer struct {
	http *HTTP
	url  string
}

func NewModelServer(h *HTTP, url string) *ModelServer {
	return &ModelServer{http: h, url: url}
}

func (m *ModelServer) Open(ctx context.Context, c model.Candidate) (model.Handle, error) {
	req := LoadReq{Model: c.Model, Device: string(c.Device)}
	if _, err := m.http.LoadModel(ctx, m.url, req); err != nil {
		return nil, err
	}
	return &remoteHandle{server: m, req: req}, nil
}

type remoteHandle struct {
	server *ModelServer
	req    LoadReq
}

func (r *remoteHandle) Invoke(ctx context.Context, img frame.Encoded) ([]model.RawResult, error) {
	resp, err := r.server.http.Classify(ctx, r.server.url, r.req.Model, img.Data, img.MIME())
	if err != nil {
		return nil, err
	}
	out := make([]model.RawResult, 0, len(resp.Results))
	for _, s := range resp.Results {
		out = append(out, model.RawResult{Label: s.Label, Score: s.Score})
	}
	return out, nil
}

func (r *remoteHandle) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.server.http.UnloadModel(ctx, r.server.url, r.req)
}
