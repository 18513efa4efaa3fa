package rpc

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/bridge"
)

const maxBody = 1 << 20

type method func(ctx context.Context, body []byte) (any, error)

// Handler serves backend over /rpc/<call>.
type Handler struct {
	methods map[string]method
}

func NewHandler(backend bridge.Backend) *Handler {
	h := &Handler{methods: make(map[string]method)}

	h.methods[bridge.CallConnect] = func(ctx context.Context, body []byte) (any, error) {
		var a connectArgs
		if err := decode(body, &a); err != nil {
			return nil, err
		}
		return nil, backend.Connect(ctx, a.ChannelID)
	}
	h.methods[bridge.CallDisconnect] = func(ctx context.Context, _ []byte) (any, error) {
		return nil, backend.Disconnect(ctx)
	}
	h.methods[bridge.CallIsConnected] = func(ctx context.Context, _ []byte) (any, error) {
		return backend.IsConnected(ctx)
	}
	h.methods[bridge.CallGetConnectionState] = func(ctx context.Context, _ []byte) (any, error) {
		return backend.GetConnectionState(ctx)
	}
	h.methods[bridge.CallGetMessages] = func(ctx context.Context, _ []byte) (any, error) {
		return backend.GetMessages(ctx)
	}
	h.methods[bridge.CallStoreDisplayMessage] = func(ctx context.Context, body []byte) (any, error) {
		var a storeArgs
		if err := decode(body, &a); err != nil {
			return nil, err
		}
		return nil, backend.StoreDisplayMessage(ctx, a.Message)
	}
	h.methods[bridge.CallClearDisplayMessages] = func(ctx context.Context, _ []byte) (any, error) {
		return nil, backend.ClearDisplayMessages(ctx)
	}
	h.methods[bridge.CallForwardChatMessage] = func(ctx context.Context, body []byte) (any, error) {
		var a forwardArgs
		if err := decode(body, &a); err != nil {
			return nil, err
		}
		return nil, backend.ForwardChatMessage(ctx, a.Username, a.Message)
	}
	h.methods[bridge.CallGetPlaylist] = func(ctx context.Context, _ []byte) (any, error) {
		return backend.GetPlaylist(ctx)
	}
	h.methods[bridge.CallMoveItem] = func(ctx context.Context, body []byte) (any, error) {
		var a moveArgs
		if err := decode(body, &a); err != nil {
			return nil, err
		}
		return nil, backend.MoveItem(ctx, a.From, a.To)
	}
	h.methods[bridge.CallPlayAtIndex] = func(ctx context.Context, body []byte) (any, error) {
		var a indexArgs
		if err := decode(body, &a); err != nil {
			return nil, err
		}
		return nil, backend.PlayAtIndex(ctx, a.Index)
	}
	h.methods[bridge.CallRemoveItem] = func(ctx context.Context, body []byte) (any, error) {
		var a indexArgs
		if err := decode(body, &a); err != nil {
			return nil, err
		}
		return nil, backend.RemoveItem(ctx, a.Index)
	}
	h.methods[bridge.CallSkipToNext] = func(ctx context.Context, _ []byte) (any, error) {
		return nil, backend.SkipToNext(ctx)
	}
	h.methods[bridge.CallClearPlaylist] = func(ctx context.Context, _ []byte) (any, error) {
		return nil, backend.ClearPlaylist(ctx)
	}
	h.methods[bridge.CallSetAutoplay] = func(ctx context.Context, body []byte) (any, error) {
		var a autoplayArgs
		if err := decode(body, &a); err != nil {
			return nil, err
		}
		return nil, backend.SetAutoplay(ctx, a.Enabled)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, PathPrefix)
	m, ok := h.methods[name]
	if !ok {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	var env envelope
	result, err := m(r.Context(), body)
	if err != nil {
		slog.Debug("rpc: call failed", "call", name, "err", err)
		env.Error = err.Error()
	} else {
		env.OK = true
		if result != nil {
			raw, err := json.Marshal(result)
			if err != nil {
				http.Error(w, "encode error", http.StatusInternalServerError)
				return
			}
			env.Result = raw
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(env)
}

func decode(body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
