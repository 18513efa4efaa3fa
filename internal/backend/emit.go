package backend

import (
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

type emitReq struct {
	Type         string `json:"type"`
	UID          string `json:"uid,omitempty"`
	Nickname     string `json:"nickname"`
	Message      string `json:"message"`
	Amount       int64  `json:"amount,omitempty"`
	MsgTime      int64  `json:"msg_time,omitempty"`
	ProfileImage string `json:"profile_image,omitempty"`
	BadgeURL     string `json:"badge_url,omitempty"`
}

func (r emitReq) event(now time.Time) (core.ChatEvent, error) {
	ev := core.ChatEvent{UID: r.UID, MsgTime: r.MsgTime}
	if ev.MsgTime == 0 {
		ev.MsgTime = now.UnixMilli()
	}
	if ev.UID == "" {
		ev.UID = uuid.NewString()
	}
	switch strings.ToLower(strings.TrimSpace(r.Type)) {
	case "", "chat":
		if r.Nickname == "" || r.Message == "" {
			return core.ChatEvent{}, errors.New("nickname and message required")
		}
		ev.Type = core.EventChat
	case "donation":
		ev.Type = core.EventDonation
		ev.Extras = &core.Extras{PayAmount: r.Amount}
	case "system", "systemmessage":
		if r.Message == "" {
			return core.ChatEvent{}, errors.New("message required")
		}
		ev.Type = core.EventSystem
		ev.Extras = &core.Extras{Description: r.Message}
		return ev, nil
	default:
		return core.ChatEvent{}, errors.Errorf("unsupported type %q", r.Type)
	}
	if r.Nickname != "" {
		ev.Nickname = core.StringPtr(r.Nickname)
	}
	ev.Msg = core.StringPtr(r.Message)
	if r.ProfileImage != "" || r.BadgeURL != "" {
		ev.Profile = &core.Profile{Nickname: r.Nickname, UserImageURL: r.ProfileImage}
		if r.BadgeURL != "" {
			ev.Profile.Badge = &core.Badge{ImageURL: r.BadgeURL}
		}
	}
	return ev, nil
}

// EmitHandler injects chat events through conn, standing in for the
// platform during development. The connector must be connected.
func EmitHandler(conn *SimulatedConnector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		defer r.Body.Close()
		var req emitReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		ev, err := req.event(time.Now())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := conn.Inject(r.Context(), ev); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrNotConnected) {
				status = http.StatusConflict
			}
			http.Error(w, "emit failed: "+err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "uid": ev.UID})
	}
}
