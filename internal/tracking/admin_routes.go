package tracking

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"
)

// frameSummary is the debug view of a frame. Pixel data is left out.
type frameSummary struct {
	ID          int64   `json:"id"`
	Timestamp   int64   `json:"timestamp_us"`
	IsValid     bool    `json:"valid"`
	Hands       int     `json:"hands"`
	Fingers     int     `json:"fingers"`
	Tools       int     `json:"tools"`
	ImageSeqs   []int64 `json:"image_sequence_ids"`
	RawImages   int     `json:"raw_images"`
	QuadValid   bool    `json:"quad_valid"`
	AgeMicros   int64   `json:"age_us"`
	HistoryBack int     `json:"history"`
}

func summarise(f Frame, now int64, history int) frameSummary {
	s := frameSummary{
		ID:          f.ID,
		Timestamp:   f.Timestamp,
		IsValid:     f.IsValid,
		Hands:       len(f.Hands),
		Fingers:     len(f.Fingers),
		Tools:       len(f.Tools),
		RawImages:   len(f.RawImages),
		QuadValid:   f.TrackedQuad.IsValid,
		HistoryBack: history,
	}
	for _, img := range f.Images {
		s.ImageSeqs = append(s.ImageSeqs, img.SequenceID)
	}
	if f.IsValid {
		s.AgeMicros = now - f.Timestamp
	}
	return s
}

// AttachAdminRoutes attaches debug endpoints for the connection to mux,
// served under /debug/. Access is limited by tsweb to localhost and the
// tailnet.
func (c *Connection) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("tracking-stats", "frame pipeline counters", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, c.Stats())
	})

	debug.HandleFunc("tracking-frame", "latest released frame (?history=N)", func(w http.ResponseWriter, r *http.Request) {
		history := 0
		if v := r.URL.Query().Get("history"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "invalid history", http.StatusBadRequest)
				return
			}
			history = n
		}
		writeJSON(w, summarise(c.Frame(history), c.Now(), history))
	})

	debug.HandleFunc("tracking-devices", "attached tracking devices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, c.Devices())
	})

	debug.HandleSilentFunc("tracking-policy", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, map[string]string{
				"active":    c.Policy().String(),
				"requested": Policy(c.desired.Load()).String(),
			})
		case http.MethodPost:
			flags, err := ParsePolicies(strings.Split(r.FormValue("policies"), ","))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			switch r.FormValue("action") {
			case "set":
				c.SetPolicy(flags)
			case "clear":
				c.ClearPolicy(flags)
			default:
				http.Error(w, "action must be set or clear", http.StatusBadRequest)
				return
			}
			writeJSON(w, map[string]string{"requested": Policy(c.desired.Load()).String()})
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
