package journal

import (
	"encoding/json"
	"net/http"
	"strconv"

	"tailscale.com/tsweb"
)

const defaultRecent = 50

// AttachAdminRoutes serves the current session's journal at
// /debug/tracking-journal (?n=N limits the rows returned).
func (j *Journal) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("tracking-journal", "recent journal entries and frame samples", func(w http.ResponseWriter, r *http.Request) {
		n := defaultRecent
		if v := r.URL.Query().Get("n"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 {
				http.Error(w, "n must be a positive integer", http.StatusBadRequest)
				return
			}
			n = parsed
		}

		entries, err := j.Recent(n)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		samples, err := j.Samples(n)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(struct {
			Session string        `json:"session"`
			Errors  uint64        `json:"write_errors"`
			Entries []Entry       `json:"entries"`
			Samples []FrameSample `json:"frame_samples"`
		}{j.session, j.Errors(), entries, samples})
	})
}
