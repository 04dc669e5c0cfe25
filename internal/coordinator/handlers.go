package coordinator

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/dreamware/mapsync/internal/cluster"
)

// Handler returns the admin HTTP API.
//
// Endpoints:
//   - GET  /health           summary (cluster.Health)
//   - GET  /clients          connected agents (cluster.ClientStatus)
//   - GET  /scenes           live scenes (cluster.SceneStatus)
//   - GET  /pairs            alignment evidence per pair (cluster.PairStatus)
//   - POST /scheduler/reset  clear scheduler state (cluster.ResetRequest)
func (c *Coordinator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.handleHealth)
	mux.HandleFunc("/clients", c.handleClients)
	mux.HandleFunc("/scenes", c.handleScenes)
	mux.HandleFunc("/pairs", c.handlePairs)
	mux.HandleFunc("/scheduler/reset", c.handleReset)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Coordinator] Failed to encode response: %v", err)
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// Health builds the /health document.
func (c *Coordinator) Health(r *http.Request) cluster.Health {
	st := c.scheduler.Stats()
	h := cluster.Health{
		Status:  "ok",
		Clients: len(c.server.Clients()),
		Scenes:  len(c.registry.SceneIDs()),
		Scheduler: cluster.SchedulerStatus{
			Ticks:      st.Ticks,
			Attempts:   st.Attempts,
			Accepted:   st.Accepted,
			Rejected:   st.Rejected,
			Idle:       st.Idle,
			Abandoned:  st.Abandoned,
			Candidates: len(c.scheduler.Candidates()),
		},
	}
	if stats, err := c.store.Stats(r.Context()); err != nil {
		h.Status = "degraded"
		log.Printf("[Coordinator] Sample store unavailable: %v", err)
	} else {
		h.Stored = stats.Samples
	}
	if c.server.Terminated() {
		h.Status = "stopping"
	}
	return h
}

func (c *Coordinator) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, c.Health(r))
}

func (c *Coordinator) handleClients(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	infos := c.server.Clients()
	out := make([]cluster.ClientStatus, 0, len(infos))
	for _, info := range infos {
		out = append(out, cluster.ClientStatus{
			ID:          info.ID,
			Remote:      info.Remote,
			State:       info.State.String(),
			Scene:       info.Name,
			Healthy:     info.Healthy,
			Error:       info.Err,
			ConnectedAt: info.ConnectedAt,
		})
	}
	writeJSON(w, out)
}

func (c *Coordinator) handleScenes(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	ids := c.registry.SceneIDs()
	out := make([]cluster.SceneStatus, 0, len(ids))
	for _, id := range ids {
		state, err := c.registry.SLAMState(id)
		if err != nil {
			continue // disconnected since SceneIDs
		}
		st := cluster.SceneStatus{ID: id}
		if view, ok := state.View(); ok {
			st.HasFrame = true
			st.FrameIndex = view.FrameIndex
		}
		out = append(out, st)
	}
	writeJSON(w, out)
}

func (c *Coordinator) handlePairs(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	threshold := c.cfg.Scheduler.SolvedThreshold
	pairs := c.registry.Pairs()
	out := make([]cluster.PairStatus, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, cluster.PairStatus{
			I:        p.I,
			J:        p.J,
			Samples:  p.Samples,
			Clusters: p.Clusters,
			Largest:  p.Largest,
			Penalty:  c.scheduler.Penalty(p.I, p.J),
			Solved:   p.Largest >= threshold,
		})
	}
	writeJSON(w, out)
}

func (c *Coordinator) handleReset(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req cluster.ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Penalties {
		c.scheduler.ResetPenalties()
		log.Println("[Coordinator] Scheduler penalties reset")
	}
	writeJSON(w, c.Health(r))
}
