package shouter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/zachfi/shouter/pkg/playlist"
)

// SessionStatus describes one listener.
type SessionStatus struct {
	ID        string    `json:"id"`
	Remote    string    `json:"remote"`
	State     string    `json:"state"`
	Title     string    `json:"title,omitempty"`
	Started   time.Time `json:"started"`
	BytesSent int64     `json:"bytes_sent"`
}

// TrackStatus describes the track at the play cursor.
type TrackStatus struct {
	Index    int     `json:"index"`
	Title    string  `json:"title"`
	Path     string  `json:"path"`
	Fraction float64 `json:"fraction"`
}

// Status is the controller snapshot served by the status endpoint.
type Status struct {
	Playlist  string          `json:"playlist,omitempty"`
	Playable  int             `json:"playable"`
	Excluded  int             `json:"excluded"`
	Current   *TrackStatus    `json:"current,omitempty"`
	Error     string          `json:"error,omitempty"`
	Listeners []SessionStatus `json:"listeners"`
}

// Status returns a snapshot of the playlist and every listener.
func (c *Controller) Status() Status {
	pl, cur := c.current()

	st := Status{
		Playlist:  pl.Source,
		Playable:  pl.Len(),
		Excluded:  len(pl.Excluded()),
		Listeners: []SessionStatus{},
	}

	if t, frac, err := cur.PlayCursor(); err == nil {
		st.Current = &TrackStatus{Index: t.Index, Title: t.StreamTitle(), Path: t.Path, Fraction: frac}
	} else {
		st.Error = err.Error()
	}

	c.mu.Lock()
	for s := range c.sessions {
		st.Listeners = append(st.Listeners, SessionStatus{
			ID:        s.ID,
			Remote:    s.remote,
			State:     s.State().String(),
			Title:     s.Title(),
			Started:   s.started,
			BytesSent: s.bytesSent.Load(),
		})
	}
	c.mu.Unlock()

	return st
}

// StatusHandler serves Status as JSON.
func (c *Controller) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.Status())
}

// ForceUpdateHandler interrupts every listener.
func (c *Controller) ForceUpdateHandler(w http.ResponseWriter, _ *http.Request) {
	c.ForceUpdate()
	w.WriteHeader(http.StatusNoContent)
}

type nowPlayingRequest struct {
	Playing *bool   `json:"playing,omitempty"`
	Index   int     `json:"index"`
	Current float64 `json:"current"` // seconds
	Total   float64 `json:"total"`   // seconds
}

// NowPlayingHandler receives the external player status for live mode.
func (c *Controller) NowPlayingHandler(w http.ResponseWriter, r *http.Request) {
	var req nowPlayingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	st := playlist.Status{
		Playing: req.Playing == nil || *req.Playing,
		Index:   req.Index,
		Current: time.Duration(req.Current * float64(time.Second)),
		Total:   time.Duration(req.Total * float64(time.Second)),
	}
	c.SetNowPlaying(st)
	c.logger.Debug("now playing updated", "index", st.Index, "playing", st.Playing)

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
