package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"aquawatch/pkg/domain"
)

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	TankID        string `json:"tank_id,omitempty"`
}

func (s *Server) sessionState() sessionResponse {
	target := s.session.Target()
	user, ok := s.session.Identity().UserID()
	return sessionResponse{Authenticated: ok, UserID: user, TankID: target.TankID}
}

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionState())
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.session.Login(r.Context(), req.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionState())
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tanksResponse struct {
	Tanks    []domain.TankProfile `json:"tanks"`
	Selected string               `json:"selected,omitempty"`
}

func (s *Server) listTanks(w http.ResponseWriter, _ *http.Request) {
	resp := tanksResponse{Tanks: s.session.Registry().Tanks()}
	if resp.Tanks == nil {
		resp.Tanks = []domain.TankProfile{}
	}
	if tank, ok := s.session.Registry().SelectedTank(); ok {
		resp.Selected = tank.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createTank(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tank, err := s.session.CreateTank(r.Context(), req.DisplayName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tank)
}

func (s *Server) selectTank(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TankID string `json:"tank_id"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.session.SelectTank(r.Context(), req.TankID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionState())
}

func (s *Server) getProfile(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Profile())
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	var profile domain.ThresholdProfile
	if err := decode(r, &profile); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.session.UpdateProfile(r.Context(), profile); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Profile())
}

type historyResponse struct {
	UserID   string           `json:"user_id,omitempty"`
	TankID   string           `json:"tank_id,omitempty"`
	Window   domain.Window    `json:"window,omitempty"`
	Readings []domain.Reading `json:"readings"`
}

func newHistoryResponse(target domain.Target, window domain.Window, readings []domain.Reading) historyResponse {
	if readings == nil {
		readings = []domain.Reading{}
	}
	return historyResponse{UserID: target.UserID, TankID: target.TankID, Window: window, Readings: readings}
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	window, err := domain.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target, readings := s.session.History(window, s.now())
	writeJSON(w, http.StatusOK, newHistoryResponse(target, window, readings))
}

func (s *Server) latest(w http.ResponseWriter, _ *http.Request) {
	reading, ok := s.session.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no reading received yet"})
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]domain.ConnectionStatus{"status": s.session.Status()})
}

func (s *Server) buffer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"buffered": s.session.Buffer().Len(), "pending": s.session.PendingWrites()})
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	n, err := s.session.FlushNow(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"flushed": n, "buffered": s.session.Buffer().Len(), "pending": s.session.PendingWrites()})
}

func (s *Server) owner() (string, error) {
	user, ok := s.session.Identity().UserID()
	if !ok {
		return "", domain.ErrNotAuthenticated
	}
	return user, nil
}

func (s *Server) listArchive(w http.ResponseWriter, r *http.Request) {
	owner, err := s.owner()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	infos, err := s.archive.List(r.Context(), owner, mux.Vars(r)["tank"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	type entry struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
	}
	out := make([]entry, 0, len(infos))
	for _, info := range infos {
		out = append(out, entry{Key: info.Key, Size: info.Size})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getArchive(w http.ResponseWriter, r *http.Request) {
	owner, err := s.owner()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	day, err := time.ParseInLocation("2006-01-02", vars["day"], s.location)
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "day", Reason: "want YYYY-MM-DD"})
		return
	}
	rc, err := s.archive.Open(r.Context(), owner, vars["tank"], day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = rc.Close() }()
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}
