package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"maintlink/status"
)

// AddressRequest is the body of connect and address updates.
type AddressRequest struct {
	Host string `json:"host"`
}

// AcceptedResponse acknowledges a queued command.
type AcceptedResponse struct {
	Command string `json:"command"`
	Host    string `json:"host,omitempty"`
	Output  string `json:"output,omitempty"`
}

// StatusResponse is the JSON body of GET /api/status.
type StatusResponse struct {
	State          string                 `json:"state"`
	Label          string                 `json:"label"`
	Family         string                 `json:"family"`
	Host           string                 `json:"host"`
	Address        string                 `json:"address"`
	ConnectionMode string                 `json:"connectionMode"`
	Snapshot       *status.Snapshot       `json:"snapshot"`
	Stats          status.ConnectionStats `json:"stats"`
}

// OutputResponse describes one writable output.
type OutputResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Value   *bool  `json:"value,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// decodeHost reads an optional {"host": ...} body. An empty body yields "".
func decodeHost(r *http.Request) (string, error) {
	var req AddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", errors.New("invalid JSON body")
	}
	host := strings.TrimSpace(req.Host)
	if strings.ContainsAny(host, " \t/\\") {
		return "", errors.New("invalid host")
	}
	return host, nil
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	host, err := decodeHost(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if host != "" {
		s.ctl.ConnectTo(host)
	} else {
		s.ctl.Connect()
	}
	s.log.Info("connect requested", zap.String("host", host), zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Command: "connect", Host: host})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.ctl.Reconnect()
	s.log.Info("reconnect requested", zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Command: "reconnect"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.ctl.Disconnect()
	s.log.Info("disconnect requested", zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Command: "disconnect"})
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	host, err := decodeHost(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	s.ctl.UpdateAddress(host)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Command: "address", Host: host})
}

func (s *Server) validOutput(name string) bool {
	_, ok := s.ctl.Catalog().Output(name)
	return ok
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.validOutput(name) {
		writeError(w, http.StatusNotFound, "unknown output: "+name)
		return
	}
	s.ctl.ToggleOutput(name)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Command: "toggle", Output: name})
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	cat := s.ctl.Catalog()
	snap, haveSnap := s.ctl.Hub().LastSnapshot()

	names := cat.Outputs()
	resp := make([]OutputResponse, 0, len(names))
	for _, name := range names {
		item, _ := cat.Output(name)
		out := OutputResponse{Name: name, Address: item.Key}
		if haveSnap {
			if v, ok := snap.Signals[name].(bool); ok {
				out.Value = &v
			}
		}
		resp = append(resp, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.ctl.Config()
	hub := s.ctl.Hub()

	resp := StatusResponse{
		State:          s.ctl.State().String(),
		Label:          hub.LastStatus(),
		Family:         cfg.Family.String(),
		Host:           cfg.Host,
		Address:        cfg.Address(),
		ConnectionMode: s.ctl.ConnectionMode(),
		Stats:          hub.Stats().ConnectionStats,
	}
	if snap, ok := hub.LastSnapshot(); ok {
		resp.Snapshot = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Hub().Stats().HistoricalData)
}
