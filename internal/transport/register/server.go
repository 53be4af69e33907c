package register

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"boiding.ai/internal/protocol"
	"boiding.ai/internal/sim/authority"
	"boiding.ai/internal/sim/teams"
)

const maxBody = 64 * 1024

// Server turns registration requests into authority messages and waits for
// the authority's answer.
type Server struct {
	inbox        authority.Sink[authority.Message]
	replyTimeout time.Duration
	log          *log.Logger
}

func NewServer(inbox authority.Sink[authority.Message], replyTimeout time.Duration, logger *log.Logger) *Server {
	if replyTimeout <= 0 {
		replyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{inbox: inbox, replyTimeout: replyTimeout, log: logger}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.register(rw, r)
		case http.MethodDelete:
			s.unregister(rw, r)
		default:
			rw.Header().Set("Allow", "POST, DELETE")
			writeError(rw, http.StatusMethodNotAllowed, protocol.ReasonNotAllowed, "")
		}
	}
}

func (s *Server) register(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ReasonBadRequest, err.Error())
		return
	}
	req, err := protocol.DecodeRegister(body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ReasonBadRequest, err.Error())
		return
	}
	reply := make(chan error, 1)
	s.roundTrip(rw, r, authority.Register{
		Name:  req.Name,
		Host:  strings.TrimSpace(req.IPAddress),
		Port:  req.Port,
		Reply: reply,
	}, reply)
}

func (s *Server) unregister(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ReasonBadRequest, err.Error())
		return
	}
	req, err := protocol.DecodeUnregister(body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ReasonBadRequest, err.Error())
		return
	}
	reply := make(chan error, 1)
	s.roundTrip(rw, r, authority.Unregister{Name: req.Name, Reply: reply}, reply)
}

func (s *Server) roundTrip(rw http.ResponseWriter, r *http.Request, msg authority.Message, reply <-chan error) {
	if err := s.inbox.Send(msg, s.replyTimeout); err != nil {
		s.log.Printf("register: %s: %v", authority.Kind(msg), err)
		writeError(rw, http.StatusServiceUnavailable, protocol.ReasonUnavailable, err.Error())
		return
	}

	t := time.NewTimer(s.replyTimeout)
	defer t.Stop()
	select {
	case err := <-reply:
		writeResult(rw, err)
	case <-t.C:
		writeError(rw, http.StatusServiceUnavailable, protocol.ReasonUnavailable, "no reply")
	case <-r.Context().Done():
	}
}

func writeResult(rw http.ResponseWriter, err error) {
	if err == nil {
		rw.WriteHeader(http.StatusNoContent)
		return
	}
	reason := teams.Reason(err)
	switch {
	case errors.Is(err, teams.ErrNameTaken), errors.Is(err, teams.ErrAddressTaken):
		writeError(rw, http.StatusConflict, reason, "")
	case errors.Is(err, teams.ErrNameNotRegistered):
		writeError(rw, http.StatusNotFound, reason, "")
	default:
		writeError(rw, http.StatusInternalServerError, protocol.ReasonUnavailable, err.Error())
	}
}

func writeError(rw http.ResponseWriter, status int, reason, detail string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(protocol.ErrorResponse{Reason: reason, Detail: detail})
}
