package rpc

import (
	"net/http"

	"commitprotocol/native/commitment"
)

type adminTokenParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
}

type adminPauseParams struct {
	Caller string `json:"caller"`
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (s *Server) requireAdmin(w http.ResponseWriter, req *RPCRequest, raw string) bool {
	caller, err := parseAddr(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return false
	}
	if caller != s.admin {
		writeError(w, http.StatusForbidden, req.ID, codeForbidden, commitment.ErrNotAdmin.Error(), nil)
		return false
	}
	return true
}

func (s *Server) handleAllowToken(w http.ResponseWriter, req *RPCRequest) {
	var params adminTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if !s.requireAdmin(w, req, params.Caller) {
		return
	}

	s.mu.Lock()
	err := s.store.AllowToken(params.Token)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleDisallowToken(w http.ResponseWriter, req *RPCRequest) {
	var params adminTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if !s.requireAdmin(w, req, params.Caller) {
		return
	}

	s.mu.Lock()
	err := s.store.DisallowToken(params.Token)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleSetPaused(w http.ResponseWriter, req *RPCRequest) {
	var params adminPauseParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if !s.requireAdmin(w, req, params.Caller) {
		return
	}
	module := params.Module
	if module == "" {
		module = commitment.PauseModule
	}

	s.mu.Lock()
	err := s.store.SetPaused(module, params.Paused)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
