package rpc

import (
	"net/http"

	"commitprotocol/native/clients"
)

type clientRegisterParams struct {
	Owner       string `json:"owner"`
	Withdraw    string `json:"withdraw"`
	FeeShareBps uint32 `json:"feeShareBps"`
}

type clientIDParams struct {
	ID string `json:"id"`
}

type clientJSON struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	Withdraw     string `json:"withdraw"`
	FeeShareBps  uint32 `json:"feeShareBps"`
	RegisteredAt int64  `json:"registeredAt"`
}

func clientToJSON(c *clients.Client) *clientJSON {
	return &clientJSON{
		ID:           c.ID,
		Owner:        encodeAddr(c.Owner),
		Withdraw:     encodeAddr(c.Withdraw),
		FeeShareBps:  c.FeeShareBps,
		RegisteredAt: c.RegisteredAt,
	}
}

func (s *Server) handleClientRegister(w http.ResponseWriter, req *RPCRequest) {
	var params clientRegisterParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddr(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	withdraw, err := parseAddr(params.Withdraw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	client, err := s.registry.AddClient(owner, withdraw, params.FeeShareBps)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, clientToJSON(client))
}

func (s *Server) handleClientGet(w http.ResponseWriter, req *RPCRequest) {
	var params clientIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	client, err := s.registry.Get(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, clientToJSON(client))
}
