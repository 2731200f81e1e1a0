package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"commitprotocol/native/commitment"
)

type createParams struct {
	Caller          string `json:"caller"`
	Token           string `json:"token"`
	Stake           string `json:"stake"`
	CreatorFee      string `json:"creatorFee"`
	Description     string `json:"description"`
	JoinDeadline    int64  `json:"joinDeadline"`
	FulfillDeadline int64  `json:"fulfillDeadline"`
	MetadataURI     string `json:"metadataUri,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	Value           string `json:"value"`
}

type joinParams struct {
	Caller   string `json:"caller"`
	ID       uint64 `json:"id"`
	ClientID string `json:"clientId,omitempty"`
	Value    string `json:"value"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

type receiptParams struct {
	ID       uint64 `json:"id"`
	Sequence uint64 `json:"sequence"`
}

type callerIDParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type resolveMerkleParams struct {
	Caller      string `json:"caller"`
	ID          uint64 `json:"id"`
	Root        string `json:"root"`
	WinnerCount uint64 `json:"winnerCount"`
}

type resolveWinnersParams struct {
	Caller  string   `json:"caller"`
	ID      uint64   `json:"id"`
	Winners []string `json:"winners"`
}

type emergencyWithdrawParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
	To     string `json:"to"`
}

type claimRewardsParams struct {
	Caller   string   `json:"caller"`
	ID       uint64   `json:"id"`
	Sequence uint64   `json:"sequence"`
	Proof    []string `json:"proof,omitempty"`
}

type claimCancelledParams struct {
	Caller   string `json:"caller"`
	ID       uint64 `json:"id"`
	Sequence uint64 `json:"sequence"`
}

type fundParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type fundingPoolParams struct {
	ID    uint64 `json:"id"`
	Token string `json:"token"`
}

type withdrawFeesParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
}

type commitmentJSON struct {
	ID               uint64 `json:"id"`
	Creator          string `json:"creator"`
	Token            string `json:"token"`
	Stake            string `json:"stake"`
	CreatorFee       string `json:"creatorFee"`
	Description      string `json:"description"`
	JoinDeadline     int64  `json:"joinDeadline"`
	FulfillDeadline  int64  `json:"fulfillDeadline"`
	MetadataURI      string `json:"metadataUri,omitempty"`
	ParticipantCount uint64 `json:"participantCount"`
	Status           string `json:"status"`
	CreatedAt        int64  `json:"createdAt"`
}

type claimsJSON struct {
	WinnerClaim    string `json:"winnerClaim"`
	CreatorClaim   string `json:"creatorClaim"`
	CreatorClaimed string `json:"creatorClaimed"`
	WinnerCount    uint64 `json:"winnerCount"`
	Root           string `json:"root"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

func commitmentToJSON(c *commitment.Commitment) *commitmentJSON {
	return &commitmentJSON{
		ID:               c.ID,
		Creator:          encodeAddr(c.Creator),
		Token:            c.Token,
		Stake:            c.Stake.String(),
		CreatorFee:       c.CreatorFee.String(),
		Description:      string(c.Description),
		JoinDeadline:     c.JoinDeadline,
		FulfillDeadline:  c.FulfillDeadline,
		MetadataURI:      c.MetadataURI,
		ParticipantCount: c.ParticipantCount,
		Status:           c.Status.String(),
		CreatedAt:        c.CreatedAt,
	}
}

func claimsToJSON(claims *commitment.Claims) *claimsJSON {
	return &claimsJSON{
		WinnerClaim:    claims.WinnerClaim.String(),
		CreatorClaim:   claims.CreatorClaim.String(),
		CreatorClaimed: claims.CreatorClaimed.String(),
		WinnerCount:    claims.WinnerCount,
		Root:           "0x" + hex.EncodeToString(claims.Root[:]),
	}
}

func encodeAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func parseAddr(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(trimmed) != 40 {
		return addr, fmt.Errorf("expected 20 byte hex address, got %q", raw)
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q", raw)
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseHash(raw string) ([32]byte, error) {
	var hash [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(trimmed) != 64 {
		return hash, fmt.Errorf("expected 32 byte hex hash, got %q", raw)
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return hash, fmt.Errorf("invalid hash %q", raw)
	}
	copy(hash[:], decoded)
	return hash, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseWinners(raw []string) ([][20]byte, error) {
	winners := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		addr, err := parseAddr(entry)
		if err != nil {
			return nil, err
		}
		winners = append(winners, addr)
	}
	return winners, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, req *RPCRequest) {
	var params createParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	stake, err := parseAmount(params.Stake)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	creatorFee, err := parseAmount(params.CreatorFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	spec := commitment.CommitmentSpec{
		Token:           params.Token,
		Stake:           stake,
		CreatorFee:      creatorFee,
		Description:     []byte(params.Description),
		JoinDeadline:    params.JoinDeadline,
		FulfillDeadline: params.FulfillDeadline,
		MetadataURI:     params.MetadataURI,
	}

	s.mu.Lock()
	created, err := s.engine.Create(caller, spec, params.ClientID, value)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, commitmentToJSON(created))
}

func (s *Server) handleJoin(w http.ResponseWriter, req *RPCRequest) {
	var params joinParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	receipt, err := s.engine.Join(caller, params.ID, params.ClientID, value)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"id":       receipt.ID.CommitmentID,
		"sequence": receipt.ID.Sequence,
		"owner":    encodeAddr(receipt.Owner),
		"joinedAt": receipt.JoinedAt,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	c, err := s.engine.Get(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, commitmentToJSON(c))
}

func (s *Server) handleGetClaims(w http.ResponseWriter, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	claims, err := s.engine.GetClaims(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, claimsToJSON(claims))
}

func (s *Server) handleIsClaimed(w http.ResponseWriter, req *RPCRequest) {
	var params receiptParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	claimed, err := s.engine.IsClaimed(commitment.ReceiptID{CommitmentID: params.ID, Sequence: params.Sequence})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"claimed": claimed})
}

func (s *Server) handleResolveMerkle(w http.ResponseWriter, req *RPCRequest) {
	var params resolveMerkleParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	root, err := parseHash(params.Root)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	claims, err := s.engine.ResolveMerkle(caller, params.ID, root, params.WinnerCount)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, claimsToJSON(claims))
}

func (s *Server) handleResolveExplicit(w http.ResponseWriter, req *RPCRequest) {
	s.resolveWithWinners(w, req, s.engine.ResolveExplicit)
}

func (s *Server) handleResolveDisperse(w http.ResponseWriter, req *RPCRequest) {
	s.resolveWithWinners(w, req, s.engine.ResolveDisperse)
}

func (s *Server) resolveWithWinners(w http.ResponseWriter, req *RPCRequest, resolve func([20]byte, uint64, [][20]byte) (*commitment.Claims, error)) {
	var params resolveWinnersParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	winners, err := parseWinners(params.Winners)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	claims, err := resolve(caller, params.ID, winners)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, claimsToJSON(claims))
}

func (s *Server) handleCancel(w http.ResponseWriter, req *RPCRequest) {
	s.callerIDAction(w, req, s.engine.Cancel)
}

func (s *Server) handleEmergencyCancel(w http.ResponseWriter, req *RPCRequest) {
	s.callerIDAction(w, req, s.engine.EmergencyCancel)
}

func (s *Server) callerIDAction(w http.ResponseWriter, req *RPCRequest, action func([20]byte, uint64) error) {
	var params callerIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	err = action(caller, params.ID)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, req *RPCRequest) {
	var params emergencyWithdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	to, err := parseAddr(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	err = s.engine.EmergencyWithdraw(caller, params.ID, to)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleClaimRewards(w http.ResponseWriter, req *RPCRequest) {
	var params claimRewardsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	proof := make([][32]byte, 0, len(params.Proof))
	for _, entry := range params.Proof {
		node, err := parseHash(entry)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		proof = append(proof, node)
	}

	receiptID := commitment.ReceiptID{CommitmentID: params.ID, Sequence: params.Sequence}
	s.mu.Lock()
	amount, err := s.engine.ClaimRewards(caller, receiptID, proof)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
}

func (s *Server) handleClaimCreator(w http.ResponseWriter, req *RPCRequest) {
	var params callerIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	amount, err := s.engine.ClaimCreator(caller, params.ID)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
}

func (s *Server) handleClaimCancelled(w http.ResponseWriter, req *RPCRequest) {
	var params claimCancelledParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	receiptID := commitment.ReceiptID{CommitmentID: params.ID, Sequence: params.Sequence}
	s.mu.Lock()
	amount, err := s.engine.ClaimCancelled(caller, receiptID)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
}

func (s *Server) handleFund(w http.ResponseWriter, req *RPCRequest) {
	s.fundingAction(w, req, s.engine.Fund)
}

func (s *Server) handleRemoveFunding(w http.ResponseWriter, req *RPCRequest) {
	s.fundingAction(w, req, s.engine.RemoveFunding)
}

func (s *Server) fundingAction(w http.ResponseWriter, req *RPCRequest, action func([20]byte, uint64, string, *big.Int) error) {
	var params fundParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	err = action(caller, params.ID, params.Token, amount)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleFundingPool(w http.ResponseWriter, req *RPCRequest) {
	var params fundingPoolParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := s.engine.FundingPool(params.ID, params.Token)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
}

func (s *Server) handleWithdrawProtocolFees(w http.ResponseWriter, req *RPCRequest) {
	var params withdrawFeesParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.mu.Lock()
	amount, err := s.engine.WithdrawProtocolFees(caller, params.Token)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
}
