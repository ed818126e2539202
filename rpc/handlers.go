package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"tradeup/native/tradeup"
	"tradeup/observability"
)

type getDepositParams struct {
	Index uint64 `json:"index"`
}

type capabilityParams struct {
	ID string `json:"id"`
}

type notifyDepositParams struct {
	Caller  string `json:"caller"`
	From    string `json:"from"`
	AssetID string `json:"assetId"`
	Data    string `json:"data,omitempty"`
}

type redeemParams struct {
	Caller string `json:"caller"`
	Index  uint64 `json:"index"`
}

type redeemAllParams struct {
	Caller string `json:"caller"`
}

type statusResult struct {
	Status string `json:"status"`
	Length uint64 `json:"length"`
}

type assetSpecJSON struct {
	Class    string `json:"class"`
	ID       string `json:"id"`
	Wildcard bool   `json:"wildcard"`
}

type paramsResult struct {
	Start     assetSpecJSON `json:"start"`
	Final     assetSpecJSON `json:"final"`
	ExpiresAt int64         `json:"expiresAt"`
}

type depositJSON struct {
	Index      uint64 `json:"index"`
	Class      string `json:"class"`
	AssetID    string `json:"assetId"`
	Depositor  string `json:"depositor"`
	Consumed   bool   `json:"consumed"`
	ReceivedAt int64  `json:"receivedAt"`
}

type notifyDepositResult struct {
	Ack string `json:"ack"`
}

func (s *Server) handleStatus(w http.ResponseWriter, req *RPCRequest) {
	status, err := s.engine.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	length, err := s.engine.DepositCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	writeResult(w, req.ID, statusResult{Status: status.String(), Length: length})
}

func (s *Server) handleParams(w http.ResponseWriter, req *RPCRequest) {
	params := s.engine.Params()
	writeResult(w, req.ID, paramsResult{
		Start:     specJSON(params.Start),
		Final:     specJSON(params.Final),
		ExpiresAt: params.ExpiresAt,
	})
}

func (s *Server) handleGetDeposit(w http.ResponseWriter, req *RPCRequest) {
	var params getDepositParams
	if !decodeParams(w, req, &params) {
		return
	}
	dep, err := s.engine.DepositAt(params.Index)
	if err != nil {
		if errors.Is(err, tradeup.ErrNoSuchDeposit) {
			writeError(w, http.StatusNotFound, req.ID, codeDepositNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	writeResult(w, req.ID, toDepositJSON(params.Index, dep))
}

func (s *Server) handleListDeposits(w http.ResponseWriter, req *RPCRequest) {
	deposits, err := s.engine.Deposits()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	result := make([]depositJSON, 0, len(deposits))
	for i, dep := range deposits {
		result = append(result, toDepositJSON(uint64(i), dep))
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleSupportsCapability(w http.ResponseWriter, req *RPCRequest) {
	var params capabilityParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := parseSelector(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, s.engine.SupportsCapability(id))
}

func (s *Server) handleNotifyDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params notifyDepositParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	from, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	assetID, err := parseAssetID(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	data, err := parseHexBlob(params.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	ack, err := s.engine.NotifyAssetReceived(caller, from, assetID, data)
	if err != nil {
		observability.Escrow().DepositsRejected.WithLabelValues(rejectionReason(err)).Inc()
		status, code := notifyErrorCode(err)
		writeError(w, status, req.ID, code, "deposit_rejected", err.Error())
		return
	}
	writeResult(w, req.ID, notifyDepositResult{Ack: "0x" + hex.EncodeToString(ack[:])})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params redeemParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.RedeemAt(caller, params.Index); err != nil {
		status, code := redeemErrorCode(err)
		writeError(w, status, req.ID, code, "redeem_failed", err.Error())
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRedeemAll(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params redeemAllParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.RedeemAll(caller); err != nil {
		status, code := redeemErrorCode(err)
		writeError(w, status, req.ID, code, "redeem_failed", err.Error())
		return
	}
	writeResult(w, req.ID, true)
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "at most one parameter object expected")
		return false
	}
	if len(req.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func notifyErrorCode(err error) (int, int) {
	switch {
	case errors.Is(err, tradeup.ErrAuxiliaryData),
		errors.Is(err, tradeup.ErrUntrustedCaller),
		errors.Is(err, tradeup.ErrAssetNotHeld):
		return http.StatusBadRequest, codeBadNotification
	case errors.Is(err, tradeup.ErrChainClosed):
		return http.StatusConflict, codeChainClosed
	case errors.Is(err, tradeup.ErrDepositRejected):
		return http.StatusConflict, codeDepositRejected
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func redeemErrorCode(err error) (int, int) {
	switch {
	case errors.Is(err, tradeup.ErrChainActive):
		return http.StatusConflict, codeChainActive
	case errors.Is(err, tradeup.ErrNothingToRedeem):
		return http.StatusConflict, codeNothingToRedeem
	case errors.Is(err, tradeup.ErrNoSuchDeposit):
		return http.StatusNotFound, codeDepositNotFound
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, tradeup.ErrAuxiliaryData):
		return "auxiliary_data"
	case errors.Is(err, tradeup.ErrUntrustedCaller):
		return "untrusted_caller"
	case errors.Is(err, tradeup.ErrAssetNotHeld):
		return "asset_not_held"
	case errors.Is(err, tradeup.ErrChainClosed):
		return "chain_closed"
	case errors.Is(err, tradeup.ErrDepositRejected):
		return "gate"
	default:
		return "internal"
	}
}

func specJSON(spec tradeup.AssetSpec) assetSpecJSON {
	id := "0"
	if spec.ID != nil {
		id = spec.ID.String()
	}
	return assetSpecJSON{
		Class:    "0x" + hex.EncodeToString(spec.Class[:]),
		ID:       id,
		Wildcard: spec.Wildcard(),
	}
}

func toDepositJSON(index uint64, dep *tradeup.Deposit) depositJSON {
	out := depositJSON{Index: index}
	if dep == nil {
		return out
	}
	out.Class = "0x" + hex.EncodeToString(dep.Class[:])
	out.AssetID = dep.AssetID.String()
	out.Depositor = "0x" + hex.EncodeToString(dep.Depositor[:])
	out.Consumed = dep.Consumed
	out.ReceivedAt = dep.ReceivedAt
	return out
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("malformed address %q", value)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address %q must be 20 bytes", value)
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseAssetID(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "0x") {
		id, ok := new(big.Int).SetString(strings.TrimPrefix(trimmed, "0x"), 16)
		if !ok {
			return nil, fmt.Errorf("malformed asset id %q", value)
		}
		return id, nil
	}
	id, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("malformed asset id %q", value)
	}
	return id, nil
}

func parseHexBlob(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
	if err != nil {
		return nil, fmt.Errorf("malformed data blob %q", value)
	}
	return raw, nil
}

func parseSelector(value string) ([4]byte, error) {
	var sel [4]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(sel) {
		return sel, fmt.Errorf("malformed capability id %q", value)
	}
	copy(sel[:], raw)
	return sel, nil
}
