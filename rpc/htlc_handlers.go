package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	coreerrors "htlcchain/core/errors"
	"htlcchain/core/types"
	"htlcchain/native/common"
	"htlcchain/native/htlc"
)

func (s *Server) handleHTLCCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params CreateParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if !principalFrom(r).mayActFor(caller) {
		writeError(w, http.StatusForbidden, req.ID, codeHTLCForbidden, "forbidden", "token subject does not match caller")
		return
	}
	p, err := params.toCreateParams()
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	id, err := s.node.HTLCCreate(caller, p)
	if err != nil {
		writeHTLCError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, OrderIDResult{ID: formatHex(id[:])})
}

func (s *Server) handleHTLCCreateOnBehalf(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params CreateOnBehalfParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if !principalFrom(r).mayActFor(caller) {
		writeError(w, http.StatusForbidden, req.ID, codeHTLCForbidden, "forbidden", "token subject does not match caller")
		return
	}
	initiator, err := parseAddress("initiator", params.Initiator)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	p, err := params.CreateParams.toCreateParams()
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	sig, err := decodeHex("signature", params.Signature)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if len(sig) != htlc.SignatureLength {
		writeInvalidParams(w, req.ID, fmt.Errorf("signature must be %d bytes", htlc.SignatureLength))
		return
	}
	id, err := s.node.HTLCCreateOnBehalf(caller, initiator, p, sig)
	if err != nil {
		writeHTLCError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, OrderIDResult{ID: formatHex(id[:])})
}

func (s *Server) handleHTLCRedeem(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params RedeemParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	id, err := parseHash("id", params.ID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	secret, err := decodeHex("secret", params.Secret)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.HTLCRedeem(id, secret); err != nil {
		writeHTLCError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, SettleResult{ID: formatHex(id[:]), Status: htlc.OrderRedeemed.String()})
}

func (s *Server) handleHTLCRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params OrderIDParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	id, err := parseHash("id", params.ID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.HTLCRefund(id); err != nil {
		writeHTLCError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, SettleResult{ID: formatHex(id[:]), Status: htlc.OrderRefunded.String()})
}

func (s *Server) handleHTLCGetOrder(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params OrderIDParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	id, err := parseHash("id", params.ID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	order, err := s.node.HTLCGet(id)
	if err != nil {
		writeHTLCError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatOrder(order))
}

func (s *Server) handleHTLCEscrowed(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	amount, err := s.node.HTLCEscrowed()
	if err != nil {
		writeHTLCError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, EscrowedResult{Account: formatAddress(s.node.Engine().Escrow()), Amount: amount.String()})
}

func (s *Server) handleHTLCDomain(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	domain := s.node.Domain()
	writeResult(w, req.ID, DomainResult{
		Name:              domain.Name,
		Version:           domain.Version,
		ChainID:           domain.ChainID,
		VerifyingContract: formatHex(domain.VerifyingContract[:]),
	})
}

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

func (s *Server) handleHTLCEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params EventsParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
	}
	limit := params.Limit
	switch {
	case limit < 0:
		writeInvalidParams(w, req.ID, fmt.Errorf("limit must not be negative"))
		return
	case limit == 0:
		limit = defaultEventsLimit
	case limit > maxEventsLimit:
		limit = maxEventsLimit
	}
	var orderID string
	if strings.TrimSpace(params.ID) != "" {
		id, err := parseHash("id", params.ID)
		if err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
		orderID = hex.EncodeToString(id[:])
	}
	eventType := strings.TrimSpace(params.Type)

	matched := make([]*types.Event, 0)
	for _, evt := range s.node.Events() {
		if eventType != "" && evt.Type != eventType {
			continue
		}
		if orderID != "" && evt.Attr("id") != orderID {
			continue
		}
		matched = append(matched, evt)
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	writeResult(w, req.ID, matched)
}

// writeHTLCError maps engine and ledger errors onto JSON-RPC codes.
func writeHTLCError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeHTLCInternal
	message := "internal_error"
	switch {
	case errors.Is(err, htlc.ErrInvalidParty),
		errors.Is(err, htlc.ErrInvalidAmount),
		errors.Is(err, htlc.ErrInvalidTimelock),
		errors.Is(err, coreerrors.ErrInvalidAmount),
		errors.Is(err, coreerrors.ErrNegativeAllowance):
		status = http.StatusBadRequest
		code = codeHTLCInvalidParams
		message = "invalid_params"
	case errors.Is(err, htlc.ErrOrderNotFound):
		status = http.StatusNotFound
		code = codeHTLCNotFound
		message = "not_found"
	case errors.Is(err, htlc.ErrSignatureInvalid),
		errors.Is(err, htlc.ErrSecretMismatch),
		errors.Is(err, common.ErrModulePaused):
		status = http.StatusForbidden
		code = codeHTLCForbidden
		message = "forbidden"
	case errors.Is(err, htlc.ErrDuplicateOrder),
		errors.Is(err, htlc.ErrAlreadyFulfilled),
		errors.Is(err, htlc.ErrTimelockNotExpired),
		errors.Is(err, htlc.ErrInsufficientFunds),
		coreerrors.IsInsufficientFunds(err):
		status = http.StatusConflict
		code = codeHTLCConflict
		message = "conflict"
	}
	writeError(w, status, id, code, message, err.Error())
}
