package rpc

import (
	"fmt"
	"net/http"
)

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params BalanceParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	balance, err := s.node.TokenBalance(addr)
	if err != nil {
		writeHTLCError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{Address: formatAddress(addr), Balance: balance.String()})
}

func (s *Server) handleTokenAllowance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params AllowanceParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	spender, err := parseAddress("spender", params.Spender)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	allowance, err := s.node.TokenAllowance(owner, spender)
	if err != nil {
		writeHTLCError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AllowanceResult{
		Owner:     formatAddress(owner),
		Spender:   formatAddress(spender),
		Allowance: allowance.String(),
	})
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params ApproveParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if !principalFrom(r).mayActFor(owner) {
		writeError(w, http.StatusForbidden, req.ID, codeHTLCForbidden, "forbidden", "token subject does not match owner")
		return
	}
	spender, err := parseAddress("spender", params.Spender)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.TokenApprove(owner, spender, amount); err != nil {
		writeHTLCError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, OKResult{OK: true})
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params TransferParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	from, err := parseAddress("from", params.From)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if !principalFrom(r).mayActFor(from) {
		writeError(w, http.StatusForbidden, req.ID, codeHTLCForbidden, "forbidden", "token subject does not match sender")
		return
	}
	if from == s.node.Engine().Escrow() {
		writeError(w, http.StatusForbidden, req.ID, codeHTLCForbidden, "forbidden", "escrow custody moves only through htlc methods")
		return
	}
	to, err := parseAddress("to", params.To)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parsePositiveAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.TokenTransfer(from, to, amount); err != nil {
		writeHTLCError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, OKResult{OK: true})
}

func (s *Server) handleChainHeight(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, HeightResult{Height: s.node.CurrentHeight()})
}

func (s *Server) handleChainAdvance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params AdvanceParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if params.Blocks == 0 {
		writeInvalidParams(w, req.ID, fmt.Errorf("blocks must be positive"))
		return
	}
	height, err := s.node.AdvanceHeight(params.Blocks)
	if err != nil {
		writeHTLCError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, HeightResult{Height: height})
}
