package rpc

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"pawnvault/crypto"
	"pawnvault/native/loan"
	"pawnvault/observability"
)

type signatureParam struct {
	R string `json:"r"`
	S string `json:"s"`
	V string `json:"v"`
}

type collateralParam struct {
	Kind     string `json:"kind"`
	Asset    string `json:"asset"`
	ItemID   string `json:"itemId"`
	Quantity string `json:"quantity,omitempty"`
	Data     string `json:"data,omitempty"`
}

type originateParams struct {
	Borrower             string          `json:"borrower"`
	Lender               string          `json:"lender"`
	Collateral           collateralParam `json:"collateral"`
	SettlementToken      string          `json:"settlementToken"`
	Amount               string          `json:"amount"`
	DurationSeconds      uint64          `json:"durationSeconds"`
	InterestRatePerMille uint64          `json:"interestRatePerMille"`
	Nonce                string          `json:"nonce"`
	Signature            signatureParam  `json:"signature"`
}

type loanActionParams struct {
	Caller    string         `json:"caller"`
	LoanID    uint64         `json:"loanId"`
	Nonce     string         `json:"nonce"`
	Signature signatureParam `json:"signature"`
}

type loanQueryParams struct {
	LoanID uint64 `json:"loanId"`
}

type feeRateParams struct {
	Caller              string  `json:"caller"`
	BorrowerFeePerMille *uint64 `json:"borrowerFeePerMille,omitempty"`
	LenderFeePerMille   *uint64 `json:"lenderFeePerMille,omitempty"`
}

type originateResult struct {
	LoanID          uint64   `json:"loanId"`
	RepaymentAmount *big.Int `json:"repaymentAmount"`
	StartTime       int64    `json:"startTime"`
}

type repayResult struct {
	LoanID       uint64   `json:"loanId"`
	InterestPaid *big.Int `json:"interestPaid"`
}

type liquidateResult struct {
	LoanID     uint64 `json:"loanId"`
	Liquidated bool   `json:"liquidated"`
}

type payoffResult struct {
	LoanID uint64   `json:"loanId"`
	Payoff *big.Int `json:"payoff"`
}

type loanResult struct {
	Loan     *loan.LoanRecord `json:"loan,omitempty"`
	Active   bool             `json:"active"`
	Resolved bool             `json:"resolved"`
}

type countersResult struct {
	TotalCreated uint64 `json:"totalCreated"`
	ActiveLoans  uint64 `json:"activeLoans"`
}

func parseAddress(value string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(value))
}

func parseSignature(param signatureParam) (loan.Signature, error) {
	r, err := parseBig(param.R)
	if err != nil {
		return loan.Signature{}, fmt.Errorf("signature r: %w", err)
	}
	s, err := parseBig(param.S)
	if err != nil {
		return loan.Signature{}, fmt.Errorf("signature s: %w", err)
	}
	v, err := parseBig(param.V)
	if err != nil {
		return loan.Signature{}, fmt.Errorf("signature v: %w", err)
	}
	return loan.Signature{R: r, S: s, V: v}, nil
}

func parseCollateral(param collateralParam) (loan.Collateral, error) {
	var kind loan.CollateralKind
	switch strings.ToLower(strings.TrimSpace(param.Kind)) {
	case "single":
		kind = loan.CollateralSingleUnit
	case "multi":
		kind = loan.CollateralMultiUnit
	default:
		return loan.Collateral{}, fmt.Errorf("unknown collateral kind %q", param.Kind)
	}
	asset, err := parseAddress(param.Asset)
	if err != nil {
		return loan.Collateral{}, fmt.Errorf("collateral asset: %w", err)
	}
	itemID, err := parseBig(param.ItemID)
	if err != nil {
		return loan.Collateral{}, fmt.Errorf("collateral itemId: %w", err)
	}
	collateral := loan.Collateral{Kind: kind, Asset: asset, ItemID: itemID}
	if strings.TrimSpace(param.Quantity) != "" {
		quantity, err := parseBig(param.Quantity)
		if err != nil {
			return loan.Collateral{}, fmt.Errorf("collateral quantity: %w", err)
		}
		collateral.Quantity = quantity
	}
	if trimmed := strings.TrimPrefix(strings.TrimSpace(param.Data), "0x"); trimmed != "" {
		data, err := hex.DecodeString(trimmed)
		if err != nil {
			return loan.Collateral{}, fmt.Errorf("collateral data: %w", err)
		}
		collateral.Data = data
	}
	return collateral, nil
}

func (s *Server) handleOriginate(w http.ResponseWriter, logger *slog.Logger, req *RPCRequest) {
	var params originateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	lender, err := parseAddress(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender", err.Error())
		return
	}
	collateral, err := parseCollateral(params.Collateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid collateral", err.Error())
		return
	}
	settlementToken, err := parseAddress(params.SettlementToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid settlement token", err.Error())
		return
	}
	amount, err := parseBig(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	nonce, err := parseBig(params.Nonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid nonce", err.Error())
		return
	}
	sig, err := parseSignature(params.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid signature", err.Error())
		return
	}

	order := loan.LoanOrder{
		Lender:               lender,
		Collateral:           collateral,
		SettlementToken:      settlementToken,
		Amount:               amount,
		DurationSeconds:      params.DurationSeconds,
		InterestRatePerMille: params.InterestRatePerMille,
		Nonce:                nonce,
	}
	record, err := s.engine.Originate(borrower, order, sig)
	if err != nil {
		status, code := rpcStatus(err)
		logger.Warn("origination rejected", slog.Any("error", err))
		recordAuthFailure(err)
		writeError(w, status, req.ID, code, "origination failed", err.Error())
		return
	}
	observability.LoanMetrics().Originations.WithLabelValues(kindLabel(record.Collateral.Kind)).Inc()
	logger.Info("loan originated", slog.Uint64("loanId", record.ID))
	writeResult(w, req.ID, originateResult{LoanID: record.ID, RepaymentAmount: record.RepaymentAmount, StartTime: record.StartTime})
}

func (s *Server) handleRepay(w http.ResponseWriter, logger *slog.Logger, req *RPCRequest) {
	params, caller, nonce, sig, ok := s.decodeAction(w, req)
	if !ok {
		return
	}
	interest, err := s.engine.Repay(caller, params.LoanID, nonce, sig)
	if err != nil {
		status, code := rpcStatus(err)
		logger.Warn("repayment rejected", slog.Uint64("loanId", params.LoanID), slog.Any("error", err))
		recordAuthFailure(err)
		writeError(w, status, req.ID, code, "repayment failed", err.Error())
		return
	}
	observability.LoanMetrics().Repayments.Inc()
	logger.Info("loan repaid", slog.Uint64("loanId", params.LoanID))
	writeResult(w, req.ID, repayResult{LoanID: params.LoanID, InterestPaid: interest})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, logger *slog.Logger, req *RPCRequest) {
	params, caller, nonce, sig, ok := s.decodeAction(w, req)
	if !ok {
		return
	}
	if err := s.engine.Liquidate(caller, params.LoanID, nonce, sig); err != nil {
		status, code := rpcStatus(err)
		logger.Warn("liquidation rejected", slog.Uint64("loanId", params.LoanID), slog.Any("error", err))
		recordAuthFailure(err)
		writeError(w, status, req.ID, code, "liquidation failed", err.Error())
		return
	}
	observability.LoanMetrics().Liquidations.Inc()
	logger.Info("loan liquidated", slog.Uint64("loanId", params.LoanID))
	writeResult(w, req.ID, liquidateResult{LoanID: params.LoanID, Liquidated: true})
}

func (s *Server) handleGetPayoff(w http.ResponseWriter, req *RPCRequest) {
	var params loanQueryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	payoff, err := s.engine.AccruedPayoff(params.LoanID)
	if err != nil {
		status, code := rpcStatus(err)
		writeError(w, status, req.ID, code, "payoff query failed", err.Error())
		return
	}
	writeResult(w, req.ID, payoffResult{LoanID: params.LoanID, Payoff: payoff})
}

func (s *Server) handleGetLoan(w http.ResponseWriter, req *RPCRequest) {
	var params loanQueryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	record, flags, err := s.engine.Loan(params.LoanID)
	if err != nil {
		status, code := rpcStatus(err)
		writeError(w, status, req.ID, code, "loan query failed", err.Error())
		return
	}
	writeResult(w, req.ID, loanResult{Loan: record, Active: flags.Active, Resolved: flags.Resolved})
}

func (s *Server) handleCounters(w http.ResponseWriter, req *RPCRequest) {
	counters, err := s.engine.Counters()
	if err != nil {
		status, code := rpcStatus(err)
		writeError(w, status, req.ID, code, "counters query failed", err.Error())
		return
	}
	writeResult(w, req.ID, countersResult{TotalCreated: counters.TotalCreated, ActiveLoans: counters.ActiveLoans})
}

func (s *Server) handleSetFeeRates(w http.ResponseWriter, logger *slog.Logger, req *RPCRequest) {
	var params feeRateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	if params.BorrowerFeePerMille != nil {
		if err := s.engine.SetBorrowerFeeRate(caller, *params.BorrowerFeePerMille); err != nil {
			status, code := rpcStatus(err)
			writeError(w, status, req.ID, code, "fee update failed", err.Error())
			return
		}
	}
	if params.LenderFeePerMille != nil {
		if err := s.engine.SetLenderFeeRate(caller, *params.LenderFeePerMille); err != nil {
			status, code := rpcStatus(err)
			writeError(w, status, req.ID, code, "fee update failed", err.Error())
			return
		}
	}
	fees := s.engine.FeeParams()
	logger.Info("fee rates updated",
		slog.Uint64("borrowerFeePerMille", fees.BorrowerFeePerMille),
		slog.Uint64("lenderFeePerMille", fees.LenderFeePerMille))
	writeResult(w, req.ID, map[string]uint64{
		"borrowerFeePerMille": fees.BorrowerFeePerMille,
		"lenderFeePerMille":   fees.LenderFeePerMille,
	})
}

func (s *Server) decodeAction(w http.ResponseWriter, req *RPCRequest) (loanActionParams, crypto.Address, *big.Int, loan.Signature, bool) {
	var params loanActionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return params, crypto.Address{}, nil, loan.Signature{}, false
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return params, crypto.Address{}, nil, loan.Signature{}, false
	}
	nonce, err := parseBig(params.Nonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid nonce", err.Error())
		return params, crypto.Address{}, nil, loan.Signature{}, false
	}
	sig, err := parseSignature(params.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid signature", err.Error())
		return params, crypto.Address{}, nil, loan.Signature{}, false
	}
	return params, caller, nonce, sig, true
}

func kindLabel(kind loan.CollateralKind) string {
	switch kind {
	case loan.CollateralSingleUnit:
		return "single"
	case loan.CollateralMultiUnit:
		return "multi"
	default:
		return "unknown"
	}
}

func recordAuthFailure(err error) {
	switch {
	case err == nil:
		return
	case err == loan.ErrNonceReused:
		observability.LoanMetrics().AuthFailures.WithLabelValues("nonce_reused").Inc()
	case err == loan.ErrAuthorizationFailed:
		observability.LoanMetrics().AuthFailures.WithLabelValues("bad_signature").Inc()
	case err == loan.ErrCallerMismatch:
		observability.LoanMetrics().AuthFailures.WithLabelValues("caller_mismatch").Inc()
	}
}
