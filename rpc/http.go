package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"pawnvault/native/loan"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the loan engine over a single JSON-RPC endpoint.
type Server struct {
	engine *loan.Engine
	logger *slog.Logger
}

func NewServer(engine *loan.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger}
}

// Start serves the JSON-RPC endpoint on the given address.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}

	requestID := uuid.NewString()
	logger := s.logger.With(slog.String("requestId", requestID), slog.String("method", req.Method))
	logger.Debug("rpc request received")

	switch req.Method {
	case "loan_originate":
		s.handleOriginate(w, logger, &req)
	case "loan_repay":
		s.handleRepay(w, logger, &req)
	case "loan_liquidate":
		s.handleLiquidate(w, logger, &req)
	case "loan_getPayoff":
		s.handleGetPayoff(w, &req)
	case "loan_getLoan":
		s.handleGetLoan(w, &req)
	case "loan_counters":
		s.handleCounters(w, &req)
	case "loan_setFeeRates":
		s.handleSetFeeRates(w, logger, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// rpcStatus maps engine errors onto HTTP status and JSON-RPC error codes.
func rpcStatus(err error) (int, int) {
	switch {
	case errors.Is(err, loan.ErrUnauthorized),
		errors.Is(err, loan.ErrAuthorizationFailed),
		errors.Is(err, loan.ErrCallerMismatch):
		return http.StatusForbidden, codeUnauthorized
	case errors.Is(err, loan.ErrNonceReused),
		errors.Is(err, loan.ErrInvalidLoanState),
		errors.Is(err, loan.ErrNotYetOverdue),
		errors.Is(err, loan.ErrArithmeticUnderflow),
		errors.Is(err, loan.ErrLoanNotFound):
		return http.StatusConflict, codeInvalidParams
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func parseBig(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	base := 10
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
		base = 16
	}
	parsed, ok := new(big.Int).SetString(trimmed, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("integer %q must not be negative", value)
	}
	if parsed.BitLen() > 256 {
		return nil, fmt.Errorf("integer %q exceeds 32 bytes", value)
	}
	return parsed, nil
}

func decodeSingleParam(req *RPCRequest, target interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	return json.Unmarshal(req.Params[0], target)
}
