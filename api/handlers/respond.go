package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"github.com/malbeclabs/rewards/api/metrics"
	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/treestore"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response except rate limiting.
type ErrorResponse struct {
	Code    *uint32 `json:"code,omitempty"`
	Kind    string  `json:"kind"`
	Name    string  `json:"name,omitempty"`
	Message string  `json:"message"`
}

// errBadRequest marks malformed input that never reached the engine.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps an error to its HTTP status and response body.
func statusFor(err error) (int, ErrorResponse) {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, ErrorResponse{Kind: "request", Message: err.Error()}
	}
	if errors.Is(err, treestore.ErrNotFound) {
		return http.StatusNotFound, ErrorResponse{Kind: errs.KindStorage.String(), Message: err.Error()}
	}
	e, ok := errs.As(err)
	if !ok {
		return http.StatusInternalServerError, ErrorResponse{Kind: errs.KindUnknown.String(), Message: "internal error"}
	}
	resp := ErrorResponse{Code: &e.Code, Kind: e.Kind.String(), Name: e.Name, Message: err.Error()}
	switch e.Kind {
	case errs.KindConfig:
		return http.StatusBadRequest, resp
	case errs.KindClaim:
		if errors.Is(err, errs.ErrUnauthorized) || errors.Is(err, errs.ErrUnauthorizedRecipient) {
			return http.StatusForbidden, resp
		}
		return http.StatusConflict, resp
	case errs.KindProof:
		return http.StatusUnprocessableEntity, resp
	case errs.KindStorage:
		if errors.Is(err, errs.ErrNotFound) {
			return http.StatusNotFound, resp
		}
		resp.Message = "internal error"
		return http.StatusInternalServerError, resp
	default:
		resp.Message = "internal error"
		return http.StatusInternalServerError, resp
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := statusFor(err)
	metrics.ErrorResponsesTotal.WithLabelValues(resp.Kind).Inc()
	if status >= http.StatusInternalServerError {
		h.log.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "kind", resp.Kind, "error", err)
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
	} else {
		h.log.Debug("api: request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func pathKey(r *http.Request, name string) (solana.PublicKey, error) {
	raw := chi.URLParam(r, name)
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, badRequest("invalid %s %q", name, raw)
	}
	return pk, nil
}

func pathKeys(r *http.Request, a, b string) (solana.PublicKey, solana.PublicKey, error) {
	ka, err := pathKey(r, a)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	kb, err := pathKey(r, b)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return ka, kb, nil
}
