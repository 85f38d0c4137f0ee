package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"

	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"orderId": "abc"})

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "abc", body.Data.(map[string]any)["orderId"])
}

func TestWriteErrorStateConflictCarriesCurrentStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.StateConflict("order is SHIPPED", "SHIPPED"))

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, string(pkgerrors.CodeStateConflict), body.Error.Code)
	require.Equal(t, "order is SHIPPED", body.Error.Message)
	require.Equal(t, "SHIPPED", body.Error.Details.(map[string]any)["currentStatus"])
}

func TestWriteErrorChainCodes(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.Wrap(pkgerrors.CodeChainUnavailable, errors.New("dial tcp"), "read escrow"))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "5", w.Header().Get("Retry-After"))
	var unavailable types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&unavailable))
	require.True(t, unavailable.Error.Retryable)

	w = httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.Wrap(pkgerrors.CodeChainRejected, errors.New("bad origin"), "release rejected"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "release rejected", body.Error.Message)
}

func TestWriteErrorHidesUntypedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("pq: connection refused"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "internal server error", body.Error.Message)
	require.Nil(t, body.Error.Details)
}

func TestWriteErrorEchoesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-Id", "req-123")
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))

	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "req-123", body.RequestID)
	require.Equal(t, "order not found", body.Error.Message)
}

func TestWriteErrorPrefersContextRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-Id", "header-id")
	ctx := context.WithValue(context.Background(), chimw.RequestIDKey, "ctx-id")
	WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))

	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "ctx-id", body.RequestID)
}

func TestWriteErrorLogsClientErrorsAtWarn(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf, Format: logger.FormatJSON})

	WriteError(context.Background(), logg, httptest.NewRecorder(), pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can perform this action"))
	require.Contains(t, buf.String(), `"level":"warn"`)
	require.Contains(t, buf.String(), `"error_code":"FORBIDDEN"`)
	require.NotContains(t, buf.String(), `"stack"`)

	buf.Reset()
	w := httptest.NewRecorder()
	WriteError(context.Background(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("redis: timeout"), "idempotency store"))
	require.Contains(t, buf.String(), `"level":"error"`)
	require.Equal(t, "5", w.Header().Get("Retry-After"))
}
