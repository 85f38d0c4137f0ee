package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/types"
)

const (
	requestIDHeader = "X-Request-Id"
	// retryAfterSeconds is advertised on retryable 5xx answers.
	retryAfterSeconds = 5
)

// WriteSuccess writes data in the success envelope with status 200.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as the error envelope. Client errors (4xx) keep their
// message and are logged at warn; server errors get the generic public
// message and are logged at error with the full chain.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	clientErr := meta.HTTPStatus < http.StatusInternalServerError

	apiErr := types.APIError{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		Retryable: meta.Retryable,
	}
	if clientErr && typed.Message() != "" {
		apiErr.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, errorLogFields(err, typed))
		if clientErr {
			logg.Warn(logCtx, "request rejected")
		} else {
			logg.Error(logCtx, "request failed", err)
		}
	}

	if meta.Retryable && !clientErr {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{
		Error:     apiErr,
		RequestID: requestID(ctx, w),
	})
}

func requestID(ctx context.Context, w http.ResponseWriter) string {
	if id := chimw.GetReqID(ctx); id != "" {
		return id
	}
	return w.Header().Get(requestIDHeader)
}

// errorLogFields flattens the error dump plus the failing step, when the
// service recorded one in the details.
func errorLogFields(err error, typed *pkgerrors.Error) map[string]any {
	fields := pkgerrors.Dump(err).LogFields()
	if details, ok := typed.Details().(map[string]any); ok {
		if step, ok := details["step"]; ok {
			fields["step"] = step
		}
	}
	return fields
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
