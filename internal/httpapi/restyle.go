package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/page-restyle/internal/auth"
	"github.com/fpang/page-restyle/internal/restyle"
	"github.com/fpang/page-restyle/internal/sse"
	"github.com/fpang/page-restyle/internal/store"
)

// handleRestyle handles POST /pages/{id}/restyle.
func (s *Server) handleRestyle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)
	pageID := strings.TrimSpace(chi.URLParam(r, "id"))
	logger := log.With().Str("userId", userID).Str("pageId", pageID).Logger()

	if s.buffered {
		httpError(w, http.StatusNotImplemented, "restyle streaming is not available on this endpoint")
		return
	}

	req, fields, err := decodeRequest(w, r)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(fields) > 0 {
		logger.Info().Int("violations", len(fields)).Msg("Rejected invalid restyle request")
		validationError(w, fields)
		return
	}

	apiKey, err := s.keys.Resolve(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNoAPIKey) {
			httpError(w, http.StatusForbidden, "no image generation API key configured")
			return
		}
		httpError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	if status, msg := s.checkEntitlement(ctx, userID); status != 0 {
		httpError(w, status, msg)
		return
	}

	restyler, err := s.newRestyler(ctx, apiKey)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "image service unavailable", err.Error())
		return
	}

	// Quota is consumed only after every other pre-stream check has passed.
	remaining, err := s.store.ConsumeQuota(ctx, userID, store.FeatureRestyle)
	if err != nil {
		if errors.Is(err, store.ErrQuotaExhausted) {
			httpError(w, http.StatusTooManyRequests, "restyle quota exhausted")
			return
		}
		httpError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	job := restyle.Job{
		ID:       restyle.NewJobID(),
		PageID:   pageID,
		OwnerID:  userID,
		Request:  *req,
		Restyler: restyler,
	}
	logger.Info().Str("jobId", job.ID).Int("quotaRemaining", remaining).Msg("Restyle job accepted")

	w.Header().Set(JobIDHeader, job.ID)
	stream := sse.Open(w)

	// A client disconnect must not stop the job; the server's job context
	// does.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(s.jobCtx, cancel)
	defer stop()

	if _, err := s.runner.Run(jobCtx, job, stream); err != nil {
		logger.Warn().Err(err).Str("jobId", job.ID).Msg("Restyle job ended with error")
	}
	logger.Debug().Str("jobId", job.ID).Int("frames", stream.Frames()).Msg("Restyle stream closed")
	if stream.Gone() {
		logger.Info().Str("jobId", job.ID).Msg("Restyle job finished after the client disconnected")
	}
}

// decodeRequest parses and validates the body. A non-nil error means the
// body is not JSON; validation problems come back as fields.
func decodeRequest(w http.ResponseWriter, r *http.Request) (*restyle.Request, []restyle.FieldError, error) {
	var req restyle.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return nil, nil, err
	}
	if err := req.Validate(); err != nil {
		var verr *restyle.ValidationError
		if errors.As(err, &verr) {
			return &req, verr.Fields, nil
		}
		return &req, []restyle.FieldError{{Field: "body", Message: err.Error()}}, nil
	}
	return &req, nil, nil
}

// checkEntitlement returns a non-zero status when the caller may not start
// a job: 402 without an active entitlement, 403 when it is suspended.
func (s *Server) checkEntitlement(ctx context.Context, userID string) (int, string) {
	ent, err := s.store.GetEntitlement(ctx, userID, store.FeatureRestyle)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("Failed to load entitlement")
		return http.StatusInternalServerError, "internal error"
	}
	switch {
	case ent == nil || !ent.Active:
		return http.StatusPaymentRequired, "restyle is not included in your plan"
	case ent.Suspended:
		return http.StatusForbidden, "restyle access is suspended"
	}
	return 0, ""
}
