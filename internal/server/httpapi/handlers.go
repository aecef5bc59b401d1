package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/fedid/internal/common"
	"github.com/dmitrijs2005/fedid/internal/server/auth"
	"github.com/dmitrijs2005/fedid/internal/server/models"
	"github.com/dmitrijs2005/fedid/internal/server/ratelimit"
)

// allow applies limiter to key and writes the rejection when the request may
// not proceed.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, endpoint string, limiter ratelimit.Limiter, key string) bool {
	if limiter == nil {
		return true
	}
	d, err := limiter.Allow(r.Context(), endpoint+":"+key)
	if err != nil {
		s.log(r.Context()).Error(r.Context(), "rate limiter failed", "endpoint", endpoint, "error", err)
		writeUnknown(w)
		return false
	}
	if !d.Allowed {
		s.metrics.RateLimited.WithLabelValues(endpoint).Inc()
		writeRateLimited(w, d.RetryAfter)
		return false
	}
	return true
}

func writeParamError(w http.ResponseWriter, perr *paramError) {
	writeError(w, http.StatusBadRequest, perr.code, perr.Error())
}

func (s *Server) hashDetails(w http.ResponseWriter, r *http.Request) {
	caller := s.trust.Authenticate(r.Context(), auth.RequestFromHTTP(r))
	if caller.Kind != auth.User {
		writeUnauthorized(w)
		return
	}
	if !s.allow(w, r, "hash_details", s.limits.HashDetails, caller.Token) {
		return
	}

	p := s.peppers.Snapshot()
	body := models.HashDetails{
		Algorithms:   []string{common.HashAlgorithmSHA256},
		LookupPepper: p.Current,
	}
	if p.Previous != "" {
		body.AltLookupPeppers = []string{p.Previous}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := s.trust.Authenticate(ctx, auth.RequestFromHTTP(r))
	if caller.Kind != auth.User {
		writeUnauthorized(w)
		return
	}
	if !s.allow(w, r, "lookup", s.limits.Lookup, caller.Token) {
		return
	}

	obj, perr := readObject(w, r)
	if perr != nil {
		writeParamError(w, perr)
		return
	}
	params, perr := parseLookup(obj, s.maxAddresses)
	if perr != nil {
		writeParamError(w, perr)
		return
	}
	if params.algorithm != common.HashAlgorithmSHA256 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidParam, "algorithm: unsupported algorithm")
		return
	}
	if !s.peppers.Snapshot().IsLive(params.pepper) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidPepper, "pepper: does not match a current pepper")
		return
	}

	res, err := s.resolver.Resolve(ctx, params.addresses)
	if err != nil {
		s.log(ctx).Error(ctx, "lookup failed", "error", err)
		writeUnknown(w)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := auth.RequestFromHTTP(r)
	if !s.trust.IsPeer(ctx, req) {
		s.metrics.PushesRejected.WithLabelValues("untrusted").Inc()
		writeUnauthorized(w)
		return
	}
	key, err := s.trust.ClientAddr(req)
	if err != nil {
		key = r.RemoteAddr
	}
	if !s.allow(w, r, "lookups", s.limits.Lookups, key) {
		return
	}

	obj, perr := readObject(w, r)
	if perr != nil {
		s.metrics.PushesRejected.WithLabelValues("invalid").Inc()
		writeParamError(w, perr)
		return
	}
	params, perr := parsePush(obj)
	if perr != nil {
		s.metrics.PushesRejected.WithLabelValues("invalid").Inc()
		writeParamError(w, perr)
		return
	}
	if params.algorithm != common.HashAlgorithmSHA256 {
		s.metrics.PushesRejected.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, ErrCodeInvalidParam, "algorithm: unsupported algorithm")
		return
	}

	err = s.ingester.Ingest(ctx, params.server, params.pepper, params.hashes)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, struct{}{})
	case errors.Is(err, common.ErrInvalidPepper):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidPepper, "pepper: does not match a current pepper")
	case errors.Is(err, common.ErrorValidation):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidParam, err.Error())
	default:
		s.log(ctx).Error(ctx, "federation push failed", "server", params.server, "error", err)
		writeUnknown(w)
	}
}
