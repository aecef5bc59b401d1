package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/fedid/internal/common"
	"github.com/dmitrijs2005/fedid/internal/logging"
	"github.com/dmitrijs2005/fedid/internal/netx"
	"github.com/dmitrijs2005/fedid/internal/server/metrics"
	"github.com/dmitrijs2005/fedid/internal/server/models"
)

// HashSource yields the local active hashes under a given pepper.
type HashSource interface {
	ActiveHashes(ctx context.Context, pepper string) ([]string, error)
}

// Pusher announces this server's identifiers to the configured federation
// servers, hashed under each target's own pepper.
type Pusher struct {
	client     *http.Client
	hashes     HashSource
	serverName string
	targets    []string
	token      string
	metrics    *metrics.Metrics
	logger     logging.Logger
}

// NewPusher builds a pusher. token, when set, authenticates the
// hash_details request on the targets.
func NewPusher(client *http.Client, hashes HashSource, serverName string, targets []string, token string,
	mt *metrics.Metrics, logger logging.Logger) *Pusher {
	return &Pusher{
		client:     client,
		hashes:     hashes,
		serverName: serverName,
		targets:    targets,
		token:      token,
		metrics:    mt,
		logger:     logger.With("module", "pusher"),
	}
}

// PushAll pushes to every target. A failing target does not stop the
// others; all failures are returned joined.
func (p *Pusher) PushAll(ctx context.Context) error {
	var errs []error
	for _, t := range p.targets {
		err := p.Push(ctx, t)
		p.metrics.OutboundPushes.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			p.logger.Warn(ctx, "federation push failed", "target", t, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}
		p.logger.Info(ctx, "federation push sent", "target", t)
	}
	return errors.Join(errs...)
}

// Push sends the local active hashes to one federation server.
func (p *Pusher) Push(ctx context.Context, target string) error {
	base := strings.TrimRight(target, "/")

	detailsURL := base + common.HashDetailsPath
	if p.token != "" {
		detailsURL += "?" + url.Values{common.AccessTokenQueryName: {p.token}}.Encode()
	}

	var details models.HashDetails
	if err := netx.GetJSON(ctx, p.client, detailsURL, &details); err != nil {
		return fmt.Errorf("hash details: %w", err)
	}
	if details.LookupPepper == "" {
		return fmt.Errorf("hash details: %w", common.ErrInvalidPepper)
	}
	if !supportsSHA256(details.Algorithms) {
		return fmt.Errorf("hash details: remote does not offer %s", common.HashAlgorithmSHA256)
	}

	hashes, err := p.hashes.ActiveHashes(ctx, details.LookupPepper)
	if err != nil {
		return err
	}

	body := models.PushRequest{
		Algorithm: common.HashAlgorithmSHA256,
		Pepper:    details.LookupPepper,
		Mappings:  map[string][]string{p.serverName: hashes},
	}
	if err := netx.PostJSON(ctx, p.client, base+common.LookupsPath, body, http.StatusCreated, nil); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

func supportsSHA256(algorithms []string) bool {
	for _, a := range algorithms {
		if a == common.HashAlgorithmSHA256 {
			return true
		}
	}
	return false
}
