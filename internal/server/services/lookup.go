package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/fedid/internal/server/metrics"
	"github.com/dmitrijs2005/fedid/internal/server/models"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/repomanager"
)

// LookupService answers hash lookups from the local directory first and the
// federation ledger for whatever remains.
type LookupService struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	revealInactive bool
	metrics        *metrics.Metrics
}

// NewLookupService fixes whether inactive identifiers are disclosed for the
// lifetime of the service.
func NewLookupService(db *sql.DB, m repomanager.RepositoryManager, revealInactive bool, mt *metrics.Metrics) *LookupService {
	return &LookupService{db: db, repomanager: m, revealInactive: revealInactive, metrics: mt}
}

// Resolve maps the submitted hashes to local addresses and federated
// servers. Only submitted hashes ever appear in the result.
func (s *LookupService) Resolve(ctx context.Context, hashes []string) (*models.LookupResponse, error) {
	res := &models.LookupResponse{
		Mappings:           map[string]string{},
		ThirdPartyMappings: map[string][]string{},
	}
	if s.revealInactive {
		res.InactiveMappings = map[string]string{}
	}

	input := uniqueNonEmpty(hashes)
	if len(input) == 0 {
		return res, nil
	}
	s.metrics.LookupHashes.Add(float64(len(input)))

	submitted := make(map[string]struct{}, len(input))
	for _, h := range input {
		submitted[h] = struct{}{}
	}

	// With disclosure off inactive rows are not even read, so they cannot
	// influence the answer.
	entries, err := s.repomanager.Hashes(s.db).FindByHashes(ctx, input, !s.revealInactive)
	if err != nil {
		return nil, fmt.Errorf("hash directory: %w", err)
	}

	for _, e := range entries {
		if _, ok := submitted[e.Hash]; !ok {
			continue
		}
		if e.Active {
			res.Mappings[e.Hash] = e.Address
			delete(res.InactiveMappings, e.Hash)
			continue
		}
		if _, active := res.Mappings[e.Hash]; !active && s.revealInactive {
			res.InactiveMappings[e.Hash] = e.Address
		}
	}

	remainder := make([]string, 0, len(input))
	for _, h := range input {
		if _, ok := res.Mappings[h]; ok {
			continue
		}
		if _, ok := res.InactiveMappings[h]; ok {
			continue
		}
		remainder = append(remainder, h)
	}

	if len(remainder) > 0 {
		claims, err := s.repomanager.Claims(s.db).FindByHashes(ctx, remainder)
		if err != nil {
			return nil, fmt.Errorf("federation ledger: %w", err)
		}
		res.ThirdPartyMappings = groupByServer(claims, submitted)
	}

	s.metrics.LookupMatches.WithLabelValues("active").Add(float64(len(res.Mappings)))
	s.metrics.LookupMatches.WithLabelValues("inactive").Add(float64(len(res.InactiveMappings)))
	for _, hs := range res.ThirdPartyMappings {
		s.metrics.LookupMatches.WithLabelValues("third_party").Add(float64(len(hs)))
	}
	return res, nil
}

func groupByServer(claims []*models.FederatedClaim, submitted map[string]struct{}) map[string][]string {
	out := map[string][]string{}
	seen := map[[2]string]struct{}{}
	for _, c := range claims {
		if c.Server == "" || c.Hash == "" {
			continue
		}
		if _, ok := submitted[c.Hash]; !ok {
			continue
		}
		k := [2]string{c.Server, c.Hash}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out[c.Server] = append(out[c.Server], c.Hash)
	}
	for _, hs := range out {
		sort.Strings(hs)
	}
	return out
}

func uniqueNonEmpty(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
