// Package auth classifies inbound requests as a trusted federation peer, an
// authenticated user or unauthorized. Every failure path ends in
// Unauthorized.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/dmitrijs2005/fedid/internal/common"
	"github.com/dmitrijs2005/fedid/internal/logging"
	"github.com/dmitrijs2005/fedid/internal/server/models"
)

// Kind tags the outcome of a classification.
type Kind int

const (
	Unauthorized Kind = iota
	Peer
	User
)

func (k Kind) String() string {
	switch k {
	case Peer:
		return "peer"
	case User:
		return "user"
	default:
		return "unauthorized"
	}
}

// Result is the tagged classification. Subject and Token are set only for
// User.
type Result struct {
	Kind    Kind
	Subject string
	Token   string
}

// Request carries the parts of an inbound call the evaluator looks at.
type Request struct {
	RemoteAddr    string
	ForwardedFor  string
	Authorization string
	QueryToken    string
}

// RequestFromHTTP extracts a Request from r.
func RequestFromHTTP(r *http.Request) Request {
	return Request{
		RemoteAddr:    r.RemoteAddr,
		ForwardedFor:  r.Header.Get(common.ForwardedForHeaderName),
		Authorization: r.Header.Get(common.AuthorizationHeaderName),
		QueryToken:    r.URL.Query().Get(common.AccessTokenQueryName),
	}
}

// GrantFinder looks up an access token.
type GrantFinder interface {
	Find(ctx context.Context, token string) (*models.AccessGrant, error)
}

const maxTokenLength = 512

type Evaluator struct {
	peers    []netip.Prefix
	trustXFF bool
	grants   GrantFinder
	logger   logging.Logger
}

// NewEvaluator parses the trusted peer list. Entries may be IPv4 or IPv6
// literals or CIDR networks; all of them are kept in IPv6 form.
func NewEvaluator(trusted []string, trustXFF bool, grants GrantFinder, logger logging.Logger) (*Evaluator, error) {
	peers := make([]netip.Prefix, 0, len(trusted))
	for _, s := range trusted {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p, err := ParsePeer(s)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return &Evaluator{
		peers:    peers,
		trustXFF: trustXFF,
		grants:   grants,
		logger:   logger.With("module", "auth"),
	}, nil
}

// ParsePeer turns a literal address or CIDR string into an IPv6 prefix.
// IPv4 networks are lifted into the v4-mapped range.
func ParsePeer(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("trusted peer %q: %w", s, err)
		}
		bits := p.Bits()
		if p.Addr().Is4() {
			bits += 96
		}
		return netip.PrefixFrom(toV6(p.Addr()), bits).Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("trusted peer %q: %w", s, err)
	}
	return netip.PrefixFrom(toV6(a), 128), nil
}

func toV6(a netip.Addr) netip.Addr {
	return netip.AddrFrom16(a.WithZone("").As16())
}

// Classify checks the caller's address against the trusted peers first and
// falls back to token authentication.
func (e *Evaluator) Classify(ctx context.Context, req Request) (res Result) {
	defer e.recoverUnauthorized(ctx, &res)

	if e.IsPeer(ctx, req) {
		return Result{Kind: Peer}
	}
	return e.Authenticate(ctx, req)
}

// IsPeer checks the caller's address only; the token store is never consulted.
func (e *Evaluator) IsPeer(ctx context.Context, req Request) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "panic while checking peer address", "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	addr, err := e.effectiveAddr(req)
	if err != nil {
		e.logger.Debug(ctx, "unparseable client address", "error", err)
		return false
	}
	return e.isPeer(addr)
}

// Authenticate resolves the bearer token only; the address is ignored.
func (e *Evaluator) Authenticate(ctx context.Context, req Request) (res Result) {
	defer e.recoverUnauthorized(ctx, &res)

	token, err := extractToken(req)
	if err != nil {
		return Result{Kind: Unauthorized}
	}

	g, err := e.grants.Find(ctx, token)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			e.logger.Error(ctx, "access token lookup failed", "error", err)
		}
		return Result{Kind: Unauthorized}
	}
	if g == nil || g.Subject == "" {
		return Result{Kind: Unauthorized}
	}
	return Result{Kind: User, Subject: g.Subject, Token: token}
}

// ClientAddr returns the effective client address in IPv6 form, used as the
// rate limit key for peers.
func (e *Evaluator) ClientAddr(req Request) (string, error) {
	a, err := e.effectiveAddr(req)
	if err != nil {
		return "", err
	}
	return a.String(), nil
}

func (e *Evaluator) recoverUnauthorized(ctx context.Context, res *Result) {
	if r := recover(); r != nil {
		e.logger.Error(ctx, "panic while classifying request", "panic", fmt.Sprint(r))
		*res = Result{Kind: Unauthorized}
	}
}

func (e *Evaluator) isPeer(a netip.Addr) bool {
	for _, p := range e.peers {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func (e *Evaluator) effectiveAddr(req Request) (netip.Addr, error) {
	raw := req.RemoteAddr
	if e.trustXFF && req.ForwardedFor != "" {
		raw, _, _ = strings.Cut(req.ForwardedFor, ",")
	}
	return parseAddr(strings.TrimSpace(raw))
}

func parseAddr(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, errors.New("empty address")
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return toV6(ap.Addr()), nil
	}
	a, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.Addr{}, err
	}
	return toV6(a), nil
}

func extractToken(req Request) (string, error) {
	token := req.QueryToken
	if h := strings.TrimSpace(req.Authorization); h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", common.ErrInvalidToken
		}
		token = strings.TrimSpace(rest)
	}
	if token == "" || len(token) > maxTokenLength || strings.ContainsAny(token, " \t\r\n") {
		return "", common.ErrInvalidToken
	}
	return token, nil
}
