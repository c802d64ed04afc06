// Package gateway attaches the stored credential to backend calls and
// recovers from an expired access token by refreshing once and retrying.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/snapncook/snapclient/internal/apierr"
	"github.com/snapncook/snapclient/internal/auth"
	"github.com/snapncook/snapclient/internal/infrastructure/snapapi"
	"github.com/snapncook/snapclient/internal/metrics"
	"github.com/snapncook/snapclient/pkg/logger"
)

const RequestIDHeader = "X-Request-Id"

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
	// SkipAuth sends the request without any credential and never refreshes.
	SkipAuth bool
	// Bearer overrides the stored credential. Overridden requests are never
	// refreshed.
	Bearer string
}

type Response = snapapi.Response

type Transport interface {
	MakeRequest(ctx context.Context, req snapapi.Request) (*snapapi.Response, error)
}

type TokenSource interface {
	Load(ctx context.Context) (*auth.Credentials, error)
}

type Refresher interface {
	Refresh(ctx context.Context, staleAccess string) (auth.Credentials, error)
}

type Service struct {
	api       Transport
	tokens    TokenSource
	refresher Refresher
	metrics   *metrics.Metrics
}

// NewService builds a gateway. A nil refresher disables refresh.
func NewService(api Transport, tokens TokenSource, refresher Refresher, m *metrics.Metrics) *Service {
	return &Service{
		api:       api,
		tokens:    tokens,
		refresher: refresher,
		metrics:   m,
	}
}

// Send dispatches req and returns the backend response verbatim. A 401 on a
// request carrying the stored credential triggers one refresh and one
// retry. If the refresh fails, the original 401 response is returned along
// with a refresh-rejected error. A non-nil error with a nil response means
// no response was received.
func (s *Service) Send(ctx context.Context, req *Request) (*Response, error) {
	token, stored, err := s.credential(ctx, req)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()

	for attempt := 0; ; attempt++ {
		resp, err := s.dispatch(ctx, req, token, requestID)
		if err != nil {
			logger.Debug(logger.GATEWAY, "%s %s [%s] transport failure: %v", req.Method, req.Path, requestID, err)
			return nil, apierr.Transport(err)
		}

		if resp.StatusCode != http.StatusUnauthorized || attempt > 0 || !s.refreshable(req, stored) {
			return resp, nil
		}

		logger.Debug(logger.GATEWAY, "%s %s [%s] got 401, refreshing credential", req.Method, req.Path, requestID)
		fresh, err := s.refresher.Refresh(ctx, token)
		if err != nil {
			return resp, err
		}
		token = fresh.AccessToken
		s.metrics.GatewayRetry()
	}
}

// Do sends req, maps any non-2xx answer to an *apierr.Error and decodes a
// successful body into out.
func (s *Service) Do(ctx context.Context, req *Request, out interface{}) error {
	resp, err := s.Send(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return apierr.FromResponse(resp.StatusCode, resp.Body)
	}
	if err := resp.Decode(out); err != nil {
		return &apierr.Error{Kind: apierr.KindBusiness, Status: resp.StatusCode, Detail: "malformed response", Err: err}
	}
	return nil
}

func (s *Service) credential(ctx context.Context, req *Request) (string, bool, error) {
	if req.Bearer != "" {
		return req.Bearer, false, nil
	}
	if req.SkipAuth {
		return "", false, nil
	}
	pair, err := s.tokens.Load(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to load credentials: %w", err)
	}
	if pair == nil || pair.AccessToken == "" {
		return "", false, nil
	}
	return pair.AccessToken, true, nil
}

func (s *Service) refreshable(req *Request, stored bool) bool {
	return s.refresher != nil && stored && req.Path != snapapi.AuthRefresh
}

func (s *Service) dispatch(ctx context.Context, req *Request, token, requestID string) (*Response, error) {
	header := http.Header{}
	header.Set(RequestIDHeader, requestID)
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return s.api.MakeRequest(ctx, snapapi.Request{
		Method: req.Method,
		Path:   req.Path,
		Query:  req.Query,
		Body:   req.Body,
		Header: header,
	})
}
