// Package recommend resolves recipe recommendations for a detection result
// or an ingredient input, preferring the signed-in user's private view.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/snapncook/snapclient/internal/apierr"
	"github.com/snapncook/snapclient/internal/infrastructure/snapapi"
	"github.com/snapncook/snapclient/internal/metrics"
	"github.com/snapncook/snapclient/internal/services/gateway"
	"github.com/snapncook/snapclient/pkg/logger"
)

type Kind string

const (
	KindDetection  Kind = "detection"
	KindIngredient Kind = "ingredient"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDetection, KindIngredient:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

var (
	ErrInvalidID   = errors.New("subject id must be positive")
	ErrUnknownKind = errors.New("unknown recommendation kind")
)

type Recipe struct {
	ID           int64     `json:"id"`
	FoodID       int64     `json:"food_id"`
	SourceType   string    `json:"source_type"`
	Title        string    `json:"title,omitempty"`
	Ingredients  string    `json:"ingredients,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
	SourceDetail string    `json:"source_detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type API interface {
	Do(ctx context.Context, req *gateway.Request, out interface{}) error
}

// SessionState reports whether a user is signed in. Unknown counts as not.
type SessionState interface {
	IsAuthenticated() bool
}

type Service struct {
	api     API
	session SessionState
	metrics *metrics.Metrics
}

func NewService(api API, session SessionState, m *metrics.Metrics) *Service {
	return &Service{api: api, session: session, metrics: m}
}

// Resolve returns recommendations for subjectID. A signed-in user gets the
// private lookup; if that fails for any reason the public lookup answers
// instead and the private error is dropped.
func (s *Service) Resolve(ctx context.Context, subjectID int64, kind Kind) ([]Recipe, error) {
	if err := validate(subjectID, kind); err != nil {
		return nil, err
	}

	if s.session != nil && s.session.IsAuthenticated() {
		recipes, err := s.lookup(ctx, true, subjectID, kind)
		if err == nil {
			return recipes, nil
		}
		if ctx.Err() != nil {
			return nil, apierr.Transport(ctx.Err())
		}
		logger.Info(logger.RECOMMEND, "Private %s lookup for %d failed, falling back to public: %v", kind, subjectID, err)
		s.metrics.RecommendFallback(string(kind))
	}

	return s.public(ctx, subjectID, kind)
}

// ResolvePublic skips the private lookup regardless of session state.
func (s *Service) ResolvePublic(ctx context.Context, subjectID int64, kind Kind) ([]Recipe, error) {
	if err := validate(subjectID, kind); err != nil {
		return nil, err
	}
	return s.public(ctx, subjectID, kind)
}

func (s *Service) public(ctx context.Context, subjectID int64, kind Kind) ([]Recipe, error) {
	recipes, err := s.lookup(ctx, false, subjectID, kind)
	if apierr.IsNotFound(err) {
		logger.Debug(logger.RECOMMEND, "No public %s recommendations for %d", kind, subjectID)
		return []Recipe{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recommendations: %w", err)
	}
	return recipes, nil
}

func (s *Service) lookup(ctx context.Context, private bool, subjectID int64, kind Kind) ([]Recipe, error) {
	scope := "public"
	if private {
		scope = "private"
	}
	s.metrics.RecommendLookup(scope)

	var recipes []Recipe
	err := s.api.Do(ctx, &gateway.Request{
		Method:   http.MethodGet,
		Path:     snapapi.Recommend(private, string(kind), subjectID),
		SkipAuth: !private,
	}, &recipes)
	if err != nil {
		return nil, err
	}
	if recipes == nil {
		recipes = []Recipe{}
	}
	return recipes, nil
}

func validate(subjectID int64, kind Kind) error {
	if subjectID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidID, subjectID)
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	return nil
}
