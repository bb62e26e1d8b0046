package template

import (
	"context"
	"errors"
)

// CatalogReader abstracts repository operations for the service.
type CatalogReader interface {
	GetByRef(ctx context.Context, ref string) (Template, error)
	List(ctx context.Context, limit int) ([]Template, error)
}

// Service exposes the template catalog. It also answers the lifecycle
// engine's question of which term labels a template demands.
type Service struct {
	repo CatalogReader
}

// NewService builds a Service using the provided repository.
func NewService(repo CatalogReader) *Service {
	return &Service{repo: repo}
}

// GetByRef returns the template for the given reference key.
func (s *Service) GetByRef(ctx context.Context, ref string) (Template, error) {
	return s.repo.GetByRef(ctx, ref)
}

// List returns up to limit templates.
func (s *Service) List(ctx context.Context, limit int) ([]Template, error) {
	return s.repo.List(ctx, limit)
}

// RequiredTerms reports the term labels deals built from the template
// must provide. An unknown reference requires nothing; deals may cite
// ad hoc template names that have no catalog entry.
func (s *Service) RequiredTerms(ctx context.Context, templateRef string) ([]string, error) {
	t, err := s.repo.GetByRef(ctx, templateRef)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t.RequiredTerms, nil
}
