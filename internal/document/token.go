package document

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/ahrav/go-grader/internal/domain"
)

// TokenProvider supplies credentials for fetching on behalf of actor.
type TokenProvider interface {
	Token(ctx context.Context, actor *domain.EntityRef) (*oauth2.Token, error)
}

// SourceProvider serves every actor from one token source, such as a
// service account or a shared refresh token.
type SourceProvider struct {
	Source oauth2.TokenSource
}

// Token implements TokenProvider.
func (p SourceProvider) Token(context.Context, *domain.EntityRef) (*oauth2.Token, error) {
	if p.Source == nil {
		return nil, fmt.Errorf("%w: no token source configured", ErrAccessDenied)
	}
	tok, err := p.Source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return tok, nil
}
