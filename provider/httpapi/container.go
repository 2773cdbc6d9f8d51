package httpapi

import (
	auth "github.com/goliatone/go-budget-auth"
)

// NewWebContainer builds the web app composition root: the auth API provider
// wired into a SessionManager and a Client.
func NewWebContainer(cfg Config, opts ...auth.ContainerOption) (*auth.Container, error) {
	provider, err := New(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		opts = append([]auth.ContainerOption{auth.WithLogger(cfg.Logger)}, opts...)
	}

	return auth.NewContainer(provider, opts...), nil
}
