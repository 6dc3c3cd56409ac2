package auth

import (
	"fmt"

	"github.com/appetiteclub/apt"
)

// NewAuthenticatorFromConfig reads auth.jwt.secret and the optional
// auth.redis.* block list settings. The returned lifecycle items must be
// handed to apt.WithLifecycle.
func NewAuthenticatorFromConfig(cfg *apt.Config, logger apt.Logger) (*Authenticator, []interface{}, error) {
	secret, ok := cfg.GetString("auth.jwt.secret")
	if !ok || secret == "" {
		return nil, nil, fmt.Errorf("auth.jwt.secret is required")
	}

	var (
		blocks     BlockChecker = NoBlockList{}
		lifecycles []interface{}
	)
	if addr, ok := cfg.GetString("auth.redis.addr"); ok && addr != "" {
		list := NewRedisBlockList(addr, cfg.GetStringOrDef("auth.redis.password", ""), cfg.GetIntOrDef("auth.redis.db", 0))
		blocks = list
		lifecycles = append(lifecycles, list)
	}

	return NewAuthenticator(NewTokenVerifier(secret), blocks, logger), lifecycles, nil
}
