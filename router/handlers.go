package router

import (
	"context"
	"strings"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/gateway"
	"github.com/goliatone/go-shopagent/insights"
)

// Authenticator is the subset of the gateway the auth handlers drive.
type Authenticator interface {
	SignInWithProvider(ctx context.Context) (gateway.Result, error)
	SignInWithCredential(ctx context.Context, credential gateway.Credential) (gateway.Result, error)
	SignInWithPassword(ctx context.Context, email, password string) (gateway.Result, error)
	SignUp(ctx context.Context, email, password, nickname string) (gateway.Result, error)
	SignOut(ctx context.Context) (gateway.Result, error)
	ResendVerification(ctx context.Context) (gateway.Result, error)
}

var _ Authenticator = (*gateway.Gateway)(nil)

// RegisterAuth installs the auth actions served by auth.
func (r *Router) RegisterAuth(auth Authenticator) {
	signIn := func(ctx context.Context, _ shopagent.Request) (shopagent.Response, error) {
		return respond(auth.SignInWithProvider(ctx))
	}
	r.Handle(shopagent.ActionSignInWithProvider, signIn)
	r.Handle(shopagent.ActionLoginWithGoogle, signIn)

	r.Handle(shopagent.ActionSignInWithCredential, func(ctx context.Context, req shopagent.Request) (shopagent.Response, error) {
		return respond(auth.SignInWithCredential(ctx, gateway.Credential{
			ProviderID: gateway.MethodGoogle,
			IDToken:    strings.TrimSpace(req.IDToken),
			Nonce:      req.Nonce,
		}))
	})

	r.Handle(shopagent.ActionLoginWithEmail, func(ctx context.Context, req shopagent.Request) (shopagent.Response, error) {
		return respond(auth.SignInWithPassword(ctx, strings.TrimSpace(req.Email), req.Password))
	})

	r.Handle(shopagent.ActionSignupWithEmail, func(ctx context.Context, req shopagent.Request) (shopagent.Response, error) {
		return respond(auth.SignUp(ctx, strings.TrimSpace(req.Email), req.Password, req.Nickname))
	})

	r.Handle(shopagent.ActionLogout, func(ctx context.Context, _ shopagent.Request) (shopagent.Response, error) {
		return respond(auth.SignOut(ctx))
	})

	r.Handle(shopagent.ActionResendVerificationEmail, func(ctx context.Context, _ shopagent.Request) (shopagent.Response, error) {
		return respond(auth.ResendVerification(ctx))
	})
}

// RegisterInsights installs fetchProductInsights over svc.
func (r *Router) RegisterInsights(svc insights.Service) {
	r.Handle(shopagent.ActionFetchProductInsights, func(ctx context.Context, req shopagent.Request) (shopagent.Response, error) {
		insight, err := svc.Fetch(ctx, strings.TrimSpace(req.URL))
		if err != nil {
			return shopagent.Response{}, err
		}
		return shopagent.Response{Status: shopagent.StatusSuccess, Insight: insight}, nil
	})
}

func respond(result gateway.Result, err error) (shopagent.Response, error) {
	if err != nil {
		return shopagent.Response{}, err
	}
	return shopagent.Success(result.UserID(), result.Message), nil
}
