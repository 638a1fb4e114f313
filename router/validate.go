package router

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/gateway"
)

// validate rejects requests that must never reach a handler.
func (r *Router) validate(req shopagent.Request) error {
	email := strings.TrimSpace(req.Email)

	switch req.Action {
	case shopagent.ActionLoginWithEmail:
		return firstError(shopagent.MessageLoginFieldsRequired, validation.Errors{
			"email":    validation.Validate(email, validation.Required),
			"password": validation.Validate(req.Password, validation.Required),
		})

	case shopagent.ActionSignupWithEmail:
		if err := firstError(shopagent.MessageSignupFieldsMissing, validation.Errors{
			"email":    validation.Validate(email, validation.Required),
			"password": validation.Validate(req.Password, validation.Required),
		}); err != nil {
			return err
		}
		minLen := r.minPasswordLength
		return firstError(fmt.Sprintf("Password must be at least %d characters long.", minLen), validation.Errors{
			"password": validation.Validate(req.Password, validation.RuneLength(minLen, 0)),
		})

	case shopagent.ActionSignInWithCredential:
		return firstError(gateway.MessageCredentialRequired, validation.Errors{
			"idToken": validation.Validate(strings.TrimSpace(req.IDToken), validation.Required),
		})

	case shopagent.ActionFetchProductInsights:
		return firstError("A product URL is required.", validation.Errors{
			"url": validation.Validate(strings.TrimSpace(req.URL), validation.Required, is.URL),
		})
	}

	return nil
}

// firstError collapses ozzo field errors into one validation error whose
// user facing text is message.
func firstError(message string, errs validation.Errors) error {
	if err := errs.Filter(); err != nil {
		fields := map[string]any{}
		if verrs, ok := err.(validation.Errors); ok {
			for field, ferr := range verrs {
				fields[field] = ferr.Error()
			}
		}
		return shopagent.ValidationError(message, fields)
	}
	return nil
}
