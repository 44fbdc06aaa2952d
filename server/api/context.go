package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/GoCodeAlone/pciledger/settings"
)

type contextKey int

const ctxKeySubject contextKey = 0

// AccountHeader selects the settings account for a request.
const AccountHeader = "X-Account-ID"

// WithSubject stores the authenticated user id on ctx.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// Subject returns the authenticated user id, or "" when none is set.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeySubject).(string)
	return s
}

// accountID returns the account named by the request, or the default account.
func accountID(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(AccountHeader)); a != "" {
		return a
	}
	return settings.DefaultAccount
}
