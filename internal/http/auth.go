package http

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	applog "tally/internal/log"
)

// UserIDHeader carries the caller's identity, set by the fronting gateway.
const UserIDHeader = "X-User-ID"

type userKey struct{}

var validUserID = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,128}$`)

// requireUser rejects requests without a usable X-User-ID and stores the
// user in the context.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if !validUserID.MatchString(id) {
			UnauthorizedError("missing or invalid " + UserIDHeader).Write(w)
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, id)
		ctx = applog.NewContext(ctx, applog.FromContext(ctx).With(applog.FieldUserID, id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user of the request.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
