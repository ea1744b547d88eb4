package user

import (
	"context"
	"net/http"

	"github.com/kazz187/worktrack/pkg/clog"
)

// HeaderUserID carries the acting user's id on API requests.
const HeaderUserID = "X-User-ID"

type userIDKey struct{}

func ContextWithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// Middleware copies the X-User-ID header into the request context and the
// request log attributes.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderUserID)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := ContextWithUserID(r.Context(), id)
		clog.AddActor(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
