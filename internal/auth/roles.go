package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/BradenHooton/carelink/internal/models"
)

// RoleAccess maps each role to the path prefixes it may reach.
type RoleAccess map[string][]string

// DefaultRoleAccess is the marketplace's area allow-list. Admins reach every
// area; every other role reaches only its own.
var DefaultRoleAccess = RoleAccess{
	models.RoleAdmin:     {"/admin", "/staff", "/employer", "/caregiver"},
	models.RoleStaff:     {"/staff"},
	models.RoleEmployer:  {"/employer"},
	models.RoleCaregiver: {"/caregiver"},
}

// Allows reports whether role may reach path. Prefixes match whole path
// segments, so "/staff" allows "/staff/users" but not "/staffing".
func (a RoleAccess) Allows(role, path string) bool {
	for _, prefix := range a[role] {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// Gated reports whether path falls under any role's area.
func (a RoleAccess) Gated(path string) bool {
	for _, prefixes := range a {
		for _, prefix := range prefixes {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
		}
	}
	return false
}

// RoleGate guards role areas for browser navigation. Requests without a valid
// session, or whose role is not allowed for the path, are redirected to
// signInPath with the original path as callbackUrl. Paths outside every area
// pass through untouched.
func RoleGate(tm *TokenManager, checker TokenRevocationChecker, access RoleAccess, signInPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !access.Gated(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			claims, _, _ := authenticate(r, tm, checker, RevocationConfig{FailClosed: true})
			if claims == nil || !access.Allows(claims.Role, r.URL.Path) {
				http.Redirect(w, r, SignInRedirect(signInPath, r.URL.RequestURI()), http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// SignInRedirect builds the sign-in URL carrying callback as callbackUrl.
func SignInRedirect(signInPath, callback string) string {
	return signInPath + "?" + url.Values{"callbackUrl": {callback}}.Encode()
}
