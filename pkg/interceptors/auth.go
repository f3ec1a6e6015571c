package interceptors

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
	"github.com/FACorreiaa/tenant-ledger/pkg/httpx"
)

// Path parameters that must be UUIDs. A malformed value is a 404 and is
// reported before any credential is looked at.
var uuidParams = []string{"tenantID", "key"}

// TenantAuth authorizes callers against the tenant in the request path.
type TenantAuth struct {
	secret []byte
}

// NewTenantAuth creates the tenant authorization adapter for HS256 tokens.
func NewTenantAuth(secret []byte) *TenantAuth {
	return &TenantAuth{secret: secret}
}

// Require returns middleware that admits callers holding at least role in the
// tenant named by the {tenantID} path parameter. It must be attached to the
// route itself (chi's With) so every path parameter is already resolved.
func (a *TenantAuth) Require(role common.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, name := range uuidParams {
				if v := chi.URLParam(r, name); v != "" {
					if _, err := uuid.Parse(v); err != nil {
						httpx.WriteProblem(w, r, http.StatusNotFound, "resource not found")
						return
					}
				}
			}

			tenantID := strings.ToLower(chi.URLParam(r, "tenantID"))
			claims, err := a.parse(r)
			if err != nil || !claims.RoleFor(tenantID).Allows(role) {
				httpx.WriteForbidden(w, r)
				return
			}

			ctx := common.WithPrincipal(r.Context(), common.Principal{
				UserID:   claims.UserID,
				TenantID: tenantID,
				Role:     claims.RoleFor(tenantID),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *TenantAuth) parse(r *http.Request) (*common.Claims, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, errors.New("missing bearer token")
	}
	if len(a.secret) == 0 {
		return nil, errors.New("no signing secret configured")
	}

	claims := &common.Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueToken signs claims with the adapter's secret. Used by tooling and tests;
// production tokens come from the identity provider.
func (a *TenantAuth) IssueToken(claims *common.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
