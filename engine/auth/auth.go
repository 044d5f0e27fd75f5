package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/lightdash/metricflow-service/engine/core"
	"github.com/lightdash/metricflow-service/engine/environment"
)

// ExtractBearerToken pulls the token out of an Authorization header value.
// Returns empty when the header is missing or not a bearer scheme.
func ExtractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireBearerToken extracts the token or fails with UNAUTHORIZED.
func RequireBearerToken(header string) (string, error) {
	token := ExtractBearerToken(header)
	if token == "" {
		return "", core.NewError(core.CodeUnauthorized, http.StatusUnauthorized,
			"missing Authorization: Bearer <token>")
	}
	return token, nil
}

// AuthorizeProject checks the token against the project's allow-list using
// constant-time comparison.
func AuthorizeProject(registry *environment.Registry, projectID, token string) error {
	env, err := registry.Get(projectID)
	if err != nil {
		return err
	}
	if len(env.Tokens) == 0 {
		return core.NewError(core.CodeConfigInvalid, http.StatusInternalServerError,
			fmt.Sprintf("projectId=%s has no tokens configured", projectID))
	}
	for _, allowed := range env.Tokens {
		if subtle.ConstantTimeCompare([]byte(allowed), []byte(token)) == 1 {
			return nil
		}
	}
	return core.NewError(core.CodeForbidden, http.StatusForbidden,
		"token is not allowed to access this environment")
}
