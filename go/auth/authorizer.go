// Package auth checks caller authorization against the resource
// authorizer service, and extracts principals from bearer tokens.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

// ScopeDatasetWrite is the scope required to push events or upload files
// to a dataset.
const ScopeDatasetWrite = "okdata:dataset:write"

// DatasetResource names the authorizer resource of a dataset.
func DatasetResource(datasetID string) string {
	return "okdata:dataset:" + datasetID
}

// cacheTTL bounds how long authorization decisions, including denials,
// are reused. Errors are cached too, to avoid a thundering herd against
// the authorizer on outages.
const cacheTTL = time.Minute

type cacheKey struct {
	token    string
	scope    string
	resource string
}

type cacheValue struct {
	access  bool
	expires time.Time
}

// Authorizer checks access against the resource authorizer service.
// When Enabled is false, every check passes.
type Authorizer struct {
	URL        string
	Enabled    bool
	HTTPClient *http.Client

	mu    sync.Mutex
	cache map[cacheKey]cacheValue
}

// NewAuthorizer returns an Authorizer of the service at url.
func NewAuthorizer(url string, enabled bool) *Authorizer {
	return &Authorizer{
		URL:        url,
		Enabled:    enabled,
		HTTPClient: http.DefaultClient,
		cache:      make(map[cacheKey]cacheValue),
	}
}

// HasAccess reports whether the token bears the scope for the resource.
// Transport errors and undecodable responses are logged and denied.
func (a *Authorizer) HasAccess(ctx context.Context, token, scope, resource string) bool {
	if !a.Enabled {
		return true
	}

	var key = cacheKey{token: token, scope: scope, resource: resource}
	var now = time.Now()

	a.mu.Lock()
	value, ok := a.cache[key]
	a.mu.Unlock()

	if ok && value.expires.After(now) {
		return value.access
	}

	var access = a.check(ctx, token, scope, resource)

	a.mu.Lock()
	a.cache[key] = cacheValue{access: access, expires: now.Add(cacheTTL)}
	a.mu.Unlock()

	return access
}

func (a *Authorizer) check(ctx context.Context, token, scope, resource string) bool {
	var payload, _ = json.Marshal(map[string]string{
		"token":    token,
		"scope":    scope,
		"resource": resource,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", a.URL+"/authorize", bytes.NewReader(payload))
	if err != nil {
		log.WithField("err", err).Error("building authorizer request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		log.WithField("err", err).Error("authorizer request failed")
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode >= 300 {
		log.WithFields(log.Fields{"status": resp.StatusCode, "err": err}).
			Error("authorizer returned an unusable response")
		return false
	}

	var out struct {
		Access bool `json:"access"`
	}
	if err = json.Unmarshal(body, &out); err != nil {
		log.WithField("err", err).Error("authorizer JSON decode failure")
		return false
	}
	return out.Access
}

// Principal extracts the principal of a bearer token, preferring the
// preferred_username claim and falling back to sub. The token is parsed
// without verification: the authorizer service owns validity.
func Principal(token string) string {
	var claims = jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	if username, ok := claims["preferred_username"].(string); ok && username != "" {
		return username
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}
