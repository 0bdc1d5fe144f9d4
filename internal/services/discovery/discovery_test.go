package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open62541/open62541-sub008/internal/config"
)

func TestBuildEndpointsAnonymousOnly(t *testing.T) {
	cfg := config.Default()

	endpoints := BuildEndpoints(cfg)
	require.Len(t, endpoints, 1)
	ep := endpoints[0]
	assert.Equal(t, cfg.Listen, ep.EndpointUrl)
	assert.Equal(t, SecurityModeNone, ep.SecurityMode)
	require.Len(t, ep.UserIdentityTokens, 1)
	assert.Equal(t, UserTokenAnonymous, ep.UserIdentityTokens[0].TokenType)
}

func TestBuildEndpointsIncludesUserNameAndJWTPolicies(t *testing.T) {
	cfg := config.Default()
	cfg.Identity.AllowAnonymous = false
	cfg.Identity.Users = map[string]string{"alice": "hash"}
	cfg.Identity.JWTSigningKey = "secret"

	endpoints := BuildEndpoints(cfg)
	require.Len(t, endpoints, 1)
	types := make([]UserTokenType, 0, len(endpoints[0].UserIdentityTokens))
	for _, p := range endpoints[0].UserIdentityTokens {
		types = append(types, p.TokenType)
	}
	assert.Contains(t, types, UserTokenUserName)
	assert.Contains(t, types, UserTokenIssuedToken)
	assert.NotContains(t, types, UserTokenAnonymous)
}

func TestGetEndpointsFiltersByUrl(t *testing.T) {
	cfg := config.Default()

	matched := GetEndpoints(cfg, GetEndpointsRequest{EndpointUrl: cfg.Listen})
	require.Len(t, matched, 1)

	unmatched := GetEndpoints(cfg, GetEndpointsRequest{EndpointUrl: "opc.tcp://nowhere:1"})
	assert.Empty(t, unmatched)
}

func TestFindServersFiltersByUri(t *testing.T) {
	cfg := config.Default()

	all := FindServers(cfg, FindServersRequest{})
	require.Len(t, all, 1)
	assert.Equal(t, cfg.Discovery.URL, all[0].ApplicationUri)

	matched := FindServers(cfg, FindServersRequest{ServerUris: []string{cfg.Discovery.URL}})
	require.Len(t, matched, 1)

	unmatched := FindServers(cfg, FindServersRequest{ServerUris: []string{"urn:other"}})
	assert.Empty(t, unmatched)
}
