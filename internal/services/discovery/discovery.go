// Package discovery implements GetEndpoints and FindServers (§12): a
// channel-only, session-free endpoint table built from the server's static
// configuration, matching open62541's UA_Server_addEndpoint_WithToken
// assembly.
package discovery

import (
	"github.com/open62541/open62541-sub008/internal/config"
)

// MessageSecurityMode mirrors the standard enumeration (§12).
type MessageSecurityMode uint32

const (
	SecurityModeInvalid MessageSecurityMode = iota
	SecurityModeNone
	SecurityModeSign
	SecurityModeSignAndEncrypt
)

// UserTokenType mirrors the standard enumeration.
type UserTokenType uint32

const (
	UserTokenAnonymous UserTokenType = iota
	UserTokenUserName
	UserTokenCertificate
	UserTokenIssuedToken
)

// UserTokenPolicy is one entry of an EndpointDescription's supported
// identity-token kinds.
type UserTokenPolicy struct {
	PolicyId          string
	TokenType         UserTokenType
	SecurityPolicyUri string
}

// ApplicationDescription identifies the server offering an endpoint.
type ApplicationDescription struct {
	ApplicationUri  string
	ApplicationName string
	DiscoveryUrls   []string
}

// EndpointDescription is one entry of GetEndpoints' result (§12).
type EndpointDescription struct {
	EndpointUrl         string
	Server              ApplicationDescription
	SecurityMode        MessageSecurityMode
	SecurityPolicyUri   string
	UserIdentityTokens  []UserTokenPolicy
}

const noSecurityPolicyUri = "http://opcfoundation.org/UA/SecurityPolicy#None"

// BuildEndpoints assembles the static endpoint table a server advertises,
// from its configuration (§12). This core only implements SecurityMode
// None; the out-of-scope SecurityPolicy crypto trait governs Sign/
// SignAndEncrypt, so only one EndpointDescription is produced.
func BuildEndpoints(cfg *config.Config) []EndpointDescription {
	app := ApplicationDescription{
		ApplicationUri:  cfg.Discovery.URL,
		ApplicationName: cfg.Discovery.ApplicationName,
		DiscoveryUrls:   []string{cfg.Discovery.URL},
	}

	var tokens []UserTokenPolicy
	if cfg.Identity.AllowAnonymous {
		tokens = append(tokens, UserTokenPolicy{PolicyId: "anonymous", TokenType: UserTokenAnonymous})
	}
	if len(cfg.Identity.Users) > 0 {
		tokens = append(tokens, UserTokenPolicy{
			PolicyId:          "username",
			TokenType:         UserTokenUserName,
			SecurityPolicyUri: noSecurityPolicyUri,
		})
	}
	if cfg.Identity.JWTSigningKey != "" {
		tokens = append(tokens, UserTokenPolicy{
			PolicyId:          "jwt",
			TokenType:         UserTokenIssuedToken,
			SecurityPolicyUri: noSecurityPolicyUri,
		})
	}

	return []EndpointDescription{{
		EndpointUrl:        cfg.Listen,
		Server:             app,
		SecurityMode:       SecurityModeNone,
		SecurityPolicyUri:  noSecurityPolicyUri,
		UserIdentityTokens: tokens,
	}}
}

// GetEndpointsRequest carries the optional endpointUrl/localeIds/
// profileUris filter (§12); this core ignores localeIds/profileUris since
// it only ever serves one locale and one profile.
type GetEndpointsRequest struct {
	EndpointUrl string
}

// GetEndpoints returns the endpoint table, optionally filtered by
// endpointUrl (an empty filter returns every endpoint).
func GetEndpoints(cfg *config.Config, req GetEndpointsRequest) []EndpointDescription {
	all := BuildEndpoints(cfg)
	if req.EndpointUrl == "" {
		return all
	}
	var out []EndpointDescription
	for _, ep := range all {
		if ep.EndpointUrl == req.EndpointUrl {
			out = append(out, ep)
		}
	}
	return out
}

// FindServersRequest carries the optional serverUris filter (§12).
type FindServersRequest struct {
	ServerUris []string
}

// FindServers returns the ApplicationDescription of this server, filtered
// by ServerUris if given (an empty filter always matches).
func FindServers(cfg *config.Config, req FindServersRequest) []ApplicationDescription {
	app := ApplicationDescription{
		ApplicationUri:  cfg.Discovery.URL,
		ApplicationName: cfg.Discovery.ApplicationName,
		DiscoveryUrls:   []string{cfg.Discovery.URL},
	}
	if len(req.ServerUris) == 0 {
		return []ApplicationDescription{app}
	}
	for _, uri := range req.ServerUris {
		if uri == app.ApplicationUri {
			return []ApplicationDescription{app}
		}
	}
	return nil
}
