package model

import (
	"fmt"
	"net/url"
	"strings"
)

// SourceEnvironment carries everything needed to talk to the ScanFactory
// platform. Token stays empty until a successful Keycloak exchange, after
// which the environment is passed by value and never mutated again.
type SourceEnvironment struct {
	SfURL    string
	KcURL    string
	Realm    string
	Username string
	Password string
	ClientID string
	Token    string
}

// NewSourceEnvironment validates the raw values and derives the Keycloak
// client id from the ScanFactory host name (first dot label, yx- prefix
// stripped). Realm defaults to "scanfactory" when blank.
func NewSourceEnvironment(sfURL, kcURL, realm, username, password string) (SourceEnvironment, error) {
	var zero SourceEnvironment
	for name, v := range map[string]string{
		"SCANFACTORY_URL": sfURL,
		"KEYCLOAK_URL":    kcURL,
		"SF_USERNAME":     username,
		"SF_PASSWORD":     password,
	} {
		if strings.TrimSpace(v) == "" {
			return zero, fmt.Errorf("%w: %s", ErrMissingEnv, name)
		}
	}

	sfURL = strings.TrimSuffix(strings.TrimSpace(sfURL), "/")
	kcURL = strings.TrimSuffix(strings.TrimSpace(kcURL), "/")

	parsed, err := url.Parse(sfURL)
	if err != nil || parsed.Host == "" {
		return zero, fmt.Errorf("parsing SCANFACTORY_URL %q: expected an absolute url", sfURL)
	}
	clientID := strings.TrimPrefix(strings.SplitN(parsed.Host, ".", 2)[0], "yx-")

	if strings.TrimSpace(realm) == "" {
		realm = "scanfactory"
	}

	return SourceEnvironment{
		SfURL:    sfURL,
		KcURL:    kcURL,
		Realm:    realm,
		Username: username,
		Password: password,
		ClientID: clientID,
	}, nil
}

// WithToken returns a copy with the access token set.
func (e SourceEnvironment) WithToken(token string) SourceEnvironment {
	e.Token = token
	return e
}

// DestinationEnvironment is the DefectDojo endpoint plus its static API token.
type DestinationEnvironment struct {
	URL   string
	Token string
}

func NewDestinationEnvironment(rawURL, token string) (DestinationEnvironment, error) {
	var zero DestinationEnvironment
	if strings.TrimSpace(rawURL) == "" {
		return zero, fmt.Errorf("%w: DDOJO_URL", ErrMissingEnv)
	}
	if strings.TrimSpace(token) == "" {
		return zero, fmt.Errorf("%w: DDOJO_TOKEN", ErrMissingEnv)
	}
	return DestinationEnvironment{
		URL:   strings.TrimSuffix(strings.TrimSpace(rawURL), "/"),
		Token: token,
	}, nil
}
