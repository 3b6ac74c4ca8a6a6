// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/stockparfait/logging"
	"github.com/stockparfait/netztransparenz/errkind"
)

var (
	// TokenURL is the default OAuth2 token endpoint.
	TokenURL = "https://identity.netztransparenz.de/users/connect/token"
	// DefaultScope grants read access to the public statistics.
	DefaultScope = "ntpStatistic.read_all_public"
)

// ClientCredentials is an Exchanger performing the OAuth2 client credentials
// grant. The credentials are sent as form parameters.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	HTTPClient   *http.Client // optional, http.DefaultClient when nil
}

var _ Exchanger = &ClientCredentials{}

func (cc *ClientCredentials) config() *clientcredentials.Config {
	conf := &clientcredentials.Config{
		ClientID:     cc.ClientID,
		ClientSecret: cc.ClientSecret,
		TokenURL:     cc.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if conf.TokenURL == "" {
		conf.TokenURL = TokenURL
	}
	scope := cc.Scope
	if scope == "" {
		scope = DefaultScope
	}
	conf.Scopes = []string{scope}
	return conf
}

// Exchange implements Exchanger.
func (cc *ClientCredentials) Exchange(ctx context.Context) (Credential, error) {
	if cc.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cc.HTTPClient)
	}
	conf := cc.config()
	tok, err := conf.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized {
			return Credential{}, errkind.New(errkind.Authentication, "invalid credentials for client '%s'", cc.ClientID)
		}
		return Credential{}, errkind.Wrap(errkind.Authentication, err, "token exchange at %s failed", conf.TokenURL)
	}
	var lifetime time.Duration
	switch {
	case tok.ExpiresIn != 0:
		lifetime = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		lifetime = time.Until(tok.Expiry).Round(time.Second)
	}
	logging.Debugf(ctx, "exchanged client credentials for a token valid for %s", lifetime)
	return Credential{Token: tok.AccessToken, Lifetime: lifetime}, nil
}
