package credential

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentialsRefresher performs an OAuth2 client-credentials exchange.
type ClientCredentialsRefresher struct {
	cfg        *clientcredentials.Config
	httpClient *http.Client
}

func NewClientCredentialsRefresher(clientID, clientSecret, tokenURL string, httpClient *http.Client) *ClientCredentialsRefresher {
	return &ClientCredentialsRefresher{
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			// Twitch and Kick both expect the client secret in the form body
			AuthStyle: oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

func (r *ClientCredentialsRefresher) RefreshToken(ctx context.Context) (*oauth2.Token, error) {
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	return r.cfg.Token(ctx)
}
