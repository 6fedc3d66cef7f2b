package searchconsole

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/searchconsole/v1"
)

// Credentials selects how the tap authenticates. Either the refresh-token
// triple or CredentialsFile must be provided.
type Credentials struct {
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	CredentialsFile string
}

// HTTPClient returns an OAuth2-authorized client with the read-only
// Search Console scope.
func HTTPClient(ctx context.Context, creds Credentials) (*http.Client, error) {
	if creds.CredentialsFile != "" {
		data, err := os.ReadFile(creds.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		gcreds, err := google.CredentialsFromJSON(ctx, data, searchconsole.WebmastersReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials file: %w", err)
		}
		return oauth2.NewClient(ctx, gcreds.TokenSource), nil
	}
	if creds.ClientID == "" || creds.ClientSecret == "" || creds.RefreshToken == "" {
		return nil, errors.New("client id, client secret and refresh token are required")
	}
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{searchconsole.WebmastersReadonlyScope},
	}
	return conf.Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}), nil
}
