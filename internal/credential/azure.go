package credential

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// AzureExchanger exchanges client credentials with Azure AD. A scope may
// name several space-separated scopes.
type AzureExchanger struct {
	cred azcore.TokenCredential
}

// NewAzureExchanger creates a client-secret credential for the given tenant
// and application.
func NewAzureExchanger(tenantID, clientID, clientSecret string) (*AzureExchanger, error) {
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("creating client secret credential: %w", err)
	}

	return &AzureExchanger{cred: cred}, nil
}

func (a *AzureExchanger) Exchange(ctx context.Context, scope string) (string, time.Time, error) {
	token, err := a.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: strings.Fields(scope),
	})
	if err != nil {
		return "", time.Time{}, err
	}

	return token.Token, token.ExpiresOn, nil
}
