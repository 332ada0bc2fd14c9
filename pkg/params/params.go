// Package params resolves stack parameter values before they reach
// CloudFormation.
package params

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
)

// SecretScheme marks a parameter value to pull from Secrets Manager, e.g.
// "secret://prod/contact-form/api-key".
const SecretScheme = "secret://"

// SecretsAPI is the subset of the Secrets Manager client the resolver uses.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// KMSAPI is the subset of the KMS client used for alias lookups.
type KMSAPI interface {
	ListAliases(ctx context.Context, params *kms.ListAliasesInput, optFns ...func(*kms.Options)) (*kms.ListAliasesOutput, error)
}

// Resolver replaces secret:// references with their Secrets Manager values.
type Resolver struct {
	secrets SecretsAPI
	log     zerolog.Logger
}

// NewResolver creates a resolver backed by the given Secrets Manager client.
func NewResolver(secrets SecretsAPI, log zerolog.Logger) *Resolver {
	return &Resolver{
		secrets: secrets,
		log:     log.With().Str("component", "params").Logger(),
	}
}

// Resolve returns a copy of values with every secret:// reference replaced by
// the secret's string value. Plain values pass through untouched.
func (r *Resolver) Resolve(ctx context.Context, values map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(values))
	for key, value := range values {
		if !strings.HasPrefix(value, SecretScheme) {
			resolved[key] = value
			continue
		}

		name := strings.TrimPrefix(value, SecretScheme)
		out, err := r.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(name),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve secret %q for parameter %s: %w", name, key, err)
		}
		if out.SecretString == nil {
			return nil, fmt.Errorf("secret %q for parameter %s has no string value", name, key)
		}
		resolved[key] = aws.ToString(out.SecretString)
		r.log.Debug().Str("parameter", key).Str("secret", name).Msg("resolved secret parameter")
	}
	return resolved, nil
}

// Keys looks up KMS keys for parameter wiring.
type Keys struct {
	api KMSAPI
}

// NewKeys creates a lookup helper backed by the given KMS client.
func NewKeys(api KMSAPI) *Keys {
	return &Keys{api: api}
}

// LookupKeyByAlias returns the target key id behind an alias such as
// "alias/demo-contact-form", or false when no such alias exists.
func (k *Keys) LookupKeyByAlias(ctx context.Context, alias string) (string, bool, error) {
	paginator := kms.NewListAliasesPaginator(k.api, &kms.ListAliasesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", false, fmt.Errorf("failed to list kms aliases: %w", err)
		}
		for _, entry := range page.Aliases {
			if aws.ToString(entry.AliasName) == alias {
				return aws.ToString(entry.TargetKeyId), true, nil
			}
		}
	}
	return "", false, nil
}
