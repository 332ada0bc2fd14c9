package params

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	values map[string]string
	calls  int
}

func (f *fakeSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	value, ok := f.values[aws.ToString(params.SecretId)]
	if !ok {
		return nil, fmt.Errorf("secret not found")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
}

func TestResolvePassesPlainValuesThrough(t *testing.T) {
	secrets := &fakeSecrets{}
	resolver := NewResolver(secrets, zerolog.Nop())

	got, err := resolver.Resolve(context.Background(), map[string]string{
		"DomainName":    "example.org",
		"ProjectPrefix": "demo",
	})

	require.NoError(t, err)
	assert.Equal(t, "example.org", got["DomainName"])
	assert.Zero(t, secrets.calls, "plain values never touch secrets manager")
}

func TestResolveReplacesSecretReferences(t *testing.T) {
	secrets := &fakeSecrets{values: map[string]string{
		"prod/contact-form/recipient": "owner@example.org",
	}}
	resolver := NewResolver(secrets, zerolog.Nop())

	got, err := resolver.Resolve(context.Background(), map[string]string{
		"RecipientEmail": "secret://prod/contact-form/recipient",
		"DomainName":     "example.org",
	})

	require.NoError(t, err)
	assert.Equal(t, "owner@example.org", got["RecipientEmail"])
	assert.Equal(t, "example.org", got["DomainName"])
	assert.Equal(t, 1, secrets.calls)
}

func TestResolveMissingSecretFails(t *testing.T) {
	resolver := NewResolver(&fakeSecrets{}, zerolog.Nop())

	_, err := resolver.Resolve(context.Background(), map[string]string{
		"ApiKey": "secret://does/not/exist",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "does/not/exist")
}

type fakeKMS struct {
	pages [][]kmstypes.AliasListEntry
	calls int
}

func (f *fakeKMS) ListAliases(ctx context.Context, params *kms.ListAliasesInput, optFns ...func(*kms.Options)) (*kms.ListAliasesOutput, error) {
	page := f.pages[f.calls]
	f.calls++
	out := &kms.ListAliasesOutput{Aliases: page}
	if f.calls < len(f.pages) {
		out.Truncated = true
		out.NextMarker = aws.String(fmt.Sprintf("page-%d", f.calls))
	}
	return out, nil
}

func TestLookupKeyByAliasPaginates(t *testing.T) {
	keys := NewKeys(&fakeKMS{pages: [][]kmstypes.AliasListEntry{
		{{AliasName: aws.String("alias/aws/s3"), TargetKeyId: aws.String("k0")}},
		{{AliasName: aws.String("alias/demo-contact-form"), TargetKeyId: aws.String("k1")}},
	}})

	keyID, found, err := keys.LookupKeyByAlias(context.Background(), "alias/demo-contact-form")

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "k1", keyID)
}

func TestLookupKeyByAliasNotFound(t *testing.T) {
	keys := NewKeys(&fakeKMS{pages: [][]kmstypes.AliasListEntry{
		{{AliasName: aws.String("alias/aws/s3"), TargetKeyId: aws.String("k0")}},
	}})

	_, found, err := keys.LookupKeyByAlias(context.Background(), "alias/demo-contact-form")

	require.NoError(t, err)
	assert.False(t, found)
}
