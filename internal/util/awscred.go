// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ClientSecretEnv bypasses Secrets Manager lookups (smoketests/local).
// When set (even to an empty string), ResolveClientSecret returns the value directly.
const ClientSecretEnv = "SPX_CLIENT_SECRET_VALUE" //nolint:gosec // env var name, not a credential

// AWSOptions selects region, endpoint and credentials for AWS clients.
type AWSOptions struct {
	Region          string
	Endpoint        string // custom endpoint (LocalStack)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// LoadAWSConfig builds an aws.Config with the following priority:
// 1. Static keys from AWSOptions, when both access key and secret are set
// 2. AWS SDK default chain (env vars, shared config, SSO cache, IAM roles)
func LoadAWSConfig(ctx context.Context, opts AWSOptions) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)))
	}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithBaseEndpoint(opts.Endpoint))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("create AWS config: %w", err)
	}
	return cfg, nil
}

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// GetClientSecret retrieves the Entra ID client secret from Secrets Manager.
// The secret is either a plain string or JSON with a "client_secret" field.
func GetClientSecret(ctx context.Context, api SecretsAPI, secretID string) (string, error) {
	if secretID == "" {
		return "", fmt.Errorf("secret id is required for Secrets Manager")
	}

	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret string empty for %s", secretID)
	}

	raw := strings.TrimSpace(*out.SecretString)
	if !strings.HasPrefix(raw, "{") {
		if raw == "" {
			return "", fmt.Errorf("secret string empty for %s", secretID)
		}
		return raw, nil
	}

	var payload struct {
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("parse secret json: %w", err)
	}
	if payload.ClientSecret == "" {
		return "", fmt.Errorf("client_secret field empty in secret %s", secretID)
	}
	return payload.ClientSecret, nil
}

// ResolveClientSecret returns the client secret. If ClientSecretEnv is set,
// that value is returned. Otherwise the secret is fetched from Secrets Manager.
func ResolveClientSecret(ctx context.Context, secretID string, opts AWSOptions) (string, error) {
	if v, ok := os.LookupEnv(ClientSecretEnv); ok {
		return v, nil
	}
	if opts.Region == "" {
		return "", fmt.Errorf("region is required for Secrets Manager")
	}

	awsCfg, err := LoadAWSConfig(ctx, opts)
	if err != nil {
		return "", err
	}
	return GetClientSecret(ctx, secretsmanager.NewFromConfig(awsCfg), secretID)
}
