// Package secrets resolve valores sensíveis no SSM Parameter Store e no Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/raywall/tes-dashboard/pkg/cloud"
)

// Interfaces para abstrair o SDK da AWS (Permite Mocking)
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver busca parâmetros e segredos. Os clientes são criados sob demanda
// quando não forem injetados.
type Resolver struct {
	Region string

	mu      sync.Mutex
	ssm     SSMClient
	secrets SecretsClient
}

// NewResolver cria um Resolver. Clientes nil são inicializados com a config AWS padrão.
func NewResolver(region string, ssmClient SSMClient, secretsClient SecretsClient) *Resolver {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	return &Resolver{Region: region, ssm: ssmClient, secrets: secretsClient}
}

// Parameter lê um parâmetro do SSM (com decrypt).
func (r *Resolver) Parameter(ctx context.Context, path string) (string, error) {
	client, err := r.ssmClient(ctx)
	if err != nil {
		return "", err
	}
	decrypt := true
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &path,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return "", fmt.Errorf("erro no SSM GetParameter: %w", err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("parâmetro '%s' sem valor", path)
	}
	return *out.Parameter.Value, nil
}

// Secret lê um segredo. Segredos JSON retornam como map, os demais como string.
func (r *Resolver) Secret(ctx context.Context, secretID string) (interface{}, error) {
	client, err := r.secretsClient(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretID,
	})
	if err != nil {
		return nil, fmt.Errorf("erro no SecretsManager: %w", err)
	}
	if out.SecretString == nil {
		return "", nil
	}

	val := *out.SecretString

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(val), &data); err == nil {
		return data, nil
	}
	return val, nil
}

func (r *Resolver) ssmClient(ctx context.Context) (SSMClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ssm == nil {
		cfg, err := cloud.AWSConfig(ctx, r.Region)
		if err != nil {
			return nil, err
		}
		r.ssm = ssm.NewFromConfig(cfg)
	}
	return r.ssm, nil
}

func (r *Resolver) secretsClient(ctx context.Context) (SecretsClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.secrets == nil {
		cfg, err := cloud.AWSConfig(ctx, r.Region)
		if err != nil {
			return nil, err
		}
		r.secrets = secretsmanager.NewFromConfig(cfg)
	}
	return r.secrets, nil
}
