package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockSSM struct {
	GetParameterFunc func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func (m *MockSSM) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return m.GetParameterFunc(ctx, params, optFns...)
}

type MockSecrets struct {
	GetSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func (m *MockSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return m.GetSecretValueFunc(ctx, params, optFns...)
}

// --- Testes ---

func TestResolver_Parameter(t *testing.T) {
	t.Run("Sucesso", func(t *testing.T) {
		val := "tes-token"
		r := NewResolver("us-east-1", &MockSSM{
			GetParameterFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
				assert.Equal(t, "/tes/token", *params.Name)
				assert.True(t, *params.WithDecryption)
				return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: &val}}, nil
			},
		}, nil)

		got, err := r.Parameter(context.Background(), "/tes/token")
		require.NoError(t, err)
		assert.Equal(t, "tes-token", got)
	})

	t.Run("Erro na AWS", func(t *testing.T) {
		r := NewResolver("us-east-1", &MockSSM{
			GetParameterFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
				return nil, errors.New("access denied")
			},
		}, nil)

		_, err := r.Parameter(context.Background(), "/tes/token")
		assert.ErrorContains(t, err, "access denied")
	})
}

func TestResolver_Secret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   interface{}
	}{
		{"JSON vira map", `{"user":"tes","password":"pw"}`, map[string]interface{}{"user": "tes", "password": "pw"}},
		{"Texto puro", "plain-secret", "plain-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.secret
			r := NewResolver("us-east-1", nil, &MockSecrets{
				GetSecretValueFunc: func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
					return &secretsmanager.GetSecretValueOutput{SecretString: &s}, nil
				},
			})

			got, err := r.Secret(context.Background(), "tes/creds")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
