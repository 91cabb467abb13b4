package config

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/raywall/tes-dashboard/pkg/cloud"
)

// --- Interfaces para Mocking ---

type S3Downloader interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type DynamoGetter interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Source lê documentos brutos de arquivos locais, S3 ou DynamoDB.
// É usado tanto para a configuração do serviço quanto para as declarações de middleware.
type Source struct {
	Region string
	S3     S3Downloader
	Dynamo DynamoGetter
}

// Fetch detecta o esquema da URI e devolve o conteúdo.
func (s *Source) Fetch(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		client, err := s.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return fetchFromS3(ctx, client, uri)

	case strings.HasPrefix(uri, "dynamodb://"):
		client, err := s.dynamoClient(ctx)
		if err != nil {
			return nil, err
		}
		return fetchFromDynamoDB(ctx, client, uri)

	default:
		// Suporta tanto "file://config.yaml" quanto apenas "config.yaml"
		return os.ReadFile(strings.TrimPrefix(uri, "file://"))
	}
}

func (s *Source) s3Client(ctx context.Context) (S3Downloader, error) {
	if s.S3 != nil {
		return s.S3, nil
	}
	cfg, err := cloud.AWSConfig(ctx, s.Region)
	if err != nil {
		return nil, fmt.Errorf("falha ao carregar config AWS: %w", err)
	}
	s.S3 = s3.NewFromConfig(cfg)
	return s.S3, nil
}

func (s *Source) dynamoClient(ctx context.Context) (DynamoGetter, error) {
	if s.Dynamo != nil {
		return s.Dynamo, nil
	}
	cfg, err := cloud.AWSConfig(ctx, s.Region)
	if err != nil {
		return nil, fmt.Errorf("falha ao carregar config AWS: %w", err)
	}
	s.Dynamo = dynamodb.NewFromConfig(cfg)
	return s.Dynamo, nil
}

func fetchFromS3(ctx context.Context, client S3Downloader, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("URL S3 inválida: %w", err)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

// fetchFromDynamoDB aceita dynamodb://tabela/chave?col=dado&pk=id
func fetchFromDynamoDB(ctx context.Context, client DynamoGetter, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("URL DynamoDB inválida: %w", err)
	}

	tableName := u.Host
	pkValue := strings.TrimPrefix(u.Path, "/")

	colName := u.Query().Get("col")
	if colName == "" {
		colName = "config"
	}
	pkName := u.Query().Get("pk")
	if pkName == "" {
		pkName = "id"
	}

	out, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &tableName,
		Key: map[string]types.AttributeValue{
			pkName: &types.AttributeValueMemberS{Value: pkValue},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("item '%s' não encontrado na tabela '%s'", pkValue, tableName)
	}

	var itemMap map[string]interface{}
	if err := attributevalue.UnmarshalMap(out.Item, &itemMap); err != nil {
		return nil, err
	}

	content, ok := itemMap[colName].(string)
	if !ok {
		return nil, fmt.Errorf("coluna '%s' inválida ou vazia no DynamoDB", colName)
	}
	return []byte(content), nil
}
