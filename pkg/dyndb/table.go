// Package dyndb é uma camada genérica e tipada sobre o DynamoDB (SDK v2),
// usada pelos stores de tasks e runs.
package dyndb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrNotFound é devolvido quando o item não existe.
var ErrNotFound = errors.New("dyndb: item not found")

// ErrConditionFailed indica que a condição de escrita não foi satisfeita.
var ErrConditionFailed = errors.New("dyndb: condition failed")

// Client é o subconjunto do cliente DynamoDB usado pelo pacote (permite Mocking).
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// TableConfig descreve a tabela. SortKey é opcional.
type TableConfig struct {
	TableName string
	HashKey   string
	SortKey   string
}

// Table é um store tipado sobre uma tabela.
type Table[T any] struct {
	client Client
	cfg    TableConfig
}

func New[T any](client Client, cfg TableConfig) *Table[T] {
	return &Table[T]{client: client, cfg: cfg}
}

// Get busca por chave primária com leitura consistente.
func (t *Table[T]) Get(ctx context.Context, hashKey, sortKey any) (*T, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.cfg.TableName),
		Key:            t.key(hashKey, sortKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dyndb: get failed: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item T
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("dyndb: unmarshal failed: %w", err)
	}
	return &item, nil
}

// Put grava o item (upsert).
func (t *Table[T]) Put(ctx context.Context, item T) error {
	return t.put(ctx, item, nil)
}

// PutIf grava o item somente se cond for satisfeita.
func (t *Table[T]) PutIf(ctx context.Context, item T, cond expression.ConditionBuilder) error {
	return t.put(ctx, item, &cond)
}

// PutNew grava o item somente se a chave ainda não existir.
func (t *Table[T]) PutNew(ctx context.Context, item T) error {
	return t.PutIf(ctx, item, expression.AttributeNotExists(expression.Name(t.cfg.HashKey)))
}

func (t *Table[T]) put(ctx context.Context, item T, cond *expression.ConditionBuilder) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("dyndb: marshal failed: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(t.cfg.TableName),
		Item:      av,
	}
	if cond != nil {
		expr, err := expression.NewBuilder().WithCondition(*cond).Build()
		if err != nil {
			return fmt.Errorf("dyndb: invalid condition: %w", err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	if _, err := t.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConditionFailed
		}
		return fmt.Errorf("dyndb: put failed: %w", err)
	}
	return nil
}

// Scan percorre a tabela inteira, seguindo LastEvaluatedKey. filter é opcional.
func (t *Table[T]) Scan(ctx context.Context, filter *expression.ConditionBuilder) ([]T, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(t.cfg.TableName)}
	if filter != nil {
		expr, err := expression.NewBuilder().WithFilter(*filter).Build()
		if err != nil {
			return nil, fmt.Errorf("dyndb: invalid filter: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var result []T
	for {
		out, err := t.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("dyndb: scan failed: %w", err)
		}
		for _, raw := range out.Items {
			var item T
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("dyndb: unmarshal failed: %w", err)
			}
			result = append(result, item)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (t *Table[T]) key(hashKey, sortKey any) map[string]types.AttributeValue {
	key := map[string]types.AttributeValue{t.cfg.HashKey: attr(hashKey)}
	if t.cfg.SortKey != "" && sortKey != nil {
		key[t.cfg.SortKey] = attr(sortKey)
	}
	return key
}

// attr converte qualquer valor para types.AttributeValue
func attr(v any) types.AttributeValue {
	if v == nil {
		return &types.AttributeValueMemberNULL{Value: true}
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return &types.AttributeValueMemberNULL{Value: true}
	}
	return av
}
