package tasks

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/raywall/tes-dashboard/pkg/dyndb"
)

// DynamoStore grava tasks numa tabela com hash key tes_url e sort key task_id.
type DynamoStore struct {
	// serializa o read-modify-write de Update dentro do processo
	mu    sync.Mutex
	table *dyndb.Table[Task]
}

func NewDynamoStore(client dyndb.Client, tableName string) *DynamoStore {
	return &DynamoStore{table: dyndb.New[Task](client, dyndb.TableConfig{
		TableName: tableName,
		HashKey:   "tes_url",
		SortKey:   "task_id",
	})}
}

func (d *DynamoStore) List(ctx context.Context, f Filter) ([]*Task, error) {
	var filter *expression.ConditionBuilder
	var conds []expression.ConditionBuilder
	if f.State != "" {
		conds = append(conds, expression.Name("state").Equal(expression.Value(f.State)))
	}
	if f.TESURL != "" {
		conds = append(conds, expression.Name("tes_url").Equal(expression.Value(f.TESURL)))
	}
	switch len(conds) {
	case 1:
		filter = &conds[0]
	case 2:
		c := expression.And(conds[0], conds[1])
		filter = &c
	}
	return d.scan(ctx, filter)
}

func (d *DynamoStore) Append(ctx context.Context, t *Task) error {
	err := d.table.PutNew(ctx, *t)
	if errors.Is(err, dyndb.ErrConditionFailed) {
		return ErrDuplicate
	}
	return err
}

func (d *DynamoStore) Get(ctx context.Context, key Key) (*Task, error) {
	t, err := d.table.Get(ctx, key.TESURL, key.TaskID)
	if errors.Is(err, dyndb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

func (d *DynamoStore) Update(ctx context.Context, key Key, fn func(*Task) bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !fn(t) {
		return false, nil
	}
	t.ID, t.TESURL = key.TaskID, key.TESURL
	if err := d.table.Put(ctx, *t); err != nil {
		return false, err
	}
	return true, nil
}

func (d *DynamoStore) NonTerminal(ctx context.Context) ([]*Task, error) {
	terminal := TerminalStates()
	operands := make([]expression.OperandBuilder, 0, len(terminal)-1)
	for _, s := range terminal[1:] {
		operands = append(operands, expression.Value(s))
	}
	filter := expression.Not(expression.Name("state").In(expression.Value(terminal[0]), operands...))
	return d.scan(ctx, &filter)
}

func (d *DynamoStore) scan(ctx context.Context, filter *expression.ConditionBuilder) ([]*Task, error) {
	items, err := d.table.Scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	sortBySubmission(out)
	return out, nil
}
