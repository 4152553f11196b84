package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is an in-memory table keyed by order_id. It understands the
// small expression subset the store emits: SET/REMOVE updates, if_not_exists
// counters, attribute_(not_)exists and equality conditions joined by AND.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
	// optional error injection
	putErr    error
	updateErr error
	queryErr  error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		tables: map[string]map[string]map[string]types.AttributeValue{},
	}
}

func (m *mockDynamo) ensureTable(tbl string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[tbl]; !ok {
		m.tables[tbl] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[tbl]
}

func pkOf(item map[string]types.AttributeValue) (string, error) {
	v, ok := item["order_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("no order_id attribute")
	}
	return v.Value, nil
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return nil, m.putErr
	}
	table := m.ensureTable(*params.TableName)
	pk, err := pkOf(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, table[pk], nil, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	table[pk] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := m.ensureTable(*params.TableName)
	pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := table[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	table := m.ensureTable(*params.TableName)
	var out []map[string]types.AttributeValue
	for _, item := range table {
		ok, err := evalCondition(*params.KeyConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, copyItem(item))
		}
	}
	if params.Limit != nil && int(*params.Limit) < len(out) {
		out = out[:*params.Limit]
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	table := m.ensureTable(*params.TableName)
	pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	current := table[pk]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, current, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	item := copyItem(current)
	if item == nil || len(item) == 0 {
		item = copyItem(params.Key)
	}
	if err := applyUpdate(*params.UpdateExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	table[pk] = item
	out := &dyn.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = copyItem(item)
	}
	return out, nil
}

func resolveName(tok string, names map[string]string) string {
	if strings.HasPrefix(tok, "#") {
		return names[tok]
	}
	return tok
}

func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	for _, clause := range strings.Split(expr, " AND ") {
		ok, err := evalClause(strings.TrimSpace(clause), item, names, values)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// evalClause handles one comparison or a parenthesised OR group.
func evalClause(clause string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if strings.HasPrefix(clause, "(") && strings.HasSuffix(clause, ")") && strings.Contains(clause, " OR ") {
		for _, alt := range strings.Split(clause[1:len(clause)-1], " OR ") {
			ok, err := evalClause(strings.TrimSpace(alt), item, names, values)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	switch {
	case strings.HasPrefix(clause, "attribute_not_exists(") || strings.HasPrefix(clause, "attribute_exists("):
		open := strings.Index(clause, "(")
		attr := resolveName(strings.TrimSuffix(clause[open+1:], ")"), names)
		_, present := item[attr]
		return strings.HasPrefix(clause, "attribute_exists(") == present, nil
	case strings.Contains(clause, " <> "), strings.Contains(clause, " = "):
		op := " = "
		if strings.Contains(clause, " <> ") {
			op = " <> "
		}
		parts := strings.SplitN(clause, op, 2)
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		want, ok := values[strings.TrimSpace(parts[1])].(*types.AttributeValueMemberS)
		if !ok {
			return false, fmt.Errorf("unsupported condition value in %q", clause)
		}
		got, ok := item[attr].(*types.AttributeValueMemberS)
		if !ok {
			// comparisons against a missing attribute are false
			return false, nil
		}
		return (got.Value == want.Value) == (op == " = "), nil
	case strings.Contains(clause, " < "):
		parts := strings.SplitN(clause, " < ", 2)
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		want, ok := values[strings.TrimSpace(parts[1])].(*types.AttributeValueMemberN)
		if !ok {
			return false, fmt.Errorf("unsupported condition value in %q", clause)
		}
		got, ok := item[attr].(*types.AttributeValueMemberN)
		if !ok {
			return false, nil
		}
		g, _ := strconv.ParseInt(got.Value, 10, 64)
		w, _ := strconv.ParseInt(want.Value, 10, 64)
		return g < w, nil
	default:
		return false, fmt.Errorf("unsupported condition %q", clause)
	}
}

func applyUpdate(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) error {
	setPart, removePart := expr, ""
	if i := strings.Index(expr, "REMOVE "); i >= 0 {
		setPart, removePart = expr[:i], expr[i+len("REMOVE "):]
	}
	setPart = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(setPart), "SET "))
	for _, assign := range splitTopLevel(setPart) {
		parts := strings.SplitN(assign, " = ", 2)
		if len(parts) != 2 {
			return fmt.Errorf("unsupported assignment %q", assign)
		}
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		rhs := strings.TrimSpace(parts[1])
		if strings.HasPrefix(rhs, "if_not_exists(") {
			// if_not_exists(attr, :zero) + :inc
			inner := rhs[len("if_not_exists("):strings.Index(rhs, ")")]
			args := strings.Split(inner, ",")
			base := values[strings.TrimSpace(args[1])].(*types.AttributeValueMemberN).Value
			if cur, ok := item[resolveName(strings.TrimSpace(args[0]), names)].(*types.AttributeValueMemberN); ok {
				base = cur.Value
			}
			incTok := strings.TrimSpace(rhs[strings.Index(rhs, "+")+1:])
			inc := values[incTok].(*types.AttributeValueMemberN).Value
			b, _ := strconv.Atoi(base)
			n, _ := strconv.Atoi(inc)
			item[attr] = &types.AttributeValueMemberN{Value: strconv.Itoa(b + n)}
			continue
		}
		v, ok := values[rhs]
		if !ok {
			return fmt.Errorf("missing value %s", rhs)
		}
		item[attr] = v
	}
	for _, attr := range splitTopLevel(removePart) {
		delete(item, resolveName(attr, names))
	}
	return nil
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				if part := strings.TrimSpace(s[start:i]); part != "" {
					out = append(out, part)
				}
				start = i + 1
			}
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		out = append(out, part)
	}
	return out
}
