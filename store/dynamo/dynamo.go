/*
Package dynamo provides an Amazon DynamoDB implementation of retail.Backend.

TABLES:
  {prefix}-customers, {prefix}-products, {prefix}-stores, {prefix}-sales
    hash key "id" (N)
  {prefix}-counters
    hash key "name" (S), one item per kind holding the last issued id

IDENTITY:
  Ids come from an atomic ADD on the kind's counter item, so they are
  monotonic and never reused.

REFERENTIAL INTEGRITY:
  DynamoDB has no foreign keys. Each parent item carries ref_count, the
  number of sales that point at it:
  - Sale insert is one TransactWriteItems: ADD ref_count on each parent
    under attribute_exists(id), then Put the sale. A missing parent
    cancels the whole transaction; the cancellation index names the field.
  - Sale replace moves the count from old to new parents in the same
    transaction as the version-guarded sale update.
  - Sale remove decrements the parents with the delete.
  - Parent delete is conditioned on ref_count = 0.

VERSIONING:
  Conditional writes on "version". ReturnValuesOnConditionCheckFailure
  ALL_OLD tells a missing item (NotFound) from a version mismatch
  (Conflict) without a second read.

SEE ALSO:
  - retail/store.go: Interface definitions
  - store/sqlite/sqlite.go: Same contract on SQLite
*/
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/warp/retail-records/retail"
)

// API is the subset of *dynamodb.Client used by the store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

const (
	attrID       = "id"
	attrVersion  = "version"
	attrRefCount = "ref_count"
	attrName     = "name"
	attrLast     = "last"

	conditionFailed = "ConditionalCheckFailed"
)

// Store implements retail.Backend on DynamoDB.
type Store struct {
	client API
	tables Tables

	customers *parentTable[retail.Customer]
	products  *parentTable[retail.Product]
	stores    *parentTable[retail.Store]
	sales     *saleTable
}

// Tables holds the resolved table names.
type Tables struct {
	Customers string
	Products  string
	Stores    string
	Sales     string
	Counters  string
}

// TableNames derives the table names from a prefix.
func TableNames(prefix string) Tables {
	if prefix == "" {
		prefix = "retail"
	}
	return Tables{
		Customers: prefix + "-customers",
		Products:  prefix + "-products",
		Stores:    prefix + "-stores",
		Sales:     prefix + "-sales",
		Counters:  prefix + "-counters",
	}
}

// New creates a store over existing tables. See EnsureTables.
func New(client API, prefix string) *Store {
	s := &Store{client: client, tables: TableNames(prefix)}
	s.customers = &parentTable[retail.Customer]{base: base[retail.Customer]{s: s, kind: retail.KindCustomer, table: s.tables.Customers, codec: customerCodec}}
	s.products = &parentTable[retail.Product]{base: base[retail.Product]{s: s, kind: retail.KindProduct, table: s.tables.Products, codec: productCodec}}
	s.stores = &parentTable[retail.Store]{base: base[retail.Store]{s: s, kind: retail.KindStore, table: s.tables.Stores, codec: storeCodec}}
	s.sales = &saleTable{base: base[retail.Sale]{s: s, kind: retail.KindSale, table: s.tables.Sales, codec: saleCodec}}
	return s
}

func (s *Store) Customers() retail.Table[retail.Customer] { return s.customers }
func (s *Store) Products() retail.Table[retail.Product]   { return s.products }
func (s *Store) Stores() retail.Table[retail.Store]       { return s.stores }
func (s *Store) Sales() retail.SaleTable                  { return s.sales }

// Ping describes the sales table.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tables.Sales)})
	return err
}

// Close is a no-op; the SDK client holds no connections that need release.
func (s *Store) Close() error { return nil }

// parentTableName returns the table a sale foreign key points into.
func (s *Store) parentTableName(kind retail.Kind) string {
	switch kind {
	case retail.KindCustomer:
		return s.tables.Customers
	case retail.KindProduct:
		return s.tables.Products
	case retail.KindStore:
		return s.tables.Stores
	}
	return ""
}

// nextID issues the next identity for kind.
func (s *Store) nextID(ctx context.Context, kind retail.Kind) (retail.ID, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tables.Counters),
		Key:                       map[string]types.AttributeValue{attrName: &types.AttributeValueMemberS{Value: string(kind)}},
		UpdateExpression:          aws.String("ADD #last :one"),
		ExpressionAttributeNames:  map[string]string{"#last": attrLast},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": number(1)},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to issue %s id: %w", kind, err)
	}
	var counter struct {
		Last int64 `dynamodbav:"last"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &counter); err != nil {
		return 0, fmt.Errorf("failed to decode %s counter: %w", kind, err)
	}
	return retail.ID(counter.Last), nil
}

// =============================================================================
// BASE - Reads and helpers shared by every kind
// =============================================================================

type base[R retail.Record] struct {
	s     *Store
	kind  retail.Kind
	table string
	codec codec[R]
}

func (b *base[R]) key(id retail.ID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrID: number(int64(id))}
}

func (b *base[R]) Get(ctx context.Context, id retail.ID) (*R, error) {
	out, err := b.s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            b.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %d: %w", b.kind, id, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	rec, err := b.codec.decode(out.Item)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *base[R]) List(ctx context.Context) ([]R, error) {
	items, err := b.scan(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]R, 0, len(items))
	for _, item := range items {
		rec, err := b.codec.decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity() > out[j].Identity() })
	return out, nil
}

func (b *base[R]) scan(ctx context.Context, filter *dynamodb.ScanInput) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(b.table), ConsistentRead: aws.Bool(true)}
	if filter != nil {
		input.FilterExpression = filter.FilterExpression
		input.ExpressionAttributeNames = filter.ExpressionAttributeNames
		input.ExpressionAttributeValues = filter.ExpressionAttributeValues
		input.ProjectionExpression = filter.ProjectionExpression
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(b.s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", b.table, err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// newItem encodes rec as a fresh item at version 1.
func (b *base[R]) newItem(id retail.ID, rec R) (map[string]types.AttributeValue, error) {
	item, err := b.codec.fields(rec)
	if err != nil {
		return nil, err
	}
	item[attrID] = number(int64(id))
	item[attrVersion] = number(1)
	return item, nil
}

// setFields builds "SET a = :a, ..., version = version + 1" for rec's fields.
func (b *base[R]) setFields(rec R) (string, map[string]string, map[string]types.AttributeValue, error) {
	fields, err := b.codec.fields(rec)
	if err != nil {
		return "", nil, nil, err
	}
	delete(fields, attrID)
	delete(fields, attrVersion)

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	exprNames := map[string]string{"#version": attrVersion}
	exprValues := map[string]types.AttributeValue{":one": number(1)}
	expr := "SET "
	for i, k := range names {
		n, v := fmt.Sprintf("#f%d", i), fmt.Sprintf(":f%d", i)
		exprNames[n] = k
		exprValues[v] = fields[k]
		expr += n + " = " + v + ", "
	}
	expr += "#version = #version + :one"
	return expr, exprNames, exprValues, nil
}

// =============================================================================
// PARENTS - Customers, products, stores
// =============================================================================

type parentTable[R retail.Record] struct {
	base[R]
}

func (t *parentTable[R]) Insert(ctx context.Context, rec R) (retail.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := t.s.nextID(ctx, t.kind)
	if err != nil {
		return 0, err
	}
	item, err := t.newItem(id, rec)
	if err != nil {
		return 0, err
	}
	item[attrRefCount] = number(0)

	_, err = t.s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(t.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": attrID},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, fmt.Errorf("%w: %s id %d already issued", retail.ErrConflict, t.kind, id)
		}
		return 0, fmt.Errorf("failed to put %s: %w", t.kind, err)
	}
	return id, nil
}

func (t *parentTable[R]) Replace(ctx context.Context, id retail.ID, expectedVersion int64, rec R) error {
	expr, names, values, err := t.setFields(rec)
	if err != nil {
		return err
	}
	names["#id"] = attrID
	cond := "attribute_exists(#id)"
	if expectedVersion != 0 {
		cond += " AND #version = :expected"
		values[":expected"] = number(expectedVersion)
	}

	_, err = t.s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(t.table),
		Key:                                 t.key(id),
		UpdateExpression:                    aws.String(expr),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if condErr.Item == nil {
				return retail.ErrNotFound
			}
			return retail.ErrConflict
		}
		return fmt.Errorf("failed to update %s %d: %w", t.kind, id, err)
	}
	return nil
}

func (t *parentTable[R]) Remove(ctx context.Context, id retail.ID, expectedVersion int64) error {
	cond := "attribute_exists(#id) AND (attribute_not_exists(#refs) OR #refs = :zero)"
	names := map[string]string{"#id": attrID, "#refs": attrRefCount}
	values := map[string]types.AttributeValue{":zero": number(0)}
	if expectedVersion != 0 {
		cond += " AND #version = :expected"
		names["#version"] = attrVersion
		values[":expected"] = number(expectedVersion)
	}

	_, err := t.s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                           aws.String(t.table),
		Key:                                 t.key(id),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return classifyRemove(condErr.Item)
		}
		return fmt.Errorf("failed to delete %s %d: %w", t.kind, id, err)
	}
	return nil
}

// classifyRemove explains a failed parent delete from the old item.
func classifyRemove(old map[string]types.AttributeValue) error {
	if old == nil {
		return retail.ErrNotFound
	}
	if n, ok := old[attrRefCount].(*types.AttributeValueMemberN); ok && n.Value != "0" {
		return retail.ErrReferenced
	}
	return retail.ErrConflict
}

// =============================================================================
// SALES - Reference-counted writes
// =============================================================================

type saleTable struct {
	base[retail.Sale]
}

// refUpdate adjusts one parent's ref_count inside a transaction.
func (t *saleTable) refUpdate(kind retail.Kind, id retail.ID, delta int64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(t.s.parentTableName(kind)),
			Key:                       t.key(id),
			UpdateExpression:          aws.String("ADD #refs :delta"),
			ConditionExpression:       aws.String("attribute_exists(#id)"),
			ExpressionAttributeNames:  map[string]string{"#refs": attrRefCount, "#id": attrID},
			ExpressionAttributeValues: map[string]types.AttributeValue{":delta": number(delta)},
		},
	}
}

// parentSlot records which parent a transaction item increments.
type parentSlot struct {
	index int
	field string
	id    retail.ID
}

func (t *saleTable) Insert(ctx context.Context, rec retail.Sale) (retail.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := t.s.nextID(ctx, t.kind)
	if err != nil {
		return 0, err
	}
	item, err := t.newItem(id, rec)
	if err != nil {
		return 0, err
	}

	var (
		items []types.TransactWriteItem
		slots []parentSlot
	)
	for _, pf := range parentRefs {
		ref := rec.Reference(pf.kind)
		slots = append(slots, parentSlot{index: len(items), field: pf.field, id: ref})
		items = append(items, t.refUpdate(pf.kind, ref, 1))
	}
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                aws.String(t.table),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{"#id": attrID},
		},
	})

	_, err = t.s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return 0, mapSaleTransactionError(err, slots, -1)
	}
	return id, nil
}

func (t *saleTable) Replace(ctx context.Context, id retail.ID, expectedVersion int64, rec retail.Sale) error {
	cur, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur == nil {
		return retail.ErrNotFound
	}
	if expectedVersion != 0 && cur.Version != expectedVersion {
		return retail.ErrConflict
	}

	expr, names, values, err := t.setFields(rec)
	if err != nil {
		return err
	}
	values[":current"] = number(cur.Version)

	items := []types.TransactWriteItem{{
		Update: &types.Update{
			TableName:                           aws.String(t.table),
			Key:                                 t.key(id),
			UpdateExpression:                    aws.String(expr),
			ConditionExpression:                 aws.String("#version = :current"),
			ExpressionAttributeNames:            names,
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}}

	var slots []parentSlot
	for _, pf := range parentRefs {
		from, to := cur.Reference(pf.kind), rec.Reference(pf.kind)
		if from == to {
			continue
		}
		slots = append(slots, parentSlot{index: len(items), field: pf.field, id: to})
		items = append(items, t.refUpdate(pf.kind, to, 1))
		release, err := t.refRelease(ctx, pf.kind, from)
		if err != nil {
			return err
		}
		items = append(items, release...)
	}

	_, err = t.s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return mapSaleTransactionError(err, slots, 0)
	}
	return nil
}

func (t *saleTable) Remove(ctx context.Context, id retail.ID, expectedVersion int64) error {
	cur, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur == nil {
		return retail.ErrNotFound
	}
	if expectedVersion != 0 && cur.Version != expectedVersion {
		return retail.ErrConflict
	}

	items := []types.TransactWriteItem{{
		Delete: &types.Delete{
			TableName:                           aws.String(t.table),
			Key:                                 t.key(id),
			ConditionExpression:                 aws.String("#version = :current"),
			ExpressionAttributeNames:            map[string]string{"#version": attrVersion},
			ExpressionAttributeValues:           map[string]types.AttributeValue{":current": number(cur.Version)},
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}}
	for _, pf := range parentRefs {
		release, err := t.refRelease(ctx, pf.kind, cur.Reference(pf.kind))
		if err != nil {
			return err
		}
		items = append(items, release...)
	}

	_, err = t.s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return mapSaleTransactionError(err, nil, 0)
	}
	return nil
}

// refRelease decrements a parent's count. A parent that is already gone
// (an orphaned sale) is skipped instead of being recreated by ADD. A parent
// that exists counts this sale, so it cannot be deleted before the write.
func (t *saleTable) refRelease(ctx context.Context, kind retail.Kind, id retail.ID) ([]types.TransactWriteItem, error) {
	out, err := t.s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(t.s.parentTableName(kind)),
		Key:                      t.key(id),
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     aws.String("#id"),
		ExpressionAttributeNames: map[string]string{"#id": attrID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %d: %w", kind, id, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	return []types.TransactWriteItem{t.refUpdate(kind, id, -1)}, nil
}

func (t *saleTable) Referencing(ctx context.Context, kind retail.Kind, id retail.ID) ([]retail.ID, error) {
	attr, ok := referenceAttr[kind]
	if !ok {
		return nil, fmt.Errorf("sales do not reference %s", kind)
	}
	items, err := t.scan(ctx, &dynamodb.ScanInput{
		FilterExpression:          aws.String("#ref = :id"),
		ProjectionExpression:      aws.String("#id"),
		ExpressionAttributeNames:  map[string]string{"#ref": attr, "#id": attrID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":id": number(int64(id))},
	})
	if err != nil {
		return nil, err
	}

	var ids []retail.ID
	for _, item := range items {
		var row struct {
			ID int64 `dynamodbav:"id"`
		}
		if err := attributevalue.UnmarshalMap(item, &row); err != nil {
			return nil, fmt.Errorf("failed to decode sale id: %w", err)
		}
		ids = append(ids, retail.ID(row.ID))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids, nil
}

// mapSaleTransactionError maps a cancelled sale transaction to retail
// sentinels. slots name the parent increments; saleIndex is the position
// of the sale's own conditional write, or -1 for inserts.
func mapSaleTransactionError(err error, slots []parentSlot, saleIndex int) error {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return fmt.Errorf("failed to write sale: %w", err)
	}

	var bad retail.InvalidReferenceError
	for i, reason := range txErr.CancellationReasons {
		if reason.Code == nil || *reason.Code != conditionFailed {
			continue
		}
		if i == saleIndex {
			if reason.Item == nil {
				return retail.ErrNotFound
			}
			return retail.ErrConflict
		}
		for _, slot := range slots {
			if slot.index == i {
				bad.Fields = append(bad.Fields, slot.field)
				bad.IDs = append(bad.IDs, slot.id)
			}
		}
	}
	if len(bad.Fields) > 0 {
		return &bad
	}
	return fmt.Errorf("%w: sale transaction cancelled: %v", retail.ErrConflict, err)
}

// =============================================================================
// HELPERS
// =============================================================================

var parentRefs = []struct {
	kind  retail.Kind
	field string
}{
	{retail.KindCustomer, retail.FieldCustomerID},
	{retail.KindProduct, retail.FieldProductID},
	{retail.KindStore, retail.FieldStoreID},
}

var referenceAttr = map[retail.Kind]string{
	retail.KindCustomer: "customer_id",
	retail.KindProduct:  "product_id",
	retail.KindStore:    "store_id",
}

func number(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
