package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-records/retail"
)

// fakeAPI answers only the calls a test sets up; anything else panics
// through the nil embedded interface.
type fakeAPI struct {
	API

	deleteErr   error
	transactErr error
	getItem     map[string]types.AttributeValue

	transactions []*dynamodb.TransactWriteItemsInput
	counter      int64
}

func (f *fakeAPI) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func (f *fakeAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.counter++
	return &dynamodb.UpdateItemOutput{
		Attributes: map[string]types.AttributeValue{attrLast: number(f.counter)},
	}, nil
}

func (f *fakeAPI) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transactions = append(f.transactions, in)
	return &dynamodb.TransactWriteItemsOutput{}, f.transactErr
}

func cancelled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		if c != "" {
			reasons[i].Code = aws.String(c)
		}
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func TestSaleInsert_MissingParentsNamed(t *testing.T) {
	// GIVEN: the transaction is cancelled on the product and store increments
	api := &fakeAPI{transactErr: cancelled("None", conditionFailed, conditionFailed, "None")}
	s := New(api, "test")

	// WHEN
	_, err := s.Sales().Insert(context.Background(), retail.Sale{
		DateSold: time.Now(), CustomerID: 1, ProductID: 2, StoreID: 3,
	})

	// THEN
	var ire *retail.InvalidReferenceError
	require.True(t, errors.As(err, &ire), "got %v", err)
	assert.Equal(t, []string{retail.FieldProductID, retail.FieldStoreID}, ire.Fields)
	assert.Equal(t, []retail.ID{2, 3}, ire.IDs)

	require.Len(t, api.transactions, 1)
	items := api.transactions[0].TransactItems
	require.Len(t, items, 4, "three parent increments and the put")
	assert.Equal(t, "test-customers", *items[0].Update.TableName)
	assert.Equal(t, "test-sales", *items[3].Put.TableName)
}

func TestMapSaleTransactionError(t *testing.T) {
	slots := []parentSlot{{index: 1, field: retail.FieldStoreID, id: 9}}

	t.Run("sale row gone", func(t *testing.T) {
		err := mapSaleTransactionError(cancelled(conditionFailed, "None"), slots, 0)
		assert.True(t, errors.Is(err, retail.ErrNotFound), "got %v", err)
	})

	t.Run("sale version moved", func(t *testing.T) {
		txErr := &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
			{Code: aws.String(conditionFailed), Item: map[string]types.AttributeValue{attrID: number(4)}},
			{},
		}}
		err := mapSaleTransactionError(txErr, slots, 0)
		assert.True(t, errors.Is(err, retail.ErrConflict), "got %v", err)
	})

	t.Run("new parent missing", func(t *testing.T) {
		err := mapSaleTransactionError(cancelled("None", conditionFailed), slots, 0)
		var ire *retail.InvalidReferenceError
		require.True(t, errors.As(err, &ire), "got %v", err)
		assert.Equal(t, []string{retail.FieldStoreID}, ire.Fields)
	})

	t.Run("other failure", func(t *testing.T) {
		err := mapSaleTransactionError(errors.New("throttled"), slots, 0)
		assert.False(t, errors.Is(err, retail.ErrConflict))
		assert.ErrorContains(t, err, "throttled")
	})
}

func TestParentRemove_ClassifiesConditionFailure(t *testing.T) {
	tests := []struct {
		name string
		old  map[string]types.AttributeValue
		want error
	}{
		{"missing", nil, retail.ErrNotFound},
		{"referenced", map[string]types.AttributeValue{attrID: number(1), attrRefCount: number(2)}, retail.ErrReferenced},
		{"version moved", map[string]types.AttributeValue{attrID: number(1), attrRefCount: number(0)}, retail.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{deleteErr: &types.ConditionalCheckFailedException{Item: tt.old}}
			s := New(api, "")

			err := s.Customers().Remove(context.Background(), 1, 3)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSaleRemove_SkipsMissingParents(t *testing.T) {
	// GIVEN: an orphaned sale; only the first GetItem (the sale) finds a row
	sale := map[string]types.AttributeValue{
		attrID: number(5), attrVersion: number(1),
		"date_sold":   &types.AttributeValueMemberS{Value: "2024-01-02T00:00:00Z"},
		"customer_id": number(1), "product_id": number(2), "store_id": number(3),
	}
	api := &onceGetAPI{fakeAPI: &fakeAPI{}, first: sale}
	s := New(api, "t")

	// WHEN
	require.NoError(t, s.Sales().Remove(context.Background(), 5, 0))

	// THEN: only the delete is in the transaction
	require.Len(t, api.transactions, 1)
	items := api.transactions[0].TransactItems
	require.Len(t, items, 1)
	assert.NotNil(t, items[0].Delete)
}

type onceGetAPI struct {
	*fakeAPI
	first map[string]types.AttributeValue
	calls int
}

func (o *onceGetAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	o.calls++
	if o.calls == 1 {
		return &dynamodb.GetItemOutput{Item: o.first}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func TestCodecs_PreserveExactValues(t *testing.T) {
	p := retail.Product{ID: 3, Version: 2, Name: "Lamp", Price: decimal.RequireFromString("19.990")}
	item, err := productCodec.fields(p)
	require.NoError(t, err)
	got, err := productCodec.decode(item)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(got.Price))
	assert.Equal(t, p.ID, got.ID)

	sold := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)
	item, err = saleCodec.fields(retail.Sale{ID: 1, Version: 1, DateSold: sold, CustomerID: 1, ProductID: 2, StoreID: 3})
	require.NoError(t, err)
	sale, err := saleCodec.decode(item)
	require.NoError(t, err)
	assert.True(t, sold.Equal(sale.DateSold))
	assert.Equal(t, retail.ID(3), sale.StoreID)
}
