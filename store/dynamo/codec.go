package dynamo

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/warp/retail-records/retail"
)

// codec converts between records and items. fields returns the item
// attributes for rec including id and version.
type codec[R retail.Record] struct {
	fields func(rec R) (map[string]types.AttributeValue, error)
	decode func(item map[string]types.AttributeValue) (R, error)
}

type customerItem struct {
	ID      int64  `dynamodbav:"id"`
	Version int64  `dynamodbav:"version"`
	Name    string `dynamodbav:"name"`
	Address string `dynamodbav:"address"`
}

type productItem struct {
	ID      int64  `dynamodbav:"id"`
	Version int64  `dynamodbav:"version"`
	Name    string `dynamodbav:"name"`
	Price   string `dynamodbav:"price"`
}

type storeItem struct {
	ID      int64  `dynamodbav:"id"`
	Version int64  `dynamodbav:"version"`
	Name    string `dynamodbav:"name"`
	Address string `dynamodbav:"address"`
}

type saleItem struct {
	ID         int64  `dynamodbav:"id"`
	Version    int64  `dynamodbav:"version"`
	DateSold   string `dynamodbav:"date_sold"`
	CustomerID int64  `dynamodbav:"customer_id"`
	ProductID  int64  `dynamodbav:"product_id"`
	StoreID    int64  `dynamodbav:"store_id"`
}

var customerCodec = codec[retail.Customer]{
	fields: func(c retail.Customer) (map[string]types.AttributeValue, error) {
		return attributevalue.MarshalMap(customerItem{
			ID: int64(c.ID), Version: c.Version, Name: c.Name, Address: c.Address,
		})
	},
	decode: func(item map[string]types.AttributeValue) (retail.Customer, error) {
		var it customerItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return retail.Customer{}, fmt.Errorf("failed to decode customer: %w", err)
		}
		return retail.Customer{ID: retail.ID(it.ID), Version: it.Version, Name: it.Name, Address: it.Address}, nil
	},
}

var productCodec = codec[retail.Product]{
	fields: func(p retail.Product) (map[string]types.AttributeValue, error) {
		return attributevalue.MarshalMap(productItem{
			ID: int64(p.ID), Version: p.Version, Name: p.Name, Price: p.Price.String(),
		})
	},
	decode: func(item map[string]types.AttributeValue) (retail.Product, error) {
		var it productItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return retail.Product{}, fmt.Errorf("failed to decode product: %w", err)
		}
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return retail.Product{}, fmt.Errorf("product %d: bad price %q: %w", it.ID, it.Price, err)
		}
		return retail.Product{ID: retail.ID(it.ID), Version: it.Version, Name: it.Name, Price: price}, nil
	},
}

var storeCodec = codec[retail.Store]{
	fields: func(s retail.Store) (map[string]types.AttributeValue, error) {
		return attributevalue.MarshalMap(storeItem{
			ID: int64(s.ID), Version: s.Version, Name: s.Name, Address: s.Address,
		})
	},
	decode: func(item map[string]types.AttributeValue) (retail.Store, error) {
		var it storeItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return retail.Store{}, fmt.Errorf("failed to decode store: %w", err)
		}
		return retail.Store{ID: retail.ID(it.ID), Version: it.Version, Name: it.Name, Address: it.Address}, nil
	},
}

var saleCodec = codec[retail.Sale]{
	fields: func(s retail.Sale) (map[string]types.AttributeValue, error) {
		return attributevalue.MarshalMap(saleItem{
			ID:         int64(s.ID),
			Version:    s.Version,
			DateSold:   s.DateSold.UTC().Format(time.RFC3339Nano),
			CustomerID: int64(s.CustomerID),
			ProductID:  int64(s.ProductID),
			StoreID:    int64(s.StoreID),
		})
	},
	decode: func(item map[string]types.AttributeValue) (retail.Sale, error) {
		var it saleItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return retail.Sale{}, fmt.Errorf("failed to decode sale: %w", err)
		}
		sold, err := time.Parse(time.RFC3339Nano, it.DateSold)
		if err != nil {
			return retail.Sale{}, fmt.Errorf("sale %d: bad date_sold %q: %w", it.ID, it.DateSold, err)
		}
		return retail.Sale{
			ID:         retail.ID(it.ID),
			Version:    it.Version,
			DateSold:   sold,
			CustomerID: retail.ID(it.CustomerID),
			ProductID:  retail.ID(it.ProductID),
			StoreID:    retail.ID(it.StoreID),
		}, nil
	},
}
