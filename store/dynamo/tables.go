package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Options configures Open.
type Options struct {
	Region string
	// Endpoint overrides the service endpoint, e.g. DynamoDB Local.
	Endpoint    string
	TablePrefix string
	// CreateTables creates missing tables on open.
	CreateTables bool
}

// Open loads the default AWS configuration and returns a store.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var loaders []func(*config.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	s := New(client, opts.TablePrefix)
	if opts.CreateTables {
		if err := s.EnsureTables(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// EnsureTables creates any missing table and waits for it to become active.
func (s *Store) EnsureTables(ctx context.Context) error {
	entity := []string{s.tables.Customers, s.tables.Products, s.tables.Stores, s.tables.Sales}
	for _, name := range entity {
		if err := s.createTable(ctx, name, attrID, types.ScalarAttributeTypeN); err != nil {
			return err
		}
	}
	if err := s.createTable(ctx, s.tables.Counters, attrName, types.ScalarAttributeTypeS); err != nil {
		return err
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	for _, name := range append(entity, s.tables.Counters) {
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) createTable(ctx context.Context, name, hashKey string, keyType types.ScalarAttributeType) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(hashKey), AttributeType: keyType},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	return nil
}
