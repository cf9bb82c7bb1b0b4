//go:build e2e

// Run against DynamoDB Local or a real account:
//   RETAIL_DYNAMODB_ENDPOINT=http://localhost:8000 go test -tags=e2e ./store/dynamo/...
package dynamo

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-records/retail"
	"github.com/warp/retail-records/retail/storetest"
)

func TestDynamo_Conformance(t *testing.T) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	storetest.Run(t, func(t *testing.T) retail.Backend {
		// Fresh tables per case so identities start at 1.
		s, err := Open(context.Background(), Options{
			Region:       region,
			Endpoint:     os.Getenv("RETAIL_DYNAMODB_ENDPOINT"),
			TablePrefix:  "retail-e2e-" + uuid.New().String()[:8],
			CreateTables: true,
		})
		require.NoError(t, err)
		return s
	})
}
