package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultPhoneIndex is the global secondary index keyed by contactPhone with
// timestamp as its sort key.
const DefaultPhoneIndex = "contactPhone-timestamp-index"

// DynamoAPI is the subset of the DynamoDB client the index uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoIndex is a LeadIndex on a DynamoDB table keyed by leadId. Expiry is
// left to the table's TTL on the "ttl" attribute.
type DynamoIndex struct {
	Client     DynamoAPI
	TableName  string
	PhoneIndex string
}

// NewDynamoIndex builds a client from the default AWS configuration.
func NewDynamoIndex(ctx context.Context, region, tableName string) (*DynamoIndex, error) {
	if tableName == "" {
		return nil, fmt.Errorf("DYNAMODB_TABLE is required for the dynamodb index")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &DynamoIndex{
		Client:     dynamodb.NewFromConfig(awsCfg),
		TableName:  tableName,
		PhoneIndex: DefaultPhoneIndex,
	}, nil
}

func (d *DynamoIndex) Put(ctx context.Context, l LeadSummary) error {
	item, err := attributevalue.MarshalMap(l)
	if err != nil {
		return fmt.Errorf("failed to marshal lead summary: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(d.TableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(leadId)"),
	}
	_, err = d.Client.PutItem(ctx, input)
	var exists *types.ConditionalCheckFailedException
	if errors.As(err, &exists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to store lead summary in dynamodb: %w", err)
	}
	return nil
}

func (d *DynamoIndex) LatestByPhone(ctx context.Context, phone string) (*LeadSummary, error) {
	index := d.PhoneIndex
	if index == "" {
		index = DefaultPhoneIndex
	}
	out, err := d.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.TableName),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("contactPhone = :phone"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":phone": &types.AttributeValueMemberS{Value: phone},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query dynamodb: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("lead for phone: %w", ErrNotFound)
	}
	var l LeadSummary
	if err := attributevalue.UnmarshalMap(out.Items[0], &l); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lead summary: %w", err)
	}
	return &l, nil
}
