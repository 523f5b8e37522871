package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/awsclient"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/monitoring"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

const sortKey = "PREFERENCES"

// item is the stored shape of a preferences record
type item struct {
	PK          string                 `dynamodbav:"pk"`
	SK          string                 `dynamodbav:"sk"`
	Preferences map[string]interface{} `dynamodbav:"preferences"`
	Version     int                    `dynamodbav:"version"`
	CreatedAt   string                 `dynamodbav:"createdAt"`
	UpdatedAt   string                 `dynamodbav:"updatedAt"`
}

// Repository stores one preferences item per user
type Repository struct {
	client  awsclient.DynamoDBAPI
	table   string
	monitor *monitoring.MonitoringMiddleware
	logger  *logger.Logger
	now     func() time.Time
}

// NewRepository creates a preferences repository over table
func NewRepository(client awsclient.DynamoDBAPI, table string, monitor *monitoring.MonitoringMiddleware, log *logger.Logger) *Repository {
	return &Repository{
		client:  client,
		table:   table,
		monitor: monitor,
		logger:  log,
		now:     time.Now,
	}
}

func partitionKey(userID string) string {
	return "USER#" + userID
}

func (r *Repository) key(userID string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"pk": &ddbtypes.AttributeValueMemberS{Value: partitionKey(userID)},
		"sk": &ddbtypes.AttributeValueMemberS{Value: sortKey},
	}
}

// Get returns the stored record merged over defaults and migrated
func (r *Repository) Get(ctx context.Context, userID string) (*types.PreferencesRecord, error) {
	var out *dynamodb.GetItemOutput
	err := r.monitor.StoreMiddleware("GetItem", r.table)(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(r.table),
			Key:            r.key(userID),
			ConsistentRead: aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return nil, types.NewExternalError(types.ErrCodeExternalError, "failed to read preferences", err)
	}
	if len(out.Item) == 0 {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "preferences not found")
	}

	return r.decode(userID, out.Item)
}

// Put writes prefs for userID and bumps the version. When expectedVersion
// is set the write only succeeds if the stored version matches; zero means
// the record must not exist yet.
func (r *Repository) Put(ctx context.Context, userID string, prefs types.Preferences, expectedVersion *int) (*types.PreferencesRecord, error) {
	doc, err := toDocument(prefs)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to encode preferences", err)
	}

	now := r.now().UTC().Format(time.RFC3339)
	update := expression.Set(expression.Name("preferences"), expression.Value(doc)).
		Set(expression.Name("updatedAt"), expression.Value(now)).
		Set(expression.Name("createdAt"), expression.IfNotExists(expression.Name("createdAt"), expression.Value(now))).
		Add(expression.Name("version"), expression.Value(1))

	builder := expression.NewBuilder().WithUpdate(update)
	if expectedVersion != nil {
		if *expectedVersion == 0 {
			builder = builder.WithCondition(expression.AttributeNotExists(expression.Name("pk")))
		} else {
			builder = builder.WithCondition(expression.Name("version").Equal(expression.Value(*expectedVersion)))
		}
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to build update expression", err)
	}

	var out *dynamodb.UpdateItemOutput
	err = r.monitor.StoreMiddleware("UpdateItem", r.table)(ctx, func(ctx context.Context) error {
		out, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(r.table),
			Key:                       r.key(userID),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ReturnValues:              ddbtypes.ReturnValueAllNew,
		})
		return err
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, types.NewConflictError(types.ErrCodeVersionMismatch,
				"preferences were changed by another session", err)
		}
		return nil, types.NewExternalError(types.ErrCodeExternalError, "failed to save preferences", err)
	}

	r.logger.WithContext(ctx).WithField("table", r.table).Debug("Preferences saved")
	return r.decode(userID, out.Attributes)
}

// Delete removes the record. Deleting a missing record is not an error.
func (r *Repository) Delete(ctx context.Context, userID string) error {
	err := r.monitor.StoreMiddleware("DeleteItem", r.table)(ctx, func(ctx context.Context) error {
		_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(r.table),
			Key:       r.key(userID),
		})
		return err
	})
	if err != nil {
		return types.NewExternalError(types.ErrCodeExternalError, "failed to delete preferences", err)
	}
	return nil
}

func (r *Repository) decode(userID string, av map[string]ddbtypes.AttributeValue) (*types.PreferencesRecord, error) {
	var it item
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to decode preferences item", err)
	}

	raw, err := json.Marshal(it.Preferences)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to decode preferences item", err)
	}
	prefs, err := types.MergeDefaults(raw)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "stored preferences are malformed", err)
	}

	return &types.PreferencesRecord{
		UserID:      userID,
		Preferences: prefs,
		Version:     it.Version,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}, nil
}

// toDocument converts prefs to a map keyed by the JSON field names so the
// stored attribute names match the API shape.
func toDocument(prefs types.Preferences) (map[string]interface{}, error) {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to convert preferences: %w", err)
	}
	return doc, nil
}
