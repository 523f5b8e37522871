package encounters

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/awsclient"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/config"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/monitoring"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// Repository stores encounter metadata
type Repository struct {
	client      awsclient.DynamoDBAPI
	table       string
	createIndex string
	monitor     *monitoring.MonitoringMiddleware
	logger      *logger.Logger
}

// NewRepository creates an encounter repository for the configured table
func NewRepository(client awsclient.DynamoDBAPI, tables config.TablesConfig, monitor *monitoring.MonitoringMiddleware, log *logger.Logger) *Repository {
	return &Repository{
		client:      client,
		table:       tables.Encounters,
		createIndex: tables.EncounterCreateIndex,
		monitor:     monitor,
		logger:      log,
	}
}

// Put stores a new encounter
func (r *Repository) Put(ctx context.Context, encounter *types.Encounter) error {
	item, err := attributevalue.MarshalMap(encounter)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to encode encounter", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("encounterId"))).
		Build()
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to build condition expression", err)
	}

	err = r.monitor.StoreMiddleware("PutItem", r.table)(ctx, func(ctx context.Context) error {
		_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(r.table),
			Item:                     item,
			ConditionExpression:      expr.Condition(),
			ExpressionAttributeNames: expr.Names(),
		})
		return err
	})
	if err != nil {
		if isConditionFailure(err) {
			return types.NewConflictError(types.ErrCodeConflict, "encounter already exists", err)
		}
		return types.NewExternalError(types.ErrCodeExternalError, "failed to store encounter", err)
	}
	return nil
}

// Get returns the encounter when it belongs to providerID
func (r *Repository) Get(ctx context.Context, providerID, encounterID string) (*types.Encounter, error) {
	var out *dynamodb.GetItemOutput
	err := r.monitor.StoreMiddleware("GetItem", r.table)(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(r.table),
			Key:       encounterKey(encounterID),
		})
		return err
	})
	if err != nil {
		return nil, types.NewExternalError(types.ErrCodeExternalError, "failed to read encounter", err)
	}
	if len(out.Item) == 0 {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "encounter not found")
	}

	var encounter types.Encounter
	if err := attributevalue.UnmarshalMap(out.Item, &encounter); err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to decode encounter", err)
	}
	if encounter.ProviderID != providerID {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "encounter not found")
	}
	return &encounter, nil
}

// ListByProvider returns up to limit encounters of providerID, newest first
func (r *Repository) ListByProvider(ctx context.Context, providerID string, limit int) ([]types.Encounter, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("providerId").Equal(expression.Value(providerID))).
		Build()
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to build query expression", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		IndexName:                 aws.String(r.createIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(limit)),
	}

	var out *dynamodb.QueryOutput
	err = r.monitor.StoreMiddleware("Query", r.table)(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.client.Query(ctx, input)
		return err
	})
	if err != nil {
		return nil, types.NewExternalError(types.ErrCodeExternalError, "failed to query encounters", err)
	}

	encounters := make([]types.Encounter, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &encounters); err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to decode encounters", err)
	}
	return encounters, nil
}

// UpdateStatus mirrors a vendor job status onto an encounter owned by
// providerID
func (r *Repository) UpdateStatus(ctx context.Context, providerID, encounterID string, status *types.JobStatus, at time.Time) (*types.Encounter, error) {
	update := expression.Set(expression.Name("status"), expression.Value(status.Status)).
		Set(expression.Name("updatedAt"), expression.Value(at.UTC().Format(time.RFC3339)))
	for name, value := range map[string]string{
		"transcriptUri":    status.TranscriptURI,
		"clinicalNotesUri": status.ClinicalNotesURI,
		"failureReason":    status.FailureReason,
	} {
		if value != "" {
			update = update.Set(expression.Name(name), expression.Value(value))
		}
	}

	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.Name("providerId").Equal(expression.Value(providerID))).
		Build()
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to build update expression", err)
	}

	var out *dynamodb.UpdateItemOutput
	err = r.monitor.StoreMiddleware("UpdateItem", r.table)(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(r.table),
			Key:                       encounterKey(encounterID),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ReturnValues:              ddbtypes.ReturnValueAllNew,
		})
		return err
	})
	if err != nil {
		if isConditionFailure(err) {
			return nil, types.NewNotFoundError(types.ErrCodeNotFound, "encounter not found")
		}
		return nil, types.NewExternalError(types.ErrCodeExternalError, "failed to update encounter", err)
	}

	var encounter types.Encounter
	if err := attributevalue.UnmarshalMap(out.Attributes, &encounter); err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to decode encounter", err)
	}
	return &encounter, nil
}

func encounterKey(encounterID string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"encounterId": &ddbtypes.AttributeValueMemberS{Value: encounterID},
	}
}

func isConditionFailure(err error) bool {
	var ccf *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
