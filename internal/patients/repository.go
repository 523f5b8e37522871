package patients

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

// ErrIDCollision is returned by Put when the patient id is already taken
var ErrIDCollision = errors.New("patient id already exists")

// Repository is the DynamoDB-backed patient store. Every read and write is
// scoped to a provider.
type Repository struct {
	client    awsclient.DynamoDBAPI
	table     string
	nameIndex string
	dateIndex string
	monitor   *monitoring.MonitoringMiddleware
	logger    *logger.Logger
}

// NewRepository creates a patient repository for the configured table
func NewRepository(client awsclient.DynamoDBAPI, tables config.TablesConfig, monitor *monitoring.MonitoringMiddleware, log *logger.Logger) *Repository {
	return &Repository{
		client:    client,
		table:     tables.Patients,
		nameIndex: tables.PatientNameIndex,
		dateIndex: tables.PatientDateIndex,
		monitor:   monitor,
		logger:    log,
	}
}

// QueryActive returns up to limit active patients of providerID ordered
// by name
func (r *Repository) QueryActive(ctx context.Context, providerID string, limit int) ([]types.Patient, error) {
	return r.queryActive(ctx, r.nameIndex, providerID, limit, true)
}

// ListRecent returns up to limit active patients of providerID, most
// recent encounter first
func (r *Repository) ListRecent(ctx context.Context, providerID string, limit int) ([]types.Patient, error) {
	return r.queryActive(ctx, r.dateIndex, providerID, limit, false)
}

func (r *Repository) queryActive(ctx context.Context, index, providerID string, limit int, ascending bool) ([]types.Patient, error) {
	input, err := r.activeQuery(index, expression.Key("providerId").Equal(expression.Value(providerID)))
	if err != nil {
		return nil, err
	}
	input.ScanIndexForward = aws.Bool(ascending)
	input.Limit = aws.Int32(int32(limit))

	patients := make([]types.Patient, 0, limit)
	err = r.pages(ctx, input, func(page []types.Patient) bool {
		patients = append(patients, page...)
		return len(patients) < limit
	})
	if err != nil {
		return nil, err
	}

	if len(patients) > limit {
		patients = patients[:limit]
	}
	return patients, nil
}

// QueryActiveByName returns the active patients of providerID stored under
// exactly name
func (r *Repository) QueryActiveByName(ctx context.Context, providerID, name string) ([]types.Patient, error) {
	input, err := r.activeQuery(r.nameIndex, expression.Key("providerId").Equal(expression.Value(providerID)).
		And(expression.Key("patientName").Equal(expression.Value(name))))
	if err != nil {
		return nil, err
	}

	var patients []types.Patient
	err = r.pages(ctx, input, func(page []types.Patient) bool {
		patients = append(patients, page...)
		return true
	})
	return patients, err
}

// EachActive walks every active patient of providerID in name order until
// fn returns false
func (r *Repository) EachActive(ctx context.Context, providerID string, fn func(types.Patient) bool) error {
	input, err := r.activeQuery(r.nameIndex, expression.Key("providerId").Equal(expression.Value(providerID)))
	if err != nil {
		return err
	}
	input.ScanIndexForward = aws.Bool(true)

	return r.pages(ctx, input, func(page []types.Patient) bool {
		for i := range page {
			if !fn(page[i]) {
				return false
			}
		}
		return true
	})
}

func (r *Repository) activeQuery(index string, key expression.KeyConditionBuilder) (*dynamodb.QueryInput, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(key).
		WithFilter(expression.Name("isActive").Equal(expression.Value(true))).
		Build()
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to build query expression", err)
	}

	return &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

// pages runs input page by page, handing each decoded page to fn until fn
// returns false or the index is exhausted
func (r *Repository) pages(ctx context.Context, input *dynamodb.QueryInput, fn func([]types.Patient) bool) error {
	for {
		var out *dynamodb.QueryOutput
		err := r.monitor.StoreMiddleware("Query", r.table)(ctx, func(ctx context.Context) error {
			var err error
			out, err = r.client.Query(ctx, input)
			return err
		})
		if err != nil {
			return types.NewExternalError(types.ErrCodeExternalError, "failed to query patients", err)
		}

		var page []types.Patient
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return types.NewInternalError(types.ErrCodeInternalError, "failed to decode patients", err)
		}

		if !fn(page) || len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Put stores a new patient. ErrIDCollision is returned when the id exists.
func (r *Repository) Put(ctx context.Context, patient *types.Patient) error {
	item, err := attributevalue.MarshalMap(patient)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to encode patient", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("patientId"))).
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
			return ErrIDCollision
		}
		return types.NewExternalError(types.ErrCodeExternalError, "failed to create patient", err)
	}
	return nil
}

// Get returns the patient when it belongs to providerID. Inactive records
// are returned as stored.
func (r *Repository) Get(ctx context.Context, providerID, patientID string) (*types.Patient, error) {
	var out *dynamodb.GetItemOutput
	err := r.monitor.StoreMiddleware("GetItem", r.table)(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(r.table),
			Key:       patientKey(patientID),
		})
		return err
	})
	if err != nil {
		return nil, types.NewExternalError(types.ErrCodeExternalError, "failed to read patient", err)
	}
	if len(out.Item) == 0 {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "patient not found")
	}

	var patient types.Patient
	if err := attributevalue.UnmarshalMap(out.Item, &patient); err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to decode patient", err)
	}
	if patient.ProviderID != providerID {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "patient not found")
	}
	return &patient, nil
}

// Update applies the non-nil fields of updates to an active patient owned
// by providerID and returns the new record
func (r *Repository) Update(ctx context.Context, providerID, patientID string, updates *types.PatientUpdates, at time.Time) (*types.Patient, error) {
	update := expression.Set(expression.Name("updatedAt"), expression.Value(timestamp(at)))
	for name, value := range map[string]*string{
		"patientName":         updates.PatientName,
		"dateOfBirth":         updates.DateOfBirth,
		"medicalRecordNumber": updates.MedicalRecordNumber,
		"email":               updates.Email,
		"phone":               updates.Phone,
	} {
		if value == nil {
			continue
		}
		if *value == "" && name != "patientName" {
			update = update.Remove(expression.Name(name))
			continue
		}
		update = update.Set(expression.Name(name), expression.Value(*value))
	}

	return r.updateOwned(ctx, "UpdateItem", providerID, patientID, update)
}

// SoftDelete marks an active patient owned by providerID inactive
func (r *Repository) SoftDelete(ctx context.Context, providerID, patientID string, at time.Time) error {
	update := expression.Set(expression.Name("isActive"), expression.Value(false)).
		Set(expression.Name("updatedAt"), expression.Value(timestamp(at)))

	_, err := r.updateOwned(ctx, "SoftDelete", providerID, patientID, update)
	return err
}

// RecordEncounter atomically bumps the encounter count and stamps the
// last encounter date
func (r *Repository) RecordEncounter(ctx context.Context, providerID, patientID string, at time.Time) (*types.Patient, error) {
	ts := timestamp(at)
	update := expression.Add(expression.Name("encounterCount"), expression.Value(1)).
		Set(expression.Name("lastEncounterDate"), expression.Value(ts)).
		Set(expression.Name("updatedAt"), expression.Value(ts))

	return r.updateOwned(ctx, "RecordEncounter", providerID, patientID, update)
}

func (r *Repository) updateOwned(ctx context.Context, operation, providerID, patientID string, update expression.UpdateBuilder) (*types.Patient, error) {
	cond := expression.Name("providerId").Equal(expression.Value(providerID)).
		And(expression.Name("isActive").Equal(expression.Value(true)))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to build update expression", err)
	}

	var out *dynamodb.UpdateItemOutput
	err = r.monitor.StoreMiddleware(operation, r.table)(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(r.table),
			Key:                       patientKey(patientID),
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
			return nil, types.NewConflictError(types.ErrCodeConflict, "patient cannot be modified", err)
		}
		return nil, types.NewExternalError(types.ErrCodeExternalError, "failed to update patient", err)
	}

	var patient types.Patient
	if err := attributevalue.UnmarshalMap(out.Attributes, &patient); err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to decode patient", err)
	}
	return &patient, nil
}

func patientKey(patientID string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"patientId": &ddbtypes.AttributeValueMemberS{Value: patientID},
	}
}

func isConditionFailure(err error) bool {
	var ccf *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
