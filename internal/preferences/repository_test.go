package preferences

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/awsclient/mocks"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/monitoring"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

func newTestRepository(client *mocks.DynamoDB) *Repository {
	log := logger.Discard()
	mm := monitoring.NewMonitoringMiddleware(monitoring.NewMetricsCollector("test"), monitoring.NewTracingManager("test", "test"), log)
	repo := NewRepository(client, "preferences", mm, log)
	repo.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return repo
}

func s(v string) ddbtypes.AttributeValue { return &ddbtypes.AttributeValueMemberS{Value: v} }
func n(v string) ddbtypes.AttributeValue { return &ddbtypes.AttributeValueMemberN{Value: v} }

func TestRepository_Get_MergesAndMigrates(t *testing.T) {
	client := new(mocks.DynamoDB)
	repo := newTestRepository(client)

	client.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		pk := in.Key["pk"].(*ddbtypes.AttributeValueMemberS).Value
		sk := in.Key["sk"].(*ddbtypes.AttributeValueMemberS).Value
		return aws.ToString(in.TableName) == "preferences" && pk == "USER#provider-1" && sk == "PREFERENCES"
	})).Return(&dynamodb.GetItemOutput{Item: map[string]ddbtypes.AttributeValue{
		"pk": s("USER#provider-1"),
		"sk": s("PREFERENCES"),
		"preferences": &ddbtypes.AttributeValueMemberM{Value: map[string]ddbtypes.AttributeValue{
			"providerName":     s("Dr. Jane"),
			"enabledTemplates": &ddbtypes.AttributeValueMemberL{Value: []ddbtypes.AttributeValue{s("SOAP"), s("DAP")}},
			"defaultTemplate":  s("SOAP"),
		}},
		"version":   n("4"),
		"createdAt": s("2026-01-01T00:00:00Z"),
		"updatedAt": s("2026-01-01T10:00:00Z"),
	}}, nil)

	record, err := repo.Get(context.Background(), "provider-1")
	require.NoError(t, err)

	assert.Equal(t, "Dr. Jane", record.Preferences.ProviderName)
	assert.Equal(t, []types.NoteTemplate{types.TemplatePhysicalSOAP, types.TemplateDAP}, record.Preferences.EnabledTemplates)
	assert.Equal(t, types.TemplatePhysicalSOAP, record.Preferences.DefaultTemplate)
	assert.Equal(t, "en-US", record.Preferences.Language)
	assert.Equal(t, 4, record.Version)
	client.AssertExpectations(t)
}

func TestRepository_Get_NotFound(t *testing.T) {
	client := new(mocks.DynamoDB)
	repo := newTestRepository(client)

	client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := repo.Get(context.Background(), "provider-1")
	assert.True(t, types.IsNotFound(err))
}

func TestRepository_Get_StoreError(t *testing.T) {
	client := new(mocks.DynamoDB)
	repo := newTestRepository(client)

	client.On("GetItem", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	_, err := repo.Get(context.Background(), "provider-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrorTypeExternal, types.ErrorTypeOf(err))
}

func TestRepository_Put_BumpsVersion(t *testing.T) {
	client := new(mocks.DynamoDB)
	repo := newTestRepository(client)

	var captured *dynamodb.UpdateItemInput
	client.On("UpdateItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*dynamodb.UpdateItemInput)
	}).Return(&dynamodb.UpdateItemOutput{Attributes: map[string]ddbtypes.AttributeValue{
		"preferences": &ddbtypes.AttributeValueMemberM{Value: map[string]ddbtypes.AttributeValue{
			"enabledTemplates": &ddbtypes.AttributeValueMemberL{Value: []ddbtypes.AttributeValue{s("GIRPP")}},
			"defaultTemplate":  s("GIRPP"),
		}},
		"version":   n("1"),
		"createdAt": s("2026-01-02T03:04:05Z"),
		"updatedAt": s("2026-01-02T03:04:05Z"),
	}}, nil)

	prefs := types.DefaultPreferences()
	prefs.EnabledTemplates = []types.NoteTemplate{types.TemplateGIRPP}
	prefs.DefaultTemplate = types.TemplateGIRPP

	record, err := repo.Put(context.Background(), "provider-1", prefs, nil)
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Contains(t, aws.ToString(captured.UpdateExpression), "ADD")
	assert.Contains(t, aws.ToString(captured.UpdateExpression), "if_not_exists")
	assert.Nil(t, captured.ConditionExpression)
	assert.Equal(t, ddbtypes.ReturnValueAllNew, captured.ReturnValues)
	assert.Equal(t, 1, record.Version)
	assert.Equal(t, []types.NoteTemplate{types.TemplateGIRPP}, record.Preferences.EnabledTemplates)
}

func TestRepository_Put_VersionMismatch(t *testing.T) {
	client := new(mocks.DynamoDB)
	repo := newTestRepository(client)

	client.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return in.ConditionExpression != nil
	})).Return(nil, &ddbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")})

	expected := 3
	_, err := repo.Put(context.Background(), "provider-1", types.DefaultPreferences(), &expected)

	require.Error(t, err)
	assert.True(t, types.IsConflict(err))
	client.AssertExpectations(t)
}

func TestRepository_Delete(t *testing.T) {
	client := new(mocks.DynamoDB)
	repo := newTestRepository(client)

	client.On("DeleteItem", mock.Anything, mock.Anything).Return(&dynamodb.DeleteItemOutput{}, nil)

	require.NoError(t, repo.Delete(context.Background(), "provider-1"))
	client.AssertExpectations(t)
}
