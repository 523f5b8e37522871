// Package mocks provides testify mocks of the awsclient interfaces
package mocks

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/stretchr/testify/mock"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/awsclient"
)

var (
	_ awsclient.DynamoDBAPI   = (*DynamoDB)(nil)
	_ awsclient.Uploader      = (*Uploader)(nil)
	_ awsclient.TranscribeAPI = (*Transcribe)(nil)
)

// DynamoDB is a mock implementation of awsclient.DynamoDBAPI
type DynamoDB struct {
	mock.Mock
}

func (m *DynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *DynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *DynamoDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func (m *DynamoDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.DeleteItemOutput)
	return out, args.Error(1)
}

func (m *DynamoDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *DynamoDB) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.DescribeTableOutput)
	return out, args.Error(1)
}

// Uploader is a mock implementation of awsclient.Uploader. It drains the
// body before recording the call, like the real uploader.
type Uploader struct {
	mock.Mock
	Body []byte
}

func (m *Uploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if input.Body != nil {
		data, err := io.ReadAll(input.Body)
		if err != nil {
			return nil, err
		}
		m.Body = data
	}
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*manager.UploadOutput)
	return out, args.Error(1)
}

// Transcribe is a mock implementation of awsclient.TranscribeAPI
type Transcribe struct {
	mock.Mock
}

func (m *Transcribe) StartMedicalScribeJob(ctx context.Context, params *transcribe.StartMedicalScribeJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartMedicalScribeJobOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*transcribe.StartMedicalScribeJobOutput)
	return out, args.Error(1)
}

func (m *Transcribe) GetMedicalScribeJob(ctx context.Context, params *transcribe.GetMedicalScribeJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetMedicalScribeJobOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*transcribe.GetMedicalScribeJobOutput)
	return out, args.Error(1)
}
