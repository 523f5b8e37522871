// Package awsclient holds the narrow AWS SDK interfaces the repositories and
// services depend on, and builds the real clients from configuration.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/config"
)

// DynamoDBAPI defines the DynamoDB operations used by the repositories
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Uploader defines the object upload operation used for encounter audio
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// TranscribeAPI defines the medical scribe job operations
type TranscribeAPI interface {
	StartMedicalScribeJob(ctx context.Context, params *transcribe.StartMedicalScribeJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartMedicalScribeJobOutput, error)
	GetMedicalScribeJob(ctx context.Context, params *transcribe.GetMedicalScribeJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetMedicalScribeJobOutput, error)
}

// Compile-time checks that the SDK clients satisfy the interfaces
var (
	_ DynamoDBAPI   = (*dynamodb.Client)(nil)
	_ Uploader      = (*manager.Uploader)(nil)
	_ TranscribeAPI = (*transcribe.Client)(nil)
)

// Clients bundles the AWS clients used by the API service
type Clients struct {
	DynamoDB   DynamoDBAPI
	Uploader   Uploader
	Transcribe TranscribeAPI
}

// New loads the default credential chain for the configured region and
// builds the service clients. Endpoint, when set, points every client at a
// local emulator.
func New(ctx context.Context, cfg config.AWSConfig) (*Clients, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	ddb := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	ts := transcribe.NewFromConfig(awsCfg, func(o *transcribe.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Clients{
		DynamoDB:   ddb,
		Uploader:   manager.NewUploader(s3Client),
		Transcribe: ts,
	}, nil
}
