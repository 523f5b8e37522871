package encounters

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	ttypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/awsclient/mocks"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

func TestTranscriber_StartWithSpeakerLabels(t *testing.T) {
	client := new(mocks.Transcribe)
	tr := NewTranscriber(client, "arn:aws:iam::123456789012:role/scribe", "bucket", logger.Discard())

	var captured *transcribe.StartMedicalScribeJobInput
	client.On("StartMedicalScribeJob", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*transcribe.StartMedicalScribeJobInput)
	}).Return(&transcribe.StartMedicalScribeJobOutput{
		MedicalScribeJob: &ttypes.MedicalScribeJob{
			MedicalScribeJobName:   aws.String("job-1"),
			MedicalScribeJobStatus: ttypes.MedicalScribeJobStatusQueued,
		},
	}, nil)

	status, err := tr.Start(context.Background(), JobRequest{
		JobName:      "job-1",
		MediaURI:     "s3://bucket/audio/p/e.wav",
		NoteTemplate:      types.TemplatePhysicalSOAP,
		MaxSpeakers:       40,
		ShowSpeakerLabels: true,
	})
	require.NoError(t, err)
	assert.Equal(t, types.EncounterProcessing, status.Status)

	require.NotNil(t, captured)
	assert.Equal(t, "job-1", aws.ToString(captured.MedicalScribeJobName))
	assert.Equal(t, "s3://bucket/audio/p/e.wav", aws.ToString(captured.Media.MediaFileUri))
	assert.Equal(t, "bucket", aws.ToString(captured.OutputBucketName))
	assert.Equal(t, "arn:aws:iam::123456789012:role/scribe", aws.ToString(captured.DataAccessRoleArn))
	assert.True(t, aws.ToBool(captured.Settings.ShowSpeakerLabels))
	assert.Equal(t, int32(types.MaxSpeakers), aws.ToInt32(captured.Settings.MaxSpeakerLabels))
	assert.Nil(t, captured.Settings.ChannelIdentification)
	assert.Empty(t, captured.ChannelDefinitions)
	assert.Equal(t, ttypes.MedicalScribeNoteTemplate("PHYSICAL_SOAP"), captured.Settings.ClinicalNoteGenerationSettings.NoteTemplate)
}

func TestTranscriber_StartWithChannelIdentification(t *testing.T) {
	client := new(mocks.Transcribe)
	tr := NewTranscriber(client, "role", "bucket", logger.Discard())

	client.On("StartMedicalScribeJob", mock.Anything, mock.MatchedBy(func(in *transcribe.StartMedicalScribeJobInput) bool {
		return aws.ToBool(in.Settings.ChannelIdentification) &&
			in.Settings.ShowSpeakerLabels == nil &&
			len(in.ChannelDefinitions) == 2
	})).Return(&transcribe.StartMedicalScribeJobOutput{}, nil)

	status, err := tr.Start(context.Background(), JobRequest{JobName: "job-2", MediaURI: "s3://b/k", NoteTemplate: types.TemplateDAP, ChannelIdentification: true})
	require.NoError(t, err)
	assert.Equal(t, "job-2", status.JobName)
	client.AssertExpectations(t)
}

func TestTranscriber_StartError(t *testing.T) {
	client := new(mocks.Transcribe)
	tr := NewTranscriber(client, "role", "bucket", logger.Discard())
	client.On("StartMedicalScribeJob", mock.Anything, mock.Anything).Return(nil, errors.New("limit exceeded"))

	_, err := tr.Start(context.Background(), JobRequest{JobName: "job-3"})
	var se *types.ScribeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, types.ErrCodeTranscriptionFailed, se.Code)
}

func TestTranscriber_Status(t *testing.T) {
	client := new(mocks.Transcribe)
	tr := NewTranscriber(client, "role", "bucket", logger.Discard())

	client.On("GetMedicalScribeJob", mock.Anything, mock.Anything).Return(&transcribe.GetMedicalScribeJobOutput{
		MedicalScribeJob: &ttypes.MedicalScribeJob{
			MedicalScribeJobName:   aws.String("job-1"),
			MedicalScribeJobStatus: ttypes.MedicalScribeJobStatusCompleted,
			MedicalScribeOutput: &ttypes.MedicalScribeOutput{
				TranscriptFileUri:   aws.String("s3://bucket/job-1/transcript.json"),
				ClinicalDocumentUri: aws.String("s3://bucket/job-1/summary.json"),
			},
		},
	}, nil)

	status, err := tr.Status(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.EncounterCompleted, status.Status)
	assert.Equal(t, "s3://bucket/job-1/transcript.json", status.TranscriptURI)
	assert.Equal(t, "s3://bucket/job-1/summary.json", status.ClinicalNotesURI)
}

func TestTranscriber_StatusFailed(t *testing.T) {
	client := new(mocks.Transcribe)
	tr := NewTranscriber(client, "role", "bucket", logger.Discard())

	client.On("GetMedicalScribeJob", mock.Anything, mock.Anything).Return(&transcribe.GetMedicalScribeJobOutput{
		MedicalScribeJob: &ttypes.MedicalScribeJob{
			MedicalScribeJobName:   aws.String("job-1"),
			MedicalScribeJobStatus: ttypes.MedicalScribeJobStatusFailed,
			FailureReason:          aws.String("unsupported media"),
		},
	}, nil)

	status, err := tr.Status(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.EncounterFailed, status.Status)
	assert.Equal(t, "unsupported media", status.FailureReason)
}

func TestTranscriber_StartRequiresSpeakerPartitioning(t *testing.T) {
	client := new(mocks.Transcribe)
	tr := NewTranscriber(client, "arn:aws:iam::123456789012:role/scribe", "bucket", logger.Discard())

	_, err := tr.Start(context.Background(), JobRequest{JobName: "job-3", MediaURI: "s3://b/k", NoteTemplate: types.TemplateDAP})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
	client.AssertNotCalled(t, "StartMedicalScribeJob", mock.Anything, mock.Anything)
}
