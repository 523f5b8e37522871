package encounters

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	ttypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/awsclient"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// JobRequest describes a transcription job for an uploaded recording
type JobRequest struct {
	JobName               string
	MediaURI              string
	NoteTemplate          types.NoteTemplate
	MaxSpeakers           int
	ShowSpeakerLabels     bool
	ChannelIdentification bool
}

// errNoSpeakerPartitioning rejects jobs that would neither label speakers
// nor split channels
var errNoSpeakerPartitioning = types.NewValidationError(types.ErrCodeValidationFailed,
	"enable speaker labels or channel identification to transcribe an encounter", nil)

// Transcriber starts and polls medical scribe jobs
type Transcriber struct {
	client       awsclient.TranscribeAPI
	roleARN      string
	outputBucket string
	logger       *logger.Logger
}

// NewTranscriber creates a transcriber writing job output to outputBucket
// under the data access role roleARN
func NewTranscriber(client awsclient.TranscribeAPI, roleARN, outputBucket string, log *logger.Logger) *Transcriber {
	return &Transcriber{
		client:       client,
		roleARN:      roleARN,
		outputBucket: outputBucket,
		logger:       log,
	}
}

// Start submits the job and returns its initial status
func (t *Transcriber) Start(ctx context.Context, req JobRequest) (*types.JobStatus, error) {
	if !req.ShowSpeakerLabels && !req.ChannelIdentification {
		return nil, errNoSpeakerPartitioning
	}
	out, err := t.client.StartMedicalScribeJob(ctx, &transcribe.StartMedicalScribeJobInput{
		MedicalScribeJobName: aws.String(req.JobName),
		Media:                &ttypes.Media{MediaFileUri: aws.String(req.MediaURI)},
		OutputBucketName:     aws.String(t.outputBucket),
		DataAccessRoleArn:    aws.String(t.roleARN),
		Settings:             jobSettings(req),
		ChannelDefinitions:   channelDefinitions(req),
	})
	if err != nil {
		return nil, types.NewExternalError(types.ErrCodeTranscriptionFailed, "failed to start transcription job", err)
	}

	t.logger.WithComponent("encounters").WithField("job_name", req.JobName).
		WithField("note_template", req.NoteTemplate).Info("Transcription job started")

	if out.MedicalScribeJob == nil {
		return &types.JobStatus{JobName: req.JobName, Status: types.EncounterProcessing}, nil
	}
	return jobStatus(out.MedicalScribeJob), nil
}

// Status returns the current vendor status of jobName
func (t *Transcriber) Status(ctx context.Context, jobName string) (*types.JobStatus, error) {
	out, err := t.client.GetMedicalScribeJob(ctx, &transcribe.GetMedicalScribeJobInput{
		MedicalScribeJobName: aws.String(jobName),
	})
	if err != nil {
		return nil, types.NewExternalError(types.ErrCodeExternalError, "failed to read transcription job", err)
	}
	if out.MedicalScribeJob == nil {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "transcription job not found")
	}
	return jobStatus(out.MedicalScribeJob), nil
}

// jobSettings selects channel identification when requested, speaker
// labelling otherwise. The service accepts exactly one of the two.
func jobSettings(req JobRequest) *ttypes.MedicalScribeSettings {
	settings := &ttypes.MedicalScribeSettings{
		ClinicalNoteGenerationSettings: &ttypes.ClinicalNoteGenerationSettings{
			NoteTemplate: ttypes.MedicalScribeNoteTemplate(req.NoteTemplate),
		},
	}

	if req.ChannelIdentification {
		settings.ChannelIdentification = aws.Bool(true)
		return settings
	}

	speakers := req.MaxSpeakers
	if speakers < types.MinSpeakers {
		speakers = types.MinSpeakers
	}
	if speakers > types.MaxSpeakers {
		speakers = types.MaxSpeakers
	}
	settings.ShowSpeakerLabels = aws.Bool(true)
	settings.MaxSpeakerLabels = aws.Int32(int32(speakers))
	return settings
}

func channelDefinitions(req JobRequest) []ttypes.MedicalScribeChannelDefinition {
	if !req.ChannelIdentification {
		return nil
	}
	return []ttypes.MedicalScribeChannelDefinition{
		{ChannelId: 0, ParticipantRole: ttypes.MedicalScribeParticipantRoleClinician},
		{ChannelId: 1, ParticipantRole: ttypes.MedicalScribeParticipantRolePatient},
	}
}

func jobStatus(job *ttypes.MedicalScribeJob) *types.JobStatus {
	status := &types.JobStatus{
		JobName:       aws.ToString(job.MedicalScribeJobName),
		Status:        types.StatusFromJob(string(job.MedicalScribeJobStatus)),
		FailureReason: aws.ToString(job.FailureReason),
	}
	if job.MedicalScribeOutput != nil {
		status.TranscriptURI = aws.ToString(job.MedicalScribeOutput.TranscriptFileUri)
		status.ClinicalNotesURI = aws.ToString(job.MedicalScribeOutput.ClinicalDocumentUri)
	}
	return status
}
