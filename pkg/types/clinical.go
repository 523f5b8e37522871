package types

// EncounterStatus mirrors the transcription job state of an encounter
type EncounterStatus string

const (
	EncounterRecording  EncounterStatus = "RECORDING"
	EncounterProcessing EncounterStatus = "PROCESSING"
	EncounterCompleted  EncounterStatus = "COMPLETED"
	EncounterFailed     EncounterStatus = "FAILED"
)

// IsTerminal reports whether the vendor job can no longer change state
func (s EncounterStatus) IsTerminal() bool {
	return s == EncounterCompleted || s == EncounterFailed
}

// StatusFromJob maps a vendor job status onto an encounter status
func StatusFromJob(jobStatus string) EncounterStatus {
	switch jobStatus {
	case "QUEUED", "IN_PROGRESS":
		return EncounterProcessing
	case "COMPLETED":
		return EncounterCompleted
	case "FAILED":
		return EncounterFailed
	default:
		return EncounterProcessing
	}
}

// Encounter is the metadata of one recorded or uploaded session
type Encounter struct {
	EncounterID      string          `json:"encounterId" dynamodbav:"encounterId"`
	ProviderID       string          `json:"providerId" dynamodbav:"providerId"`
	PatientID        string          `json:"patientId,omitempty" dynamodbav:"patientId,omitempty"`
	PatientName      string          `json:"patientName" dynamodbav:"patientName"`
	JobName          string          `json:"jobName" dynamodbav:"jobName"`
	NoteTemplate     NoteTemplate    `json:"noteTemplate" dynamodbav:"noteTemplate"`
	Status           EncounterStatus `json:"status" dynamodbav:"status"`
	AudioURI         string          `json:"audioUri" dynamodbav:"audioUri"`
	TranscriptURI    string          `json:"transcriptUri,omitempty" dynamodbav:"transcriptUri,omitempty"`
	ClinicalNotesURI string          `json:"clinicalNotesUri,omitempty" dynamodbav:"clinicalNotesUri,omitempty"`
	FailureReason    string          `json:"failureReason,omitempty" dynamodbav:"failureReason,omitempty"`
	CreatedAt        string          `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt        string          `json:"updatedAt" dynamodbav:"updatedAt"`
}

// JobStatus is the vendor view of a transcription job
type JobStatus struct {
	JobName          string
	Status           EncounterStatus
	TranscriptURI    string
	ClinicalNotesURI string
	FailureReason    string
}
