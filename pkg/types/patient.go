package types

import "strings"

// Patient is a patient record owned by exactly one provider
type Patient struct {
	PatientID           string `json:"patientId" dynamodbav:"patientId"`
	ProviderID          string `json:"providerId" dynamodbav:"providerId"`
	PatientName         string `json:"patientName" dynamodbav:"patientName"`
	DateOfBirth         string `json:"dateOfBirth,omitempty" dynamodbav:"dateOfBirth,omitempty"`
	MedicalRecordNumber string `json:"medicalRecordNumber,omitempty" dynamodbav:"medicalRecordNumber,omitempty"`
	Email               string `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Phone               string `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	IsActive            bool   `json:"isActive" dynamodbav:"isActive"`
	CreatedAt           string `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt           string `json:"updatedAt" dynamodbav:"updatedAt"`
	LastEncounterDate   string `json:"lastEncounterDate,omitempty" dynamodbav:"lastEncounterDate,omitempty"`
	EncounterCount      int    `json:"encounterCount" dynamodbav:"encounterCount"`
}

// Summary returns the projection used by autosuggest
func (p *Patient) Summary() PatientSummary {
	return PatientSummary{
		PatientID:           p.PatientID,
		PatientName:         p.PatientName,
		DateOfBirth:         p.DateOfBirth,
		MedicalRecordNumber: p.MedicalRecordNumber,
		LastEncounterDate:   p.LastEncounterDate,
		EncounterCount:      p.EncounterCount,
	}
}

// Matches reports whether term is a case-insensitive substring of the
// name, MRN or email. An empty term matches every record.
func (p *Patient) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	for _, field := range []string{p.PatientName, p.MedicalRecordNumber, p.Email} {
		if field != "" && strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// PatientSummary is the minimal projection returned by search
type PatientSummary struct {
	PatientID           string `json:"patientId"`
	PatientName         string `json:"patientName"`
	DateOfBirth         string `json:"dateOfBirth,omitempty"`
	MedicalRecordNumber string `json:"medicalRecordNumber,omitempty"`
	LastEncounterDate   string `json:"lastEncounterDate,omitempty"`
	EncounterCount      int    `json:"encounterCount"`
}

// PatientFields are the caller-supplied fields of a new patient
type PatientFields struct {
	PatientName         string `json:"patientName"`
	DateOfBirth         string `json:"dateOfBirth,omitempty"`
	MedicalRecordNumber string `json:"medicalRecordNumber,omitempty"`
	Email               string `json:"email,omitempty"`
	Phone               string `json:"phone,omitempty"`
}

// PatientUpdates is a field-level partial update; nil fields are untouched
type PatientUpdates struct {
	PatientName         *string `json:"patientName,omitempty"`
	DateOfBirth         *string `json:"dateOfBirth,omitempty"`
	MedicalRecordNumber *string `json:"medicalRecordNumber,omitempty"`
	Email               *string `json:"email,omitempty"`
	Phone               *string `json:"phone,omitempty"`
}

// IsEmpty reports whether no field is set
func (u *PatientUpdates) IsEmpty() bool {
	return u == nil || (u.PatientName == nil && u.DateOfBirth == nil &&
		u.MedicalRecordNumber == nil && u.Email == nil && u.Phone == nil)
}
