package types

import (
	"encoding/json"
	"fmt"
	"slices"
)

// NoteTemplate identifies a clinical note format generated for an encounter
type NoteTemplate string

const (
	TemplateHistoryAndPhysical NoteTemplate = "HISTORY_AND_PHYSICAL"
	TemplateGIRPP              NoteTemplate = "GIRPP"
	TemplateBIRP               NoteTemplate = "BIRP"
	TemplateSIRP               NoteTemplate = "SIRP"
	TemplateDAP                NoteTemplate = "DAP"
	TemplateBehavioralSOAP     NoteTemplate = "BEHAVIORAL_SOAP"
	TemplatePhysicalSOAP       NoteTemplate = "PHYSICAL_SOAP"
)

// KnownTemplates lists every template the transcription service accepts, in
// display order.
var KnownTemplates = []NoteTemplate{
	TemplateHistoryAndPhysical,
	TemplateGIRPP,
	TemplateBIRP,
	TemplateSIRP,
	TemplateDAP,
	TemplateBehavioralSOAP,
	TemplatePhysicalSOAP,
}

// legacyTemplates maps members that were renamed to their current names.
var legacyTemplates = map[NoteTemplate]NoteTemplate{
	"SOAP":       TemplatePhysicalSOAP,
	"BEHAVIORAL": TemplateBehavioralSOAP,
}

// IsKnown reports whether t is a current template name
func (t NoteTemplate) IsKnown() bool {
	return slices.Contains(KnownTemplates, t)
}

// IsLegacyTemplate reports whether t is a renamed member
func IsLegacyTemplate(t NoteTemplate) bool {
	_, ok := legacyTemplates[t]
	return ok
}

const (
	MinSpeakers = 2
	MaxSpeakers = 10
)

// Preferences is the per-provider settings record
type Preferences struct {
	ProviderName          string         `json:"providerName"`
	Specialty             string         `json:"specialty"`
	EnabledTemplates      []NoteTemplate `json:"enabledTemplates"`
	DefaultTemplate       NoteTemplate   `json:"defaultTemplate"`
	ShowSpeakerLabels     bool           `json:"showSpeakerLabels"`
	MaxSpeakers           int            `json:"maxSpeakers"`
	ChannelIdentification bool           `json:"channelIdentification"`
	AutoCreatePatients    bool           `json:"autoCreatePatients"`
	InsightsEnabled       bool           `json:"insightsEnabled"`
	ConfidenceThreshold   float64        `json:"confidenceThreshold"`
	Language              string         `json:"language"`
}

// PreferencesRecord is a stored settings record with its bookkeeping fields
type PreferencesRecord struct {
	UserID      string      `json:"userId"`
	Preferences Preferences `json:"preferences"`
	Version     int         `json:"version"`
	CreatedAt   string      `json:"createdAt"`
	UpdatedAt   string      `json:"updatedAt"`
}

// DefaultPreferences returns the fully-populated default record
func DefaultPreferences() Preferences {
	return Preferences{
		ProviderName: "",
		Specialty:    "PRIMARYCARE",
		EnabledTemplates: []NoteTemplate{
			TemplateHistoryAndPhysical,
			TemplatePhysicalSOAP,
			TemplateGIRPP,
		},
		DefaultTemplate:       TemplateHistoryAndPhysical,
		ShowSpeakerLabels:     true,
		MaxSpeakers:           2,
		ChannelIdentification: false,
		AutoCreatePatients:    true,
		InsightsEnabled:       true,
		ConfidenceThreshold:   0.75,
		Language:              "en-US",
	}
}

// MergeDefaults decodes raw over the default record. Fields present in raw
// win; absent fields keep their defaults. The result is migrated.
func MergeDefaults(raw []byte) (Preferences, error) {
	prefs := DefaultPreferences()
	if len(raw) == 0 || string(raw) == "null" {
		return prefs, nil
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return DefaultPreferences(), fmt.Errorf("failed to decode preferences: %w", err)
	}
	return Migrate(prefs), nil
}

// Migrate rewrites renamed template members and repairs fields that would
// fail Validate. It never returns a legacy member.
func Migrate(p Preferences) Preferences {
	defaults := DefaultPreferences()

	enabled := make([]NoteTemplate, 0, len(p.EnabledTemplates))
	for _, t := range p.EnabledTemplates {
		if renamed, ok := legacyTemplates[t]; ok {
			t = renamed
		}
		if !t.IsKnown() || slices.Contains(enabled, t) {
			continue
		}
		enabled = append(enabled, t)
	}
	if len(enabled) == 0 {
		enabled = defaults.EnabledTemplates
	}
	p.EnabledTemplates = enabled

	if renamed, ok := legacyTemplates[p.DefaultTemplate]; ok {
		p.DefaultTemplate = renamed
	}
	if !slices.Contains(p.EnabledTemplates, p.DefaultTemplate) {
		p.DefaultTemplate = p.EnabledTemplates[0]
	}

	if p.MaxSpeakers < MinSpeakers || p.MaxSpeakers > MaxSpeakers {
		p.MaxSpeakers = defaults.MaxSpeakers
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		p.ConfidenceThreshold = defaults.ConfidenceThreshold
	}
	if p.Language == "" {
		p.Language = defaults.Language
	}
	if p.Specialty == "" {
		p.Specialty = defaults.Specialty
	}
	return p
}

// Normalize renames legacy template members and collapses duplicates.
// Unlike Migrate it repairs nothing, so Validate still sees what the
// caller asked for.
func (p Preferences) Normalize() Preferences {
	enabled := make([]NoteTemplate, 0, len(p.EnabledTemplates))
	for _, t := range p.EnabledTemplates {
		if renamed, ok := legacyTemplates[t]; ok {
			t = renamed
		}
		if !slices.Contains(enabled, t) {
			enabled = append(enabled, t)
		}
	}
	p.EnabledTemplates = enabled
	if renamed, ok := legacyTemplates[p.DefaultTemplate]; ok {
		p.DefaultTemplate = renamed
	}
	return p
}

// Validate checks the record before it is persisted
func (p Preferences) Validate() error {
	if len(p.EnabledTemplates) == 0 {
		return NewValidationError(ErrCodeLastTemplate, "at least one note template must remain enabled", nil)
	}
	for _, t := range p.EnabledTemplates {
		if !t.IsKnown() {
			return NewValidationError(ErrCodeValidationFailed, fmt.Sprintf("unknown note template %q", t),
				map[string]interface{}{"template": string(t)})
		}
	}
	if !slices.Contains(p.EnabledTemplates, p.DefaultTemplate) {
		return NewValidationError(ErrCodeValidationFailed, "default template must be enabled",
			map[string]interface{}{"defaultTemplate": string(p.DefaultTemplate)})
	}
	if p.MaxSpeakers < MinSpeakers || p.MaxSpeakers > MaxSpeakers {
		return NewValidationError(ErrCodeValidationFailed,
			fmt.Sprintf("maxSpeakers must be between %d and %d", MinSpeakers, MaxSpeakers), nil)
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return NewValidationError(ErrCodeValidationFailed, "confidenceThreshold must be between 0 and 1", nil)
	}
	return nil
}

// DisableTemplate returns a copy of p without t. Legacy names are mapped to
// their current template. Unknown templates and removing the last enabled
// template are rejected and p is left as it was.
func (p Preferences) DisableTemplate(t NoteTemplate) (Preferences, error) {
	t, err := currentTemplate(t)
	if err != nil {
		return p, err
	}
	if !slices.Contains(p.EnabledTemplates, t) {
		return p, nil
	}
	if len(p.EnabledTemplates) == 1 {
		return p, NewValidationError(ErrCodeLastTemplate, "cannot disable the last enabled note template",
			map[string]interface{}{"template": string(t)})
	}

	out := p
	out.EnabledTemplates = make([]NoteTemplate, 0, len(p.EnabledTemplates)-1)
	for _, e := range p.EnabledTemplates {
		if e != t {
			out.EnabledTemplates = append(out.EnabledTemplates, e)
		}
	}
	if out.DefaultTemplate == t {
		out.DefaultTemplate = out.EnabledTemplates[0]
	}
	return out, nil
}

// EnableTemplate returns a copy of p with t enabled
func (p Preferences) EnableTemplate(t NoteTemplate) (Preferences, error) {
	t, err := currentTemplate(t)
	if err != nil {
		return p, err
	}
	if slices.Contains(p.EnabledTemplates, t) {
		return p, nil
	}
	out := p
	out.EnabledTemplates = append(slices.Clone(p.EnabledTemplates), t)
	return out, nil
}

// currentTemplate maps a legacy name to its current template and rejects
// names that are neither
func currentTemplate(t NoteTemplate) (NoteTemplate, error) {
	if renamed, ok := legacyTemplates[t]; ok {
		t = renamed
	}
	if !t.IsKnown() {
		return t, NewValidationError(ErrCodeInvalidInput, fmt.Sprintf("unknown note template %q", t), nil)
	}
	return t, nil
}
