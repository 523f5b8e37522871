package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPreferences_AreValid(t *testing.T) {
	prefs := DefaultPreferences()
	require.NoError(t, prefs.Validate())
	assert.Contains(t, prefs.EnabledTemplates, prefs.DefaultTemplate)

	// Callers own the returned slice
	prefs.EnabledTemplates[0] = TemplateDAP
	assert.Equal(t, TemplateHistoryAndPhysical, DefaultPreferences().EnabledTemplates[0])
}

func TestMergeDefaults(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, p Preferences)
	}{
		{
			name: "empty input",
			raw:  "",
			check: func(t *testing.T, p Preferences) {
				assert.Equal(t, DefaultPreferences(), p)
			},
		},
		{
			name: "null",
			raw:  "null",
			check: func(t *testing.T, p Preferences) {
				assert.Equal(t, DefaultPreferences(), p)
			},
		},
		{
			name: "partial record keeps defaults",
			raw:  `{"providerName":"Dr. A","insightsEnabled":false}`,
			check: func(t *testing.T, p Preferences) {
				assert.Equal(t, "Dr. A", p.ProviderName)
				assert.False(t, p.InsightsEnabled)
				assert.Equal(t, DefaultPreferences().EnabledTemplates, p.EnabledTemplates)
				assert.Equal(t, "en-US", p.Language)
			},
		},
		{
			name: "legacy members renamed",
			raw:  `{"enabledTemplates":["SOAP","BEHAVIORAL"],"defaultTemplate":"BEHAVIORAL"}`,
			check: func(t *testing.T, p Preferences) {
				assert.Equal(t, []NoteTemplate{TemplatePhysicalSOAP, TemplateBehavioralSOAP}, p.EnabledTemplates)
				assert.Equal(t, TemplateBehavioralSOAP, p.DefaultTemplate)
			},
		},
		{
			name: "explicit empty list repaired",
			raw:  `{"enabledTemplates":[]}`,
			check: func(t *testing.T, p Preferences) {
				assert.Equal(t, DefaultPreferences().EnabledTemplates, p.EnabledTemplates)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := MergeDefaults([]byte(tt.raw))
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestMergeDefaults_MalformedReturnsDefaults(t *testing.T) {
	p, err := MergeDefaults([]byte(`{"enabledTemplates":`))
	require.Error(t, err)
	assert.Equal(t, DefaultPreferences(), p)
}

func TestMigrate(t *testing.T) {
	in := Preferences{
		EnabledTemplates:    []NoteTemplate{"SOAP", TemplatePhysicalSOAP, "UNKNOWN", TemplateDAP},
		DefaultTemplate:     TemplateSIRP,
		MaxSpeakers:         42,
		ConfidenceThreshold: 1.5,
	}

	out := Migrate(in)

	assert.Equal(t, []NoteTemplate{TemplatePhysicalSOAP, TemplateDAP}, out.EnabledTemplates)
	assert.Equal(t, TemplatePhysicalSOAP, out.DefaultTemplate)
	assert.Equal(t, 2, out.MaxSpeakers)
	assert.Equal(t, 0.75, out.ConfidenceThreshold)
	assert.Equal(t, "en-US", out.Language)
	assert.Equal(t, "PRIMARYCARE", out.Specialty)
	require.NoError(t, out.Validate())

	// Idempotent
	assert.Equal(t, out, Migrate(out))
}

func TestNormalize_DoesNotRepair(t *testing.T) {
	p := Preferences{
		EnabledTemplates: []NoteTemplate{"SOAP", TemplatePhysicalSOAP, "UNKNOWN"},
		DefaultTemplate:  "SOAP",
	}

	out := p.Normalize()

	assert.Equal(t, []NoteTemplate{TemplatePhysicalSOAP, "UNKNOWN"}, out.EnabledTemplates)
	assert.Equal(t, TemplatePhysicalSOAP, out.DefaultTemplate)
	assert.Error(t, out.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Preferences)
		code   string
	}{
		{"no templates", func(p *Preferences) { p.EnabledTemplates = nil }, ErrCodeLastTemplate},
		{"unknown template", func(p *Preferences) { p.EnabledTemplates = append(p.EnabledTemplates, "NOPE") }, ErrCodeValidationFailed},
		{"default not enabled", func(p *Preferences) { p.DefaultTemplate = TemplateDAP }, ErrCodeValidationFailed},
		{"too few speakers", func(p *Preferences) { p.MaxSpeakers = 1 }, ErrCodeValidationFailed},
		{"too many speakers", func(p *Preferences) { p.MaxSpeakers = 11 }, ErrCodeValidationFailed},
		{"threshold out of range", func(p *Preferences) { p.ConfidenceThreshold = -0.1 }, ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPreferences()
			tt.mutate(&p)

			err := p.Validate()
			require.Error(t, err)
			assert.True(t, IsValidation(err))

			var se *ScribeError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.Code)
		})
	}
}

func TestDisableTemplate(t *testing.T) {
	p := DefaultPreferences()

	out, err := p.DisableTemplate(TemplateHistoryAndPhysical)
	require.NoError(t, err)
	assert.Equal(t, []NoteTemplate{TemplatePhysicalSOAP, TemplateGIRPP}, out.EnabledTemplates)
	assert.Equal(t, TemplatePhysicalSOAP, out.DefaultTemplate)
	assert.Len(t, p.EnabledTemplates, 3, "receiver must not change")

	same, err := out.DisableTemplate(TemplateDAP)
	require.NoError(t, err)
	assert.Equal(t, out, same)
}

func TestDisableTemplate_LegacyAndUnknownNames(t *testing.T) {
	p := DefaultPreferences()

	out, err := p.DisableTemplate("SOAP")
	require.NoError(t, err)
	assert.Equal(t, []NoteTemplate{TemplateHistoryAndPhysical, TemplateGIRPP}, out.EnabledTemplates)

	unchanged, err := p.DisableTemplate("NOPE")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, p, unchanged)
}

func TestDisableTemplate_LastTemplate(t *testing.T) {
	p := DefaultPreferences()
	p.EnabledTemplates = []NoteTemplate{TemplateBIRP}
	p.DefaultTemplate = TemplateBIRP

	out, err := p.DisableTemplate(TemplateBIRP)
	require.Error(t, err)
	assert.Equal(t, p, out)

	var se *ScribeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeLastTemplate, se.Code)
}

func TestEnableTemplate(t *testing.T) {
	p := DefaultPreferences()

	out, err := p.EnableTemplate("BEHAVIORAL")
	require.NoError(t, err)
	assert.Equal(t, TemplateBehavioralSOAP, out.EnabledTemplates[len(out.EnabledTemplates)-1])
	assert.Len(t, p.EnabledTemplates, 3)

	again, err := out.EnableTemplate(TemplateBehavioralSOAP)
	require.NoError(t, err)
	assert.Equal(t, out, again)

	_, err = p.EnableTemplate("NOPE")
	assert.True(t, IsValidation(err))
}

func TestIsLegacyTemplate(t *testing.T) {
	assert.True(t, IsLegacyTemplate("SOAP"))
	assert.True(t, IsLegacyTemplate("BEHAVIORAL"))
	assert.False(t, IsLegacyTemplate(TemplatePhysicalSOAP))
	assert.False(t, NoteTemplate("SOAP").IsKnown())
}
