package translation

// LanguageOption is static reference data for a selectable language
type LanguageOption struct {
	Code       string   `json:"code"`
	Name       string   `json:"name"`
	VoiceNames []string `json:"voiceNames"`
}

var languageOptions = []LanguageOption{
	{
		Code:       "pt-BR",
		Name:       "Português (Brasil)",
		VoiceNames: []string{"pt-BR-AntonioNeural", "pt-BR-FranciscaNeural"},
	},
	{
		Code:       "en-US",
		Name:       "English (United States)",
		VoiceNames: []string{"en-US-JennyNeural", "en-US-GuyNeural"},
	},
}

// Languages returns a copy of the supported language list
func Languages() []LanguageOption {
	out := make([]LanguageOption, len(languageOptions))
	for i, opt := range languageOptions {
		opt.VoiceNames = append([]string(nil), opt.VoiceNames...)
		out[i] = opt
	}
	return out
}

// LookupLanguage finds a language by its BCP-47 code
func LookupLanguage(code string) (LanguageOption, bool) {
	for _, opt := range languageOptions {
		if opt.Code == code {
			opt.VoiceNames = append([]string(nil), opt.VoiceNames...)
			return opt, true
		}
	}
	return LanguageOption{}, false
}

// DefaultVoice returns the first candidate voice for a language, or "" when unknown
func DefaultVoice(code string) string {
	opt, ok := LookupLanguage(code)
	if !ok || len(opt.VoiceNames) == 0 {
		return ""
	}
	return opt.VoiceNames[0]
}
