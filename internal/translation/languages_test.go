package translation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupLanguage(t *testing.T) {
	opt, ok := LookupLanguage("pt-BR")
	assert.True(t, ok)
	assert.Equal(t, "Português (Brasil)", opt.Name)

	_, ok = LookupLanguage("xx-XX")
	assert.False(t, ok)
}

func TestLanguagesReturnsCopy(t *testing.T) {
	list := Languages()
	list[0].VoiceNames[0] = "changed"
	list[0].Code = "changed"

	assert.Equal(t, "pt-BR", Languages()[0].Code)
	assert.Equal(t, "pt-BR-AntonioNeural", DefaultVoice("pt-BR"))
	assert.Equal(t, "", DefaultVoice("xx-XX"))
}
