package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translation"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

const translatePrompt = `You are a translation engine. Translate the user's message from %s to %s.
Reply with the translation only, without quotes, notes or explanations.`

// OpenAITranslator serves the text path with a chat completion model
type OpenAITranslator struct {
	client openai.Client
	model  string
	logger *logger.Logger
}

// NewOpenAITranslator creates a translator for the given model. Extra options
// (base URL, HTTP client) are passed to the SDK.
func NewOpenAITranslator(apiKey, model string, log *logger.Logger, opts ...option.RequestOption) *OpenAITranslator {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAITranslator{
		client: openai.NewClient(opts...),
		model:  model,
		logger: log.Named("openai-translator"),
	}
}

func languageName(code string) string {
	if lang, ok := translation.LookupLanguage(code); ok {
		return fmt.Sprintf("%s (%s)", lang.Name, lang.Code)
	}
	return code
}

// TranslateText translates one text with a single chat completion
func (t *OpenAITranslator) TranslateText(ctx context.Context, req translation.TextRequest) (translation.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return translation.Result{}, errors.New("text is required")
	}

	completion, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(translatePrompt, languageName(req.FromLanguage), languageName(req.ToLanguage))),
			openai.UserMessage(req.Text),
		},
		Model: openai.ChatModel(t.model),
	})
	if err != nil {
		return translation.Result{}, fmt.Errorf("openai translation failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return translation.Result{}, errors.New("openai returned no choices")
	}

	translated := strings.TrimSpace(completion.Choices[0].Message.Content)
	t.logger.Debug("Text translated",
		logger.String("model", t.model),
		logger.String("from", req.FromLanguage),
		logger.String("to", req.ToLanguage))

	return translation.Result{
		OriginalText:   req.Text,
		TranslatedText: translated,
	}, nil
}
