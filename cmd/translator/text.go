package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/backend"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translation"
)

var (
	textFrom string
	textTo   string
)

var textCmd = &cobra.Command{
	Use:   "text [text to translate]",
	Short: "Translate one text and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runText,
}

func init() {
	textCmd.Flags().StringVar(&textFrom, "from", "", "Source language (defaults to translation.source_language)")
	textCmd.Flags().StringVar(&textTo, "to", "", "Target language (defaults to translation.target_language)")
}

func runText(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	from, to := cfg.Translation.SourceLanguage, cfg.Translation.TargetLanguage
	if textFrom != "" {
		from = textFrom
	}
	if textTo != "" {
		to = textTo
	}
	for _, code := range []string{from, to} {
		if _, ok := translation.LookupLanguage(code); !ok {
			return fmt.Errorf("unsupported language %q", code)
		}
	}

	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return errors.New("text is required")
	}

	jar, err := backend.NewCookieJar()
	if err != nil {
		return err
	}
	translator := newTextTranslator(cfg, newBackendClient(cfg, jar, log), log)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Backend.RequestTimeout())
	defer cancel()

	result, err := translator.TranslateText(ctx, translation.TextRequest{
		Text:         text,
		FromLanguage: from,
		ToLanguage:   to,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.TranslatedText)
	return nil
}
