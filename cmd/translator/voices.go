package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/backend"
)

var voicesLanguage string

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List the synthesis voices offered by the backend",
	Args:  cobra.NoArgs,
	RunE:  runVoices,
}

func init() {
	voicesCmd.Flags().StringVar(&voicesLanguage, "language", "", "Only list voices for this language")
}

func runVoices(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	jar, err := backend.NewCookieJar()
	if err != nil {
		return err
	}
	client := newBackendClient(cfg, jar, log)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Backend.RequestTimeout())
	defer cancel()

	voices, err := client.Voices(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LANGUAGE\tVOICE\tGENDER")
	for _, v := range voices {
		if voicesLanguage != "" && v.Language != voicesLanguage {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.Language, v.VoiceName, v.Gender)
	}
	return w.Flush()
}
