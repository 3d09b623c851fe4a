package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/spf13/cobra"
)

func newTranscribeCmd() *cobra.Command {
	var in string
	var language string
	var sampleRate int

	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Recognize a WAV or raw PCM16 file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in == "" {
				return errors.New("--in is required")
			}
			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			adapter := stt.Build(activeCfg.STT, newLogger(activeCfg))
			result := adapter.Recognize(cmd.Context(), audio.RawPCM{Data: data, SampleRate: sampleRate}, language)

			out := cmd.OutOrStdout()
			if result.IsEmpty {
				fmt.Fprintf(out, "(empty) language=%s\n", result.Language)
				return nil
			}
			fmt.Fprintf(out, "%s\nlanguage=%s confidence=%.2f\n", result.Text, result.Language, result.Confidence)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Input file")
	cmd.Flags().StringVar(&language, "language", "", "Language hint (default stt.language)")
	cmd.Flags().IntVar(&sampleRate, "sample-rate", 0, "Sample rate of raw PCM input")
	return cmd
}
