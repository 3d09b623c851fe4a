package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/emitter"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/spf13/cobra"
)

func newSynthCmd() *cobra.Command {
	var text string
	var voice string
	var prompt string
	var out string

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text through the configured backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if text == "" {
				return errors.New("--text is required")
			}
			adapter, _ := tts.Build(activeCfg.TTS, tts.Deps{Loader: audio.WAVLoader{}}, newLogger(activeCfg))
			rec := emitter.NewRecorder()
			stream := emitter.NewStream(rec)
			res, synthErr := adapter.Synthesize(cmd.Context(), tts.Request{Text: text, Voice: voice, PromptPath: prompt}, stream)
			if res.Pushes == 0 {
				if synthErr != nil {
					return synthErr
				}
				return errors.New("no audio produced")
			}

			// PCM is wrapped as WAV; encoded streams are written as received.
			info := stream.Info()
			var err error
			if info.MimeType == audio.MimePCM {
				err = audio.WriteWAVFile(out, rec.Bytes(), info.SampleRate, info.Channels)
			} else {
				err = os.WriteFile(out, rec.Bytes(), 0o644)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s outcome=%s pushes=%d bytes=%d -> %s\n",
				res.RequestID, info.MimeType, res.Outcome, res.Pushes, res.Bytes, out)
			return synthErr
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Text to speak")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice override")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Reference prompt override")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output file")
	return cmd
}
