package main

import (
	"fmt"
	"path/filepath"

	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var dir string
	var root string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Report a synthesis model's generation, sample rate and prompts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if root == "" {
				root = activeCfg.TTS.ModelRoot
			}
			if dir == "" {
				dir = activeCfg.TTS.Model
			}
			resolved, err := tts.DirResolver{Root: root}.Resolve(dir)
			if err != nil {
				return err
			}
			info, err := tts.DetectModel(resolved)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dir:         %s\n", info.Dir)
			fmt.Fprintf(out, "generation:  %s\n", info.Generation)
			if info.Marker != "" {
				fmt.Fprintf(out, "marker:      %s\n", filepath.Base(info.Marker))
			}
			fmt.Fprintf(out, "sample_rate: %d\n", info.SampleRate)
			if len(info.Prompts) == 0 {
				fmt.Fprintln(out, "prompts:     none")
			}
			for _, p := range info.Prompts {
				fmt.Fprintf(out, "prompt:      %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Model directory or id (default tts.model)")
	cmd.Flags().StringVar(&root, "root", "", "Model root (default tts.model_root)")
	return cmd
}
