package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openvoicepacks/ovp/internal/provider"
)

var voicesCmd = &cobra.Command{
	Use:   "voices [provider]",
	Short: "List the voices a provider offers",
	Long: paragraph(
		fmt.Sprintf("\nQuery a synthesis provider's %s. Without an argument, lists the available providers instead.", keyword("voice catalog")),
	),
	Example: paragraph("ovp voices\novp voices piper\novp voices polly"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			for _, id := range provider.IDs() {
				fmt.Println(id)
			}
			return nil
		}

		p, err := newProvider(args[0])
		if err != nil {
			return err
		}
		voices, err := p.ListVoices(cmd.Context())
		if err != nil {
			return fmt.Errorf("unable to list voices for %q: %w", args[0], err)
		}
		sort.Slice(voices, func(i, j int) bool { return voices[i].Voice < voices[j].Voice })

		for _, v := range voices {
			line := keyword(v.Voice)
			if v.Language != "" {
				line += subtle("  " + v.Language)
			}
			if engines := v.Option("engines", ""); engines != "" {
				line += subtle("  " + engines)
			}
			fmt.Println(paragraph(line))
		}
		return nil
	},
}
