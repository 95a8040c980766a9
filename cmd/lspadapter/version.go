package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lspadapter %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the built-in language adapters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := languages()
			for _, name := range reg.Names() {
				def, err := reg.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s  [%s]\n",
					name, strings.Join(def.Launch, " "), strings.Join(def.FilePatterns, " "))
			}
			return nil
		},
	}
}
