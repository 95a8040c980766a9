package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newBootstrapCmd(opts *globalOptions) *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Install a language server's runtime dependencies",
		Long: `Install a language server's runtime dependencies into its directory
under install_root. Nothing runs when the directory already exists; remove
it to force a reinstall.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := opts.newAdapter(language, "")
			if err != nil {
				return err
			}
			defer a.Close()

			launch, err := a.Bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s installed in %s\nlaunch: %s\n",
				a.Name(), a.InstallDir(), strings.Join(launch, " "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "adapter to install (see 'lspadapter languages')")
	_ = cmd.MarkFlagRequired("language")
	return cmd
}
