package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	coreCmd := &cobra.Command{
		Use:   "core",
		Short: "Inspect core memory",
	}
	coreCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the user's core memory and context usage",
		Args:  cobra.NoArgs,
		RunE:  runCoreShow,
	})
	RootCmd.AddCommand(coreCmd)
}

func runCoreShow(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Sessions().Get(cmd.Context(), userID)
	if err != nil {
		return err
	}
	return writeCore(cmd.OutOrStdout(), s)
}
