package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/tessellate/internal/auth"
)

func newInitKeysCommand() *cobra.Command {
	var (
		keysPath string
		project  string
	)

	cmd := &cobra.Command{
		Use:   "init-keys",
		Short: "Generate an API key for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keysPath == "" {
				keysPath = auth.ResolveKeysPath()
			}
			key, err := InitKeysFile(keysPath, project)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nkey for %s: %s\n", keysPath, project, key)
			return nil
		},
	}

	cmd.Flags().StringVar(&keysPath, "keys", "", "path to the API keys file")
	cmd.Flags().StringVar(&project, "project", "", "project the key authorizes (required)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
