package cmd

import (
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"
)

var hashPassphraseCmd = &cobra.Command{
	Use:   "hash-passphrase [passphrase]",
	Short: "Generate the argon2id hash for the session reset passphrase",
	Long: `Generate an argon2id hash of a passphrase for use in config.

The output can be used directly as the budget.resetPassphraseHash field,
which gates the reset_session tool.

Example:
  lightning-enable hash-passphrase "open sesame"

Security note: The passphrase will appear in shell history.
Consider using an environment variable instead:
  lightning-enable hash-passphrase "$RESET_PASSPHRASE"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := argon2id.CreateHash(args[0], argon2id.DefaultParams)
		if err != nil {
			return fmt.Errorf("failed to hash passphrase: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPassphraseCmd)
}
