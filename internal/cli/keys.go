package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harunnryd/k8sai/internal/config"
	"github.com/harunnryd/k8sai/pkg/apikey"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys for the A2A server",
	Long: `Manage the API keys that authenticate A2A clients.
Keys are stored in the key store file; a running server picks up
changes without a restart.`,
}

var keyName string

var keysGenerateCmd = &cobra.Command{
	Use:   "generate --name <name>",
	Short: "Generate a new API key",
	Args:  cobra.NoArgs,
	RunE:  runKeysGenerate,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys (masked)",
	RunE:  runKeysList,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-or-name>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

func init() {
	keysGenerateCmd.Flags().StringVar(&keyName, "name", "", "owner name for the key")
	_ = keysGenerateCmd.MarkFlagRequired("name")
	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRevokeCmd)
	rootCmd.AddCommand(keysCmd)
}

func openKeyStore() (*apikey.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return apikey.New(filepath.Dir(cfg.Auth.KeysFile))
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	store, err := openKeyStore()
	if err != nil {
		return err
	}

	record, err := store.Generate(keyName)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generated key %q:\n\n  %s\n\n", record.Name, record.Key)
	fmt.Fprintln(out, "Store it now; the full key is not shown again.")
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	store, err := openKeyStore()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	keys := store.List()
	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys. Create one with: k8sai keys generate <name>")
		return nil
	}

	for _, key := range keys {
		lastUsed := "never"
		if key.LastUsedAt != nil {
			lastUsed = key.LastUsedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(out, "%-20s %s  created %s  last used %s\n",
			key.Name, key.KeySuffix, key.CreatedAt.Format("2006-01-02"), lastUsed)
	}
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	store, err := openKeyStore()
	if err != nil {
		return err
	}

	if err := store.Revoke(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Revoked key %q\n", args[0])
	return nil
}
