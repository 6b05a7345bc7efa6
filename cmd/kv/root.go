package kv

import (
	"github.com/polystore/polystore/cmd/util"
	"github.com/polystore/polystore/lib/storage/dispatcher"
	"github.com/spf13/cobra"
)

var (
	store dispatcher.IStorage

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform record operations against a storage backend",
		PersistentPreRunE:  setupStorage,
		PersistentPostRunE: teardownStorage,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add the backend selection flags to the KV command
	util.SetupAdapterFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(createCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(findCmd)
	KeyValueCommands.AddCommand(updateCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(watchCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupStorage binds the flags and creates the configured storage target
func setupStorage(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	store, err = util.GetStorage()
	return err
}

// teardownStorage disposes the storage target after the command ran
func teardownStorage(_ *cobra.Command, _ []string) error {
	if store == nil {
		return nil
	}
	return store.Close()
}
