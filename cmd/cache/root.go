package cache

import (
	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore

	// CacheCommands represents the cache command group
	CacheCommands = &cobra.Command{
		Use:   "cache",
		Short: "Perform cache operations",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) (err error) {
			rpcStore, err = util.NewStoreClient(cmd)
			return err
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(CacheCommands)

	CacheCommands.AddCommand(setCmd)
	CacheCommands.AddCommand(addCmd)
	CacheCommands.AddCommand(getCmd)
	CacheCommands.AddCommand(delCmd)
	CacheCommands.AddCommand(hasCmd)
	CacheCommands.AddCommand(searchCmd)
	CacheCommands.AddCommand(clearCmd)
	CacheCommands.AddCommand(infoCmd)
	CacheCommands.AddCommand(perfTestCmd)
}
