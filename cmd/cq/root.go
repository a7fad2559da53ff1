package cq

import (
	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore

	// ContinuousQueryCommands represents the continuous query command group
	ContinuousQueryCommands = &cobra.Command{
		Use:   "cq",
		Short: "Register continuous queries and poll their notifications",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) (err error) {
			rpcStore, err = util.NewStoreClient(cmd)
			return err
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(ContinuousQueryCommands)

	ContinuousQueryCommands.AddCommand(registerCmd)
	ContinuousQueryCommands.AddCommand(unregisterCmd)
	ContinuousQueryCommands.AddCommand(disconnectCmd)
	ContinuousQueryCommands.AddCommand(resultsCmd)
	ContinuousQueryCommands.AddCommand(pollCmd)
}
