package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dCache/cmd/cache"
	"github.com/ValentinKolb/dCache/cmd/cq"
	"github.com/ValentinKolb/dCache/cmd/serve"
	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dcache",
		Short: "distributed in-memory object cache with continuous queries",
		Long: fmt.Sprintf(`dCache (v%s)

An in-memory object cache written in Go. Entries carry typed attributes and tags
which are indexed for searching, registered continuous queries notify clients when
entries enter, change within or leave their result sets. Shards can be replicated
with RAFT consensus.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dCache",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dCache v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(cache.CacheCommands)
	RootCmd.AddCommand(cq.ContinuousQueryCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
