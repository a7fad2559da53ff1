package cq

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/spf13/cobra"
)

var (
	registerCmd = &cobra.Command{
		Use:   "register [client] [type] [query]",
		Short: "Registers a continuous query and prints the keys currently matching",
		Example: `  dcache cq register c1 Employee '{"op":"gt","attr":"Salary","value":50000}' --notify add,remove --data-add meta`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := registerRequest(cmd, args)
			if err != nil {
				return err
			}
			info, keys, err := rpcStore.RegisterQuery(req)
			if err != nil {
				return err
			}
			return util.PrintJSON(map[string]any{
				"queryUid":      info.QueryUID,
				"clientQueryId": info.ClientQueryID,
				"isNew":         info.IsNew,
				"keys":          keys,
			})
		},
	}
	unregisterCmd = &cobra.Command{
		Use:   "unregister [client-query-id]",
		Short: "Removes a client query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.UnRegisterQuery(args[0]); err != nil {
				return err
			}
			fmt.Println("unregistered successfully")
			return nil
		},
	}
	disconnectCmd = &cobra.Command{
		Use:   "disconnect [client]",
		Short: "Removes all queries of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.DisconnectClient(args[0]); err != nil {
				return err
			}
			fmt.Println("disconnected successfully")
			return nil
		},
	}
	resultsCmd = &cobra.Command{
		Use:   "results [query-id]",
		Short: "Prints the keys matching a query, addressed by client or server query id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := rpcStore.QueryResults(args[0])
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
	pollCmd = &cobra.Command{
		Use:   "poll [client]",
		Short: "Prints the buffered notifications of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("max")
			watch, _ := cmd.Flags().GetDuration("watch")

			if watch <= 0 {
				return poll(args[0], limit)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt)
			defer signal.Stop(stop)

			ticker := time.NewTicker(watch)
			defer ticker.Stop()
			for {
				if err := poll(args[0], limit); err != nil {
					return err
				}
				select {
				case <-stop:
					return nil
				case <-ticker.C:
				}
			}
		},
	}
)

func init() {
	registerCmd.Flags().String("id", "", util.WrapString("Client query id, generated if empty"))
	registerCmd.Flags().String("notify", "all", util.WrapString("Change types to deliver (comma separated: add, update, remove, all)"))
	registerCmd.Flags().String("bindings", "", util.WrapString("Values of the query parameters as JSON object"))
	for _, ct := range []string{"add", "update", "remove"} {
		registerCmd.Flags().String("data-"+ct, "none", util.WrapString("Data delivered with "+ct+" notifications (none, meta, data)"))
	}

	pollCmd.Flags().Int("max", 0, util.WrapString("Maximum number of notifications to fetch (0 = all)"))
	pollCmd.Flags().Duration("watch", 0, util.WrapString("Poll repeatedly with this interval until interrupted"))
}

// registerRequest builds a registration from the arguments and flags of the register command
func registerRequest(cmd *cobra.Command, args []string) (cache.RegisterRequest, error) {
	req := cache.RegisterRequest{ClientID: args[0], TypeName: args[1]}

	spec, err := predicate.ParseSpec([]byte(args[2]))
	if err != nil {
		return req, err
	}
	req.Query = spec
	req.ClientQueryID, _ = cmd.Flags().GetString("id")

	notify, _ := cmd.Flags().GetString("notify")
	if req.Notify, err = cq.ParseNotificationType(notify); err != nil {
		return req, err
	}

	filters := map[string]*cq.DataFilter{
		"add":    &req.Filters.Add,
		"update": &req.Filters.Update,
		"remove": &req.Filters.Remove,
	}
	for ct, f := range filters {
		raw, _ := cmd.Flags().GetString("data-" + ct)
		if *f, err = cq.ParseDataFilter(raw); err != nil {
			return req, err
		}
	}

	if raw, _ := cmd.Flags().GetString("bindings"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Values); err != nil {
			return req, fmt.Errorf("bindings must be a JSON object: %w", err)
		}
	}
	return req, nil
}

func poll(clientID string, limit int) error {
	notes, err := rpcStore.Poll(clientID, limit)
	if err != nil {
		return err
	}
	for _, n := range notes {
		fmt.Printf("%-7s %s %v", n.ChangeType, n.Key, n.ClientQueryIDs)
		if n.Meta != nil {
			fmt.Printf(" %s", metaString(n.Meta))
		}
		if n.Value != nil {
			fmt.Printf(" value=%s", n.Value)
		}
		fmt.Println()
	}
	return nil
}

func metaString(meta *index.MetaInfo) string {
	data, err := json.Marshal(meta)
	if err != nil {
		return err.Error()
	}
	return string(data)
}
