package cache

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/spf13/cobra"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Inserts or replaces an entry",
		Example: `  dcache cache set e1 alice --type Employee --attrs '{"Name":"alice","Salary":60000}'
  dcache cache set e2 bob --type Employee --attrs '{"Salary":10}' --tags remote,parttime`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := metaFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := rpcStore.Insert(args[0], []byte(args[1]), meta); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	addCmd = &cobra.Command{
		Use:   "add [key] [value]",
		Short: "Inserts an entry, fails if the key already exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := metaFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := rpcStore.Add(args[0], []byte(args[1]), meta); err != nil {
				return err
			}
			fmt.Println("added successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Gets the value and metadata of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, ok, err := rpcStore.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("<not found>")
				return nil
			}
			fmt.Printf("value: %s\n", entry.Value)
			if entry.Meta != nil {
				data, err := json.Marshal(entry.Meta)
				if err != nil {
					return err
				}
				fmt.Printf("meta:  %s\n", data)
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Removes an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := rpcStore.Remove(args[0])
			if err != nil {
				return err
			}
			if removed {
				fmt.Println("deleted successfully")
			} else {
				fmt.Println("<not found>")
			}
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if an entry exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := rpcStore.Has(args[0])
			if err != nil {
				return err
			}
			if ok {
				fmt.Println("found")
			} else {
				fmt.Println("<not found>")
			}
			return nil
		},
	}
	searchCmd = &cobra.Command{
		Use:   "search [type] [query]",
		Short: "Returns the keys of all entries of a type matching a JSON query",
		Example: `  dcache cache search Employee '{"op":"gt","attr":"Salary","value":50000}'
  dcache cache search Employee '{"op":"gt","attr":"Salary","param":"min"}' --bindings '{"min":{"type":"int","value":80000}}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := predicate.ParseSpec([]byte(args[1]))
			if err != nil {
				return err
			}
			bindings, err := bindingsFromFlags(cmd)
			if err != nil {
				return err
			}
			keys, err := rpcStore.Search(args[0], spec, bindings)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Removes all entries, registered queries stay registered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Clear(); err != nil {
				return err
			}
			fmt.Println("cleared successfully")
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints statistics of the cache of the shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcStore.GetInfo()
			if err != nil {
				return err
			}
			return util.PrintJSON(info)
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{setCmd, addCmd} {
		c.Flags().String("type", "", util.WrapString("Type name of the entry"))
		c.Flags().String("attrs", "", util.WrapString("Attributes of the entry as JSON object"))
		c.Flags().StringSlice("tags", nil, util.WrapString("Comma-separated tags of the entry"))
	}
	searchCmd.Flags().String("bindings", "", util.WrapString("Values of the query parameters as JSON object"))
}

// metaFromFlags builds the entry metadata from the type, attrs and tags flags
func metaFromFlags(cmd *cobra.Command) (*index.MetaInfo, error) {
	typeName, _ := cmd.Flags().GetString("type")
	attrs, _ := cmd.Flags().GetString("attrs")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	return util.ParseMeta(typeName, attrs, tags)
}

// bindingsFromFlags decodes the bindings flag
func bindingsFromFlags(cmd *cobra.Command) (map[string]index.Value, error) {
	raw, _ := cmd.Flags().GetString("bindings")
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var bindings map[string]index.Value
	if err := json.Unmarshal([]byte(raw), &bindings); err != nil {
		return nil, fmt.Errorf("bindings must be a JSON object: %w", err)
	}
	return bindings, nil
}
