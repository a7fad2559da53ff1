package util

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/rpc/client"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/ValentinKolb/dCache/rpc/transport/http"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the CLI
	EnvPrefix = "dcache"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads the env files and binds the environment to viper
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("The address of the dCache server. Multiple endpoints can be specified as a comma-separated list, requests are distributed round-robin"))

	key = "conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 10, WrapString("Idle connections kept open per endpoint"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry the request"))

	key = "shard"
	cmd.PersistentFlags().Int(key, 1, WrapString("ID of the shard to connect to"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("retries"),
		Endpoints:              strings.Split(viper.GetString("endpoints"), ","),
		ConnectionsPerEndpoint: viper.GetInt("conn-per-endpoint"),
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetTransport creates the client transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return uint64(viper.GetInt("shard"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// NewStoreClient binds the flags of cmd and connects an RPC store
func NewStoreClient(cmd *cobra.Command) (store.IStore, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}

	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	t, err := GetTransport()
	if err != nil {
		return nil, err
	}

	return client.NewRPCStore(GetShardID(), *GetClientConfig(), t, s)
}

// ParseMeta builds entry metadata from a type name, a JSON attribute object and tags.
// It returns nil if all of them are empty.
func ParseMeta(typeName, attributes string, tags []string) (*index.MetaInfo, error) {
	if typeName == "" && attributes == "" && len(tags) == 0 {
		return nil, nil
	}
	meta := &index.MetaInfo{TypeName: typeName, Tags: tags}
	if attributes != "" {
		dec := json.NewDecoder(strings.NewReader(attributes))
		dec.UseNumber()
		if err := dec.Decode(&meta.Attributes); err != nil {
			return nil, fmt.Errorf("attributes must be a JSON object: %w", err)
		}
	}
	return meta, nil
}

// PrintJSON writes v as indented JSON to stdout
func PrintJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
