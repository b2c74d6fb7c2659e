package tntcli

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// wrap is the help-text column width, matching dKV's cmd/util.Wrap.
const wrap = 50

// wrapString wraps text at wrap characters so long flag descriptions
// stay readable in terminal help output, the tntcli analogue of dKV's
// cmd/util.WrapString. Each line is the longest run of whitespace-split
// words (rejoined with single spaces) that still fits within wrap.
func wrapString(text string) string {
	words := strings.Fields(text)
	var lines []string
	for start := 0; start < len(words); {
		end := start + 1
		length := len(words[start])
		for end < len(words) {
			next := length + 1 + len(words[end])
			if next > wrap {
				break
			}
			length = next
			end++
		}
		lines = append(lines, strings.Join(words[start:end], " "))
		start = end
	}
	return strings.Join(lines, "\n")
}

// setupClientFlags adds the connection flags every subcommand needs to
// reach a server, the tntgo analogue of dKV's
// cmd/util.SetupRPCClientFlags.
func setupClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("host", "127.0.0.1", wrapString("The host of the IPROTO server"))
	cmd.PersistentFlags().Int("port", 3301, wrapString("The port of the IPROTO server"))
	cmd.PersistentFlags().Int("timeout", 2000, wrapString("The timeout in milliseconds for connecting and for each request"))
	cmd.PersistentFlags().String("name", "tntcli", wrapString("Name tag attached to this connector's metrics"))
}

// initClientConfig loads .env/.env.local and wires viper's TNT_-prefixed
// environment lookup, mirroring dKV's cmd/util.InitClientConfig (which
// does the same under the "dkv" prefix).
func initClientConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("tnt")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// bindCommandFlags binds cmd's flags into viper, the tntgo analogue of
// dKV's cmd/util.BindCommandFlags.
func bindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

type clientConfig struct {
	host      string
	port      int
	timeoutMs int
	name      string
}

func getClientConfig() clientConfig {
	return clientConfig{
		host:      viper.GetString("host"),
		port:      viper.GetInt("port"),
		timeoutMs: viper.GetInt("timeout"),
		name:      viper.GetString("name"),
	}
}
