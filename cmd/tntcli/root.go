package tntcli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vkolb/tntgo/tntgo"
)

const version = "0.1.0"

var (
	connector *tntgo.Connector
	conn      tntgo.Connection

	// RootCmd is the tntcli entrypoint, the tntgo analogue of dKV's
	// cmd.RootCmd: one cobra command tree wired against a single
	// Connector/Connection pair shared by every subcommand.
	RootCmd = &cobra.Command{
		Use:   "tntcli",
		Short: "IPROTO client for tntgo",
		Long: fmt.Sprintf(`tntcli (v%s)

A command-line client for talking to a Tarantool-speaking IPROTO server
through tntgo's asynchronous Connector/Connection.`, version),
		PersistentPreRunE:  setupConnection,
		PersistentPostRunE: teardownConnection,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tntcli",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tntcli v%s\n", version)
		},
	}
)

func init() {
	cobra.OnInitialize(initClientConfig)
	setupClientFlags(RootCmd)

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(pingCmd)
	RootCmd.AddCommand(insertCmd)
	RootCmd.AddCommand(replaceCmd)
	RootCmd.AddCommand(selectCmd)
	RootCmd.AddCommand(deleteCmd)
	RootCmd.AddCommand(updateCmd)
	RootCmd.AddCommand(callCmd)
	RootCmd.AddCommand(evalCmd)
}

// setupConnection binds flags into viper, opens a Connector, and
// connects it to the configured server, storing both in package-level
// variables subcommands read directly (the tntgo analogue of dKV's
// cmd/kv.setupKVClient). version's Run has no use for a live connection,
// so it's skipped.
func setupConnection(cmd *cobra.Command, _ []string) error {
	if cmd == versionCmd {
		return nil
	}

	if err := bindCommandFlags(cmd); err != nil {
		return err
	}
	cfg := getClientConfig()

	var err error
	connector, err = tntgo.NewConnector(tntgo.ConnectorOptions{Name: cfg.name})
	if err != nil {
		return fmt.Errorf("creating connector: %w", err)
	}

	conn, err = connector.Connect(cfg.host, cfg.port, cfg.timeoutMs)
	if err != nil {
		return fmt.Errorf("connecting to %s:%d: %w", cfg.host, cfg.port, err)
	}
	return nil
}

// teardownConnection closes the connector (and with it, conn) once a
// subcommand's RunE has returned.
func teardownConnection(cmd *cobra.Command, _ []string) error {
	if connector != nil {
		connector.Shutdown()
	}
	return nil
}

// Execute runs RootCmd. Called by main.main(), same role as dKV's
// cmd.Execute().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
