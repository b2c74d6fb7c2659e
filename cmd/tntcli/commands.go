package tntcli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vkolb/tntgo/iproto"
)

// waitForResponse encodes nothing itself; it just blocks on the
// connector until sync's response has been decoded (or the shared
// --timeout elapses) and prints it.
func waitForResponse(sync uint64) error {
	cfg := getClientConfig()
	if err := connector.Wait(conn, sync, cfg.timeoutMs); err != nil {
		return err
	}
	resp, ok := conn.GetResponse(sync)
	if !ok {
		return fmt.Errorf("response for sync %d vanished before it could be read", sync)
	}
	printResponse(resp)
	return nil
}

func parseIterator(s string) (iproto.IteratorType, error) {
	switch strings.ToLower(s) {
	case "", "eq":
		return iproto.IterEQ, nil
	case "req":
		return iproto.IterREQ, nil
	case "all":
		return iproto.IterAll, nil
	case "lt":
		return iproto.IterLT, nil
	case "le":
		return iproto.IterLE, nil
	case "ge":
		return iproto.IterGE, nil
	case "gt":
		return iproto.IterGT, nil
	default:
		return 0, fmt.Errorf("unknown iterator %q (want one of eq, req, all, lt, le, ge, gt)", s)
	}
}

func parseUint32(s, name string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", name, err)
	}
	return uint32(v), nil
}

var (
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Pings the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return waitForResponse(conn.Ping())
		},
	}

	insertCmd = &cobra.Command{
		Use:   "insert [space] [tuple-json]",
		Short: "Inserts a tuple into a space",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spaceID, err := parseUint32(args[0], "space")
			if err != nil {
				return err
			}
			tuple, err := parseJSONArray(args[1])
			if err != nil {
				return err
			}
			return waitForResponse(conn.Insert(spaceID, tuple))
		},
	}

	replaceCmd = &cobra.Command{
		Use:   "replace [space] [tuple-json]",
		Short: "Replaces (or inserts) a tuple in a space",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spaceID, err := parseUint32(args[0], "space")
			if err != nil {
				return err
			}
			tuple, err := parseJSONArray(args[1])
			if err != nil {
				return err
			}
			return waitForResponse(conn.Replace(spaceID, tuple))
		},
	}

	selectCmd = &cobra.Command{
		Use:   "select [space] [index] [key-json]",
		Short: "Selects tuples from a space by index",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			spaceID, err := parseUint32(args[0], "space")
			if err != nil {
				return err
			}
			indexID, err := parseUint32(args[1], "index")
			if err != nil {
				return err
			}
			key, err := parseJSONArray(args[2])
			if err != nil {
				return err
			}
			iterFlag, _ := cmd.Flags().GetString("iterator")
			it, err := parseIterator(iterFlag)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetUint32("limit")
			offset, _ := cmd.Flags().GetUint32("offset")
			return waitForResponse(conn.Select(spaceID, indexID, limit, offset, it, key))
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [space] [index] [key-json]",
		Short: "Deletes a tuple from a space by index",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			spaceID, err := parseUint32(args[0], "space")
			if err != nil {
				return err
			}
			indexID, err := parseUint32(args[1], "index")
			if err != nil {
				return err
			}
			key, err := parseJSONArray(args[2])
			if err != nil {
				return err
			}
			return waitForResponse(conn.Delete(spaceID, indexID, key))
		},
	}

	updateCmd = &cobra.Command{
		Use:   "update [space] [index] [key-json] [ops-json]",
		Short: `Updates a tuple, e.g. update 512 0 "[1]" "[[\"=\", 1, 42]]"`,
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			spaceID, err := parseUint32(args[0], "space")
			if err != nil {
				return err
			}
			indexID, err := parseUint32(args[1], "index")
			if err != nil {
				return err
			}
			key, err := parseJSONArray(args[2])
			if err != nil {
				return err
			}
			ops, err := parseJSONArray(args[3])
			if err != nil {
				return err
			}
			return waitForResponse(conn.Update(spaceID, indexID, key, ops))
		},
	}

	callCmd = &cobra.Command{
		Use:   "call [function] [args-json]",
		Short: "Calls a stored function",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var callArgs []any
			if len(args) == 2 {
				parsed, err := parseJSONArray(args[1])
				if err != nil {
					return err
				}
				callArgs = parsed
			}
			return waitForResponse(conn.Call(args[0], callArgs))
		},
	}

	evalCmd = &cobra.Command{
		Use:   "eval [expr] [args-json]",
		Short: "Evaluates a Lua expression",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var evalArgs []any
			if len(args) == 2 {
				parsed, err := parseJSONArray(args[1])
				if err != nil {
					return err
				}
				evalArgs = parsed
			}
			return waitForResponse(conn.Eval(args[0], evalArgs))
		},
	}
)

func init() {
	selectCmd.Flags().Uint32("limit", 100, wrapString("Maximum number of rows to return"))
	selectCmd.Flags().Uint32("offset", 0, wrapString("Number of matching rows to skip"))
	selectCmd.Flags().String("iterator", "eq", wrapString("Iterator type: eq, req, all, lt, le, ge, gt"))
}
