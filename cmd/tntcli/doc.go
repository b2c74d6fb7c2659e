// Package tntcli implements the command-line client for tntgo. It opens one
// Connector/Connection pair against a Tarantool-speaking IPROTO server and
// exposes the wire operations (ping, insert, replace, select, delete,
// update, call, eval) as cobra subcommands.
//
// Connection settings (host, port, timeout) are read from flags or from
// TNT_-prefixed environment variables / a .env file, following the same
// viper wiring dKV's cmd/util package used for its own RPC client flags.
package tntcli
