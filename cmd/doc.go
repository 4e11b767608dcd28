// Package cmd provides the command-line interface for dbfleet.
//
// Subcommands:
//   - serve: starts the control plane HTTP server (default when no
//     subcommand is provided)
//   - version: displays the application version
//
// Command structure:
//
//	dbfleet [flags]            # starts the server (default)
//	dbfleet serve [flags]      # explicitly starts the server
//	dbfleet version            # shows version information
//	dbfleet help [command]     # shows help information
package cmd
