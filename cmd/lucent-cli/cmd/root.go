// root.go — The lucent-cli root command and the connection flags every
// subcommand shares, in the same rootCmd-plus-persistent-flags shape as
// other single-binary Cobra clients in this family.
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucentgraph/lucent/internal/config"
)

// version is set at build time via -ldflags; it is the driver version
// string lucent-cli reports to lucentd during DB_OPEN.
var version = "0.1.0"

var (
	serverAddr      string
	dbName          string
	username        string
	password        string
	protocolVersion int
	requestTimeout  time.Duration
)

// maxConnsPerAddr and acquireTimeout bound the shared registry every
// subcommand borrows a channel from. A CLI process issues at most a
// handful of concurrent requests, so a small pool is plenty.
const (
	maxConnsPerAddr = 4
	acquireTimeout  = 5 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "lucent-cli",
	Short: "Command-line client for a lucentd server",
	Long: `lucent-cli issues one wire-protocol request per invocation against
a running lucentd server: open a database, load/create/update/delete a
record, and close the session, all within a single command.`,
}

// Execute runs the root command, returning any error a subcommand's Run
// (or its own argument validation) produced.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaults := config.Defaults()

	rootCmd.PersistentFlags().StringVarP(&serverAddr, "addr", "a", defaults.ListenAddr, "lucentd server address (host:port)")
	rootCmd.PersistentFlags().StringVarP(&dbName, "db", "d", "", "database name")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", "admin", "username to authenticate as")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "password to authenticate with")
	rootCmd.PersistentFlags().IntVar(&protocolVersion, "proto", defaults.ProtocolVersion, "wire protocol version to negotiate")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 10*time.Second, "timeout for the whole open/operate/close sequence")

	_ = rootCmd.MarkPersistentFlagRequired("db")
}

// ctxWithTimeout returns a context bounded by the --timeout flag,
// mirroring the fixed per-call deadline other single-shot CLI clients
// in this family apply around their RPCs.
func ctxWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}
