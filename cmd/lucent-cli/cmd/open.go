// open.go — A connectivity/credentials smoke test: opens a database
// session, prints the id lucentd minted, then closes it immediately.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a database session and report the session id lucentd assigns",
	Long: `Authenticates against --db as --user, prints the session id the
server minted, then closes the session. Useful for checking that a
server is reachable and a credential pair is accepted without
performing any record operation.`,
	Args: cobra.NoArgs,
	RunE: runOpen,
}

func runOpen(_ *cobra.Command, _ []string) error {
	ctx, cancel := ctxWithTimeout()
	defer cancel()

	sess, err := openDBSession(ctx, serverAddr, dbName, username, password, protocolVersion)
	if err != nil {
		return err
	}
	fmt.Println("session id:", sess.ID)
	return sess.close()
}

func init() {
	rootCmd.AddCommand(openCmd)
}
