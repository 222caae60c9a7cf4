// delete.go — RECORD_DELETE: tombstone a record at an expected version.
package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lucentgraph/lucent/internal/dispatcher"
	"github.com/lucentgraph/lucent/internal/wire"
)

var deleteCmd = &cobra.Command{
	Use:   "delete RID VERSION",
	Short: "Delete a record at an expected version",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

func runDelete(_ *cobra.Command, args []string) error {
	rid, err := wire.ParseRID(args[0])
	if err != nil {
		return err
	}
	counter, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("parse version %q: %w", args[1], err)
	}

	ctx, cancel := ctxWithTimeout()
	defer cancel()

	sess, err := openDBSession(ctx, serverAddr, dbName, username, password, protocolVersion)
	if err != nil {
		return err
	}
	defer sess.close()

	conn := sess.ch.Conn
	conn.AcquireWriteLock()
	writeErr := func() error {
		if err := conn.WriteByte(byte(dispatcher.OpRecordDelete)); err != nil {
			return err
		}
		if err := conn.WriteInt(sess.ID); err != nil {
			return err
		}
		if err := conn.WriteRID(rid); err != nil {
			return err
		}
		if err := conn.WriteVersion(wire.Tracked(counter)); err != nil {
			return err
		}
		if err := conn.WriteByte(0); err != nil { // mode
			return err
		}
		return conn.Flush()
	}()
	conn.ReleaseWriteLock()
	if writeErr != nil {
		return fmt.Errorf("record delete: %w", writeErr)
	}

	status, _, err := conn.ReadResponseHeader()
	if err != nil {
		return fmt.Errorf("record delete: read response: %w", err)
	}
	if status == wire.StatusError {
		return readServerError(conn, sess.ProtocolVersion, "record delete")
	}
	if _, err := conn.ReadByte(); err != nil {
		return fmt.Errorf("record delete: read confirmation: %w", err)
	}

	fmt.Println("deleted", rid)
	return nil
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
