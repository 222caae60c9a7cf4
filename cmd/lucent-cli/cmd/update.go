// update.go — RECORD_UPDATE: overwrite a record's body at an expected
// MVCC version, reading the new body from stdin.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lucentgraph/lucent/internal/dispatcher"
	"github.com/lucentgraph/lucent/internal/wire"
)

var updateType string

var updateCmd = &cobra.Command{
	Use:   "update RID VERSION",
	Short: "Update a record's body from stdin at an expected version",
	Long: `VERSION is the tracked MVCC counter the caller last observed for
RID. A mismatch between VERSION and the record's current version on
the server is reported as a version-conflict error, not silently
overwritten.`,
	Args: cobra.ExactArgs(2),
	RunE: runUpdate,
}

func runUpdate(_ *cobra.Command, args []string) error {
	rid, err := wire.ParseRID(args[0])
	if err != nil {
		return err
	}
	counter, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("parse version %q: %w", args[1], err)
	}
	if len(updateType) != 1 {
		return fmt.Errorf("--type must be exactly one byte, got %q", updateType)
	}
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
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
		if err := conn.WriteByte(byte(dispatcher.OpRecordUpdate)); err != nil {
			return err
		}
		if err := conn.WriteInt(sess.ID); err != nil {
			return err
		}
		if err := conn.WriteRID(rid); err != nil {
			return err
		}
		if sess.ProtocolVersion >= dispatcher.MinProtoUpdateContentFlag {
			if err := conn.WriteByte(1); err != nil {
				return err
			}
		}
		if err := conn.WriteBytes(body); err != nil {
			return err
		}
		if err := conn.WriteVersion(wire.Tracked(counter)); err != nil {
			return err
		}
		if err := conn.WriteByte(updateType[0]); err != nil {
			return err
		}
		if err := conn.WriteByte(0); err != nil { // mode
			return err
		}
		return conn.Flush()
	}()
	conn.ReleaseWriteLock()
	if writeErr != nil {
		return fmt.Errorf("record update: %w", writeErr)
	}

	status, _, err := conn.ReadResponseHeader()
	if err != nil {
		return fmt.Errorf("record update: read response: %w", err)
	}
	if status == wire.StatusError {
		return readServerError(conn, sess.ProtocolVersion, "record update")
	}

	newVersion, err := conn.ReadVersion()
	if err != nil {
		return fmt.Errorf("record update: read version: %w", err)
	}
	if sess.ProtocolVersion >= dispatcher.MinProtoCollectionChanges {
		if _, err := conn.ReadInt(); err != nil {
			return fmt.Errorf("record update: read collection changes: %w", err)
		}
	}

	fmt.Println("new version:", newVersion.Counter)
	return nil
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().StringVarP(&updateType, "type", "t", "d", "single-byte record type tag")
}
