// get.go — RECORD_LOAD: fetch one record by identity and print its body.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucentgraph/lucent/internal/dispatcher"
	"github.com/lucentgraph/lucent/internal/wire"
)

var getCmd = &cobra.Command{
	Use:   "get RID",
	Short: "Load a record by identity and print its body to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func runGet(_ *cobra.Command, args []string) error {
	rid, err := wire.ParseRID(args[0])
	if err != nil {
		return err
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
		if err := conn.WriteByte(byte(dispatcher.OpRecordLoad)); err != nil {
			return err
		}
		if err := conn.WriteInt(sess.ID); err != nil {
			return err
		}
		if err := conn.WriteRID(rid); err != nil {
			return err
		}
		if err := conn.WriteString(""); err != nil { // fetch plan
			return err
		}
		if sess.ProtocolVersion >= dispatcher.MinProtoIgnoreCache {
			if err := conn.WriteByte(0); err != nil {
				return err
			}
		}
		if sess.ProtocolVersion >= dispatcher.MinProtoLoadTombstones {
			if err := conn.WriteByte(0); err != nil {
				return err
			}
		}
		return conn.Flush()
	}()
	conn.ReleaseWriteLock()
	if writeErr != nil {
		return fmt.Errorf("record load: %w", writeErr)
	}

	status, _, err := conn.ReadResponseHeader()
	if err != nil {
		return fmt.Errorf("record load: read response: %w", err)
	}
	if status == wire.StatusError {
		return readServerError(conn, sess.ProtocolVersion, "record load")
	}

	present, err := conn.ReadByte()
	if err != nil {
		return fmt.Errorf("record load: read presence: %w", err)
	}
	if present == 0 {
		return fmt.Errorf("record %s not found", rid)
	}

	body, err := conn.ReadBytes()
	if err != nil {
		return fmt.Errorf("record load: read body: %w", err)
	}
	if _, err := conn.ReadVersion(); err != nil {
		return fmt.Errorf("record load: read version: %w", err)
	}
	if _, err := conn.ReadByte(); err != nil { // record type
		return fmt.Errorf("record load: read type: %w", err)
	}
	if _, err := conn.ReadByte(); err != nil { // terminator
		return fmt.Errorf("record load: read terminator: %w", err)
	}

	_, err = os.Stdout.Write(body)
	return err
}

func init() {
	rootCmd.AddCommand(getCmd)
}
