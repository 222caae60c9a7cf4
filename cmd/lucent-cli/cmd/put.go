// put.go — RECORD_CREATE: create a record from stdin in a cluster.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucentgraph/lucent/internal/dispatcher"
	"github.com/lucentgraph/lucent/internal/wire"
)

var (
	putCluster int16
	putType    string
)

var putCmd = &cobra.Command{
	Use:   "put",
	Short: "Create a record from stdin and print the identity lucentd assigns",
	Args:  cobra.NoArgs,
	RunE:  runPut,
}

func runPut(_ *cobra.Command, _ []string) error {
	if len(putType) != 1 {
		return fmt.Errorf("--type must be exactly one byte, got %q", putType)
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
		if err := conn.WriteByte(byte(dispatcher.OpRecordCreate)); err != nil {
			return err
		}
		if err := conn.WriteInt(sess.ID); err != nil {
			return err
		}
		if sess.ProtocolVersion >= dispatcher.MinProtoDataSegmentID && sess.ProtocolVersion < dispatcher.MaxProtoDataSegmentID {
			if err := conn.WriteInt(0); err != nil { // data segment id
				return err
			}
		}
		if err := conn.WriteShort(putCluster); err != nil {
			return err
		}
		if err := conn.WriteBytes(body); err != nil {
			return err
		}
		if err := conn.WriteByte(putType[0]); err != nil {
			return err
		}
		if err := conn.WriteByte(0); err != nil { // mode
			return err
		}
		return conn.Flush()
	}()
	conn.ReleaseWriteLock()
	if writeErr != nil {
		return fmt.Errorf("record create: %w", writeErr)
	}

	status, _, err := conn.ReadResponseHeader()
	if err != nil {
		return fmt.Errorf("record create: read response: %w", err)
	}
	if status == wire.StatusError {
		return readServerError(conn, sess.ProtocolVersion, "record create")
	}

	position, err := conn.ReadClusterPosition()
	if err != nil {
		return fmt.Errorf("record create: read cluster position: %w", err)
	}
	if sess.ProtocolVersion >= dispatcher.MinProtoRecordVersionOnCreate {
		if _, err := conn.ReadVersion(); err != nil {
			return fmt.Errorf("record create: read version: %w", err)
		}
	}
	if sess.ProtocolVersion >= dispatcher.MinProtoCollectionChanges {
		if _, err := conn.ReadInt(); err != nil { // collection changes count
			return fmt.Errorf("record create: read collection changes: %w", err)
		}
	}

	rid := wire.RID{ClusterID: putCluster, ClusterPosition: position}
	fmt.Println(rid.String())
	return nil
}

func init() {
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().Int16VarP(&putCluster, "cluster", "c", 1, "cluster id to create the record in")
	putCmd.Flags().StringVarP(&putType, "type", "t", "d", "single-byte record type tag (document, flat, edge-bag, ...)")
}
