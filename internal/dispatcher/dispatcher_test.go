package dispatcher

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucentgraph/lucent/internal/metrics"
	"github.com/lucentgraph/lucent/internal/security"
	"github.com/lucentgraph/lucent/internal/storage"
	"github.com/lucentgraph/lucent/internal/wire"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, _ := testDispatcherWithRegistry(t)
	return d
}

func testDispatcherWithRegistry(t *testing.T) (*Dispatcher, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	openStorage := func(string) (storage.Storage, error) {
		return storage.NewMemStore(wire.DefaultPositionWidth), nil
	}
	lookupUser := func(_, username, _ string) (*security.User, error) {
		return &security.User{
			Name: username,
			Roles: []security.Role{{
				Name: "admin",
				Rules: []security.Rule{{
					Resource: security.ResourceAll,
					Operations: map[security.Operation]bool{
						security.OpRead: true, security.OpCreate: true,
						security.OpUpdate: true, security.OpDelete: true, security.OpExecute: true,
					},
				}},
			}},
		}, nil
	}
	return New(zerolog.Nop(), m, openStorage, lookupUser, 64, true), reg
}

// pipe returns connected client/server wire.Conn pairs over a real
// net.Pipe, since a dispatcher round trip needs independent read and
// write sides rather than a single shared buffer.
func pipe(t *testing.T) (client *wire.Conn, server *wire.Conn) {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })
	return wire.NewConn(c1, wire.DefaultPositionWidth), wire.NewConn(c2, wire.DefaultPositionWidth)
}

func TestDispatcher_UnknownOpcodeKeepsConnectionOpen(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t)
	client, server := pipe(t)

	done := make(chan error, 1)
	go func() { done <- d.HandleOne(server, 24) }()

	require.NoError(t, client.WriteByte(250))
	require.NoError(t, client.WriteInt(0))
	require.NoError(t, client.Flush())

	status, err := client.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, status)

	require.NoError(t, <-done)
}

func TestDispatcher_UnknownSessionClosesConnection(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t)
	client, server := pipe(t)

	done := make(chan error, 1)
	go func() { done <- d.HandleOne(server, 24) }()

	require.NoError(t, client.WriteByte(byte(OpRecordLoad)))
	require.NoError(t, client.WriteInt(999))
	require.NoError(t, client.Flush())

	status, err := client.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, status)

	err = <-done
	assert.Error(t, err)
}

func TestDispatcher_DBCloseOnUnknownSessionStaysOpen(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t)
	client, server := pipe(t)

	done := make(chan error, 1)
	go func() { done <- d.HandleOne(server, 24) }()

	require.NoError(t, client.WriteByte(byte(OpDBClose)))
	require.NoError(t, client.WriteInt(999))
	require.NoError(t, client.Flush())

	_, err := client.ReadByte()
	require.NoError(t, err)

	assert.NoError(t, <-done)
}

func TestDispatcher_ConnectOpenCreateLoadRoundTrip(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t)
	client, server := pipe(t)

	// CONNECT
	go func() { _ = d.HandleOne(server, 23) }()
	require.NoError(t, client.WriteByte(byte(OpConnect)))
	require.NoError(t, client.WriteInt(0))
	require.NoError(t, client.WriteString("test-driver"))
	require.NoError(t, client.WriteString("1.0"))
	require.NoError(t, client.WriteShort(23))
	require.NoError(t, client.WriteString("client-1"))
	require.NoError(t, client.WriteString("binary"))
	require.NoError(t, client.Flush())

	status, err := client.ReadByte()
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, status)
	_, err = client.ReadInt() // correlation session id (0 for CONNECT)
	require.NoError(t, err)
	_, err = client.ReadInt() // minted session id
	require.NoError(t, err)

	// DB_OPEN
	go func() { _ = d.HandleOne(server, 23) }()
	require.NoError(t, client.WriteByte(byte(OpDBOpen)))
	require.NoError(t, client.WriteInt(0))
	require.NoError(t, client.WriteString("test-driver"))
	require.NoError(t, client.WriteString("1.0"))
	require.NoError(t, client.WriteShort(23))
	require.NoError(t, client.WriteString("client-1"))
	require.NoError(t, client.WriteString("binary"))
	require.NoError(t, client.WriteString("widgets"))
	require.NoError(t, client.WriteString("document"))
	require.NoError(t, client.WriteString("admin"))
	require.NoError(t, client.WriteString("admin"))
	require.NoError(t, client.Flush())

	status, err = client.ReadByte()
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, status)
	_, err = client.ReadInt()
	require.NoError(t, err)
	sessionID, err := client.ReadInt()
	require.NoError(t, err)
	_, err = client.ReadString() // server version string (proto >= 14)
	require.NoError(t, err)

	// RECORD_CREATE
	go func() { _ = d.HandleOne(server, 23) }()
	require.NoError(t, client.WriteByte(byte(OpRecordCreate)))
	require.NoError(t, client.WriteInt(sessionID))
	require.NoError(t, client.WriteInt(0)) // data segment id (10 <= proto < 24)
	require.NoError(t, client.WriteShort(1))
	require.NoError(t, client.WriteBytes([]byte("payload")))
	require.NoError(t, client.WriteByte('d'))
	require.NoError(t, client.WriteByte(0)) // mode
	require.NoError(t, client.Flush())

	status, err = client.ReadByte()
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, status)
	_, err = client.ReadInt()
	require.NoError(t, err)
	createdPosition, err := client.ReadClusterPosition()
	require.NoError(t, err)
	_, err = client.ReadVersion()
	require.NoError(t, err)
	_, err = client.ReadInt() // collection changes count (proto >= 20)
	require.NoError(t, err)
	createdRID := wire.RID{ClusterID: 1, ClusterPosition: createdPosition}

	// RECORD_LOAD
	go func() { _ = d.HandleOne(server, 23) }()
	require.NoError(t, client.WriteByte(byte(OpRecordLoad)))
	require.NoError(t, client.WriteInt(sessionID))
	require.NoError(t, client.WriteRID(createdRID))
	require.NoError(t, client.WriteString(""))
	require.NoError(t, client.WriteByte(0)) // ignore cache
	require.NoError(t, client.WriteByte(0)) // load tombstones
	require.NoError(t, client.Flush())

	status, err = client.ReadByte()
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, status)
	_, err = client.ReadInt()
	require.NoError(t, err)
	present, err := client.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(1), present)
	body, err := client.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), body)
	_, err = client.ReadVersion()
	require.NoError(t, err)
	_, err = client.ReadByte() // record type
	require.NoError(t, err)
	terminator, err := client.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0), terminator)
}

func TestDispatcher_ClearsBoundDatabaseCacheAfterEachRequest(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t)
	client, server := pipe(t)

	// CONNECT
	go func() { _ = d.HandleOne(server, 23) }()
	require.NoError(t, client.WriteByte(byte(OpConnect)))
	require.NoError(t, client.WriteInt(0))
	require.NoError(t, client.WriteString("test-driver"))
	require.NoError(t, client.WriteString("1.0"))
	require.NoError(t, client.WriteShort(23))
	require.NoError(t, client.WriteString("client-1"))
	require.NoError(t, client.WriteString("binary"))
	require.NoError(t, client.Flush())
	_, err := client.ReadByte()
	require.NoError(t, err)
	_, err = client.ReadInt()
	require.NoError(t, err)
	_, err = client.ReadInt()
	require.NoError(t, err)

	// DB_OPEN
	go func() { _ = d.HandleOne(server, 23) }()
	require.NoError(t, client.WriteByte(byte(OpDBOpen)))
	require.NoError(t, client.WriteInt(0))
	require.NoError(t, client.WriteString("test-driver"))
	require.NoError(t, client.WriteString("1.0"))
	require.NoError(t, client.WriteShort(23))
	require.NoError(t, client.WriteString("client-1"))
	require.NoError(t, client.WriteString("binary"))
	require.NoError(t, client.WriteString("widgets"))
	require.NoError(t, client.WriteString("document"))
	require.NoError(t, client.WriteString("admin"))
	require.NoError(t, client.WriteString("admin"))
	require.NoError(t, client.Flush())
	_, err = client.ReadByte()
	require.NoError(t, err)
	_, err = client.ReadInt()
	require.NoError(t, err)
	sessionID, err := client.ReadInt()
	require.NoError(t, err)
	_, err = client.ReadString()
	require.NoError(t, err)

	// RECORD_CREATE populates the cache via Database.Save.
	done := make(chan error, 1)
	go func() { done <- d.HandleOne(server, 23) }()
	require.NoError(t, client.WriteByte(byte(OpRecordCreate)))
	require.NoError(t, client.WriteInt(sessionID))
	require.NoError(t, client.WriteInt(0))
	require.NoError(t, client.WriteShort(1))
	require.NoError(t, client.WriteBytes([]byte("payload")))
	require.NoError(t, client.WriteByte('d'))
	require.NoError(t, client.WriteByte(0))
	require.NoError(t, client.Flush())
	_, err = client.ReadByte()
	require.NoError(t, err)
	_, err = client.ReadInt()
	require.NoError(t, err)
	_, err = client.ReadClusterPosition()
	require.NoError(t, err)
	_, err = client.ReadVersion()
	require.NoError(t, err)
	_, err = client.ReadInt()
	require.NoError(t, err)
	require.NoError(t, <-done)

	db, ok := d.Database("widgets")
	require.True(t, ok)
	assert.Equal(t, 0, db.Cache.Len(), "cache must be cleared once the request that populated it completes")
}

func TestDispatcher_TxCommitStagesAndReplaysBufferedOperations(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t)
	client, server := pipe(t)

	// CONNECT
	go func() { _ = d.HandleOne(server, 23) }()
	require.NoError(t, client.WriteByte(byte(OpConnect)))
	require.NoError(t, client.WriteInt(0))
	require.NoError(t, client.WriteString("test-driver"))
	require.NoError(t, client.WriteString("1.0"))
	require.NoError(t, client.WriteShort(23))
	require.NoError(t, client.WriteString("client-1"))
	require.NoError(t, client.WriteString("binary"))
	require.NoError(t, client.Flush())
	_, err := client.ReadByte()
	require.NoError(t, err)
	_, err = client.ReadInt()
	require.NoError(t, err)
	_, err = client.ReadInt()
	require.NoError(t, err)

	// DB_OPEN
	go func() { _ = d.HandleOne(server, 23) }()
	require.NoError(t, client.WriteByte(byte(OpDBOpen)))
	require.NoError(t, client.WriteInt(0))
	require.NoError(t, client.WriteString("test-driver"))
	require.NoError(t, client.WriteString("1.0"))
	require.NoError(t, client.WriteShort(23))
	require.NoError(t, client.WriteString("client-1"))
	require.NoError(t, client.WriteString("binary"))
	require.NoError(t, client.WriteString("widgets"))
	require.NoError(t, client.WriteString("document"))
	require.NoError(t, client.WriteString("admin"))
	require.NoError(t, client.WriteString("admin"))
	require.NoError(t, client.Flush())
	_, err = client.ReadByte()
	require.NoError(t, err)
	_, err = client.ReadInt()
	require.NoError(t, err)
	sessionID, err := client.ReadInt()
	require.NoError(t, err)
	_, err = client.ReadString()
	require.NoError(t, err)

	// TX_COMMIT with a single buffered create, terminated by txOpEnd.
	go func() { _ = d.HandleOne(server, 23) }()
	require.NoError(t, client.WriteByte(byte(OpTxCommit)))
	require.NoError(t, client.WriteInt(sessionID))
	require.NoError(t, client.WriteByte(txOpCreated))
	require.NoError(t, client.WriteShort(1)) // cluster id
	require.NoError(t, client.WriteByte('d'))
	require.NoError(t, client.WriteBytes([]byte("tx-payload")))
	require.NoError(t, client.WriteByte(txOpEnd))
	require.NoError(t, client.Flush())

	status, err := client.ReadByte()
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, status)
	_, err = client.ReadInt()
	require.NoError(t, err)

	createdCount, err := client.ReadInt()
	require.NoError(t, err)
	require.Equal(t, int32(1), createdCount)
	_, err = client.ReadRID() // client rid
	require.NoError(t, err)
	serverRID, err := client.ReadRID()
	require.NoError(t, err)

	updatedCount, err := client.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, int32(0), updatedCount)
	_, err = client.ReadInt() // collection changes (proto >= 20)
	require.NoError(t, err)

	// RECORD_LOAD confirms the committed record actually reached storage.
	go func() { _ = d.HandleOne(server, 23) }()
	require.NoError(t, client.WriteByte(byte(OpRecordLoad)))
	require.NoError(t, client.WriteInt(sessionID))
	require.NoError(t, client.WriteRID(serverRID))
	require.NoError(t, client.WriteString(""))
	require.NoError(t, client.WriteByte(0))
	require.NoError(t, client.WriteByte(0))
	require.NoError(t, client.Flush())

	status, err = client.ReadByte()
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, status)
	_, err = client.ReadInt()
	require.NoError(t, err)
	present, err := client.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(1), present)
	body, err := client.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("tx-payload"), body)
}

func TestDispatcher_CountsRequestsAndErrorsByOpcode(t *testing.T) {
	t.Parallel()
	d, reg := testDispatcherWithRegistry(t)
	client, server := pipe(t)

	done := make(chan error, 1)
	go func() { done <- d.HandleOne(server, 24) }()

	require.NoError(t, client.WriteByte(250)) // unrecognized opcode
	require.NoError(t, client.WriteInt(0))
	require.NoError(t, client.Flush())

	_, err := client.ReadByte()
	require.NoError(t, err)
	require.NoError(t, <-done)

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawRequest, sawError bool
	for _, f := range families {
		switch f.GetName() {
		case "lucent_dispatcher_requests_total":
			sawRequest = true
			require.Len(t, f.Metric, 1)
			assert.Equal(t, float64(1), f.Metric[0].Counter.GetValue())
		case "lucent_dispatcher_request_errors_total":
			sawError = true
			require.Len(t, f.Metric, 1)
			assert.Equal(t, float64(1), f.Metric[0].Counter.GetValue())
		}
	}
	assert.True(t, sawRequest, "requests_total not found")
	assert.True(t, sawError, "request_errors_total not found")
}
