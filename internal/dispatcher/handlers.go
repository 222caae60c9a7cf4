// handlers.go — Concrete handlers for the representative opcode set
// named in §6: CONNECT, DB_OPEN, RECORD_LOAD, RECORD_CREATE,
// RECORD_UPDATE, RECORD_DELETE, TX_COMMIT, DB_CLOSE, SHUTDOWN.
package dispatcher

import (
	"fmt"

	"github.com/lucentgraph/lucent/internal/database"
	"github.com/lucentgraph/lucent/internal/security"
	"github.com/lucentgraph/lucent/internal/session"
	"github.com/lucentgraph/lucent/internal/storage"
	"github.com/lucentgraph/lucent/internal/wire"
)

func registerBuiltinHandlers(d *Dispatcher) {
	d.register(OpConnect, handleConnect)
	d.register(OpDBOpen, handleDBOpen)
	d.register(OpDBClose, handleDBClose)
	d.register(OpRecordLoad, handleRecordLoad)
	d.register(OpRecordCreate, handleRecordCreate)
	d.register(OpRecordUpdate, handleRecordUpdate)
	d.register(OpRecordDelete, handleRecordDelete)
	d.register(OpRecordHide, handleRecordHide)
	d.register(OpTxCommit, handleTxCommit)
	d.register(OpShutdown, handleShutdown)
}

// handleConnect reads driver metadata and mints a bare session with no
// bound database, used by clients that open a database in a separate
// follow-up request.
func handleConnect(d *Dispatcher, conn *wire.Conn, _ *session.Session, protocolVersion int) (BodyWriter, error) {
	if _, err := conn.ReadString(); err != nil { // driver name
		return nil, fmt.Errorf("connect: read driver name: %w", err)
	}
	if _, err := conn.ReadString(); err != nil { // driver version
		return nil, fmt.Errorf("connect: read driver version: %w", err)
	}
	clientProto, err := conn.ReadShort()
	if err != nil {
		return nil, fmt.Errorf("connect: read protocol version: %w", err)
	}
	if _, err := conn.ReadString(); err != nil { // client id
		return nil, fmt.Errorf("connect: read client id: %w", err)
	}
	serializerName := ""
	if protocolVersion > MinProtoSerializerName {
		serializerName, err = conn.ReadString()
		if err != nil {
			return nil, fmt.Errorf("connect: read serializer name: %w", err)
		}
	}

	sess := d.Sessions.Open(int(clientProto), serializerName)
	return func(conn *wire.Conn) error {
		return conn.WriteInt(sess.ID)
	}, nil
}

// handleDBOpen implements §4.4 open(): authenticates, opens storage
// (wiring the admin-repair listener only if the dispatcher opted in),
// and registers the database for subsequent requests.
func handleDBOpen(d *Dispatcher, conn *wire.Conn, _ *session.Session, protocolVersion int) (BodyWriter, error) {
	if _, err := conn.ReadString(); err != nil { // driver name
		return nil, fmt.Errorf("db open: read driver name: %w", err)
	}
	if _, err := conn.ReadString(); err != nil { // driver version
		return nil, fmt.Errorf("db open: read driver version: %w", err)
	}
	clientProto, err := conn.ReadShort()
	if err != nil {
		return nil, fmt.Errorf("db open: read protocol version: %w", err)
	}
	if _, err := conn.ReadString(); err != nil { // client id
		return nil, fmt.Errorf("db open: read client id: %w", err)
	}
	if protocolVersion > MinProtoSerializerName {
		if _, err := conn.ReadString(); err != nil { // serializer name
			return nil, fmt.Errorf("db open: read serializer name: %w", err)
		}
	}
	dbName, err := conn.ReadString()
	if err != nil {
		return nil, fmt.Errorf("db open: read db name: %w", err)
	}
	if protocolVersion >= MinProtoDBType {
		if _, err := conn.ReadString(); err != nil { // db type
			return nil, fmt.Errorf("db open: read db type: %w", err)
		}
	}
	username, err := conn.ReadString()
	if err != nil {
		return nil, fmt.Errorf("db open: read username: %w", err)
	}
	password, err := conn.ReadString()
	if err != nil {
		return nil, fmt.Errorf("db open: read password: %w", err)
	}

	user, err := d.LookupUser(dbName, username, password)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	db, ok := d.Database(dbName)
	if !ok {
		store, err := d.OpenStorage(dbName)
		if err != nil {
			return nil, fmt.Errorf("db open: open storage: %w", err)
		}
		var repairListeners []database.RepairListener
		if d.RepairOnEmptyRoles {
			repairListeners = append(repairListeners, security.RepairAdminOnEmptyRoles)
		}
		db, err = database.Open(dbName, store, user, d.CacheSize, d.MVCC, repairListeners...)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		d.RegisterDatabase(dbName, db)
	}

	sess := d.Sessions.Open(int(clientProto), "")
	sess.BindDatabase(dbName)
	sess.Username = username

	return func(conn *wire.Conn) error {
		if err := conn.WriteInt(sess.ID); err != nil {
			return err
		}
		if protocolVersion >= MinProtoServerVersionString {
			if err := conn.WriteString("lucentd"); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func handleDBClose(d *Dispatcher, _ *wire.Conn, sess *session.Session, _ int) (BodyWriter, error) {
	if sess == nil {
		return func(conn *wire.Conn) error { return nil }, nil
	}
	d.Sessions.Close(sess.ID)
	return func(conn *wire.Conn) error { return nil }, nil
}

func handleShutdown(d *Dispatcher, _ *wire.Conn, sess *session.Session, _ int) (BodyWriter, error) {
	if sess != nil {
		d.Sessions.Close(sess.ID)
	}
	return func(conn *wire.Conn) error { return nil }, nil
}

func boundDatabase(d *Dispatcher, sess *session.Session) (*database.Database, error) {
	if sess == nil {
		return nil, fmt.Errorf("no session bound")
	}
	name := sess.BoundDatabase()
	if name == "" {
		return nil, fmt.Errorf("session %d has no bound database", sess.ID)
	}
	db, ok := d.Database(name)
	if !ok {
		return nil, fmt.Errorf("database %q not open", name)
	}
	return db, nil
}

func handleRecordLoad(d *Dispatcher, conn *wire.Conn, sess *session.Session, protocolVersion int) (BodyWriter, error) {
	db, err := boundDatabase(d, sess)
	if err != nil {
		return nil, err
	}

	rid, err := conn.ReadRID()
	if err != nil {
		return nil, fmt.Errorf("record load: read rid: %w", err)
	}
	fetchPlan, err := conn.ReadString()
	if err != nil {
		return nil, fmt.Errorf("record load: read fetch plan: %w", err)
	}
	ignoreCache := false
	if protocolVersion >= MinProtoIgnoreCache {
		b, err := conn.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("record load: read ignore cache: %w", err)
		}
		ignoreCache = b != 0
	}
	loadTombstones := false
	if protocolVersion >= MinProtoLoadTombstones {
		b, err := conn.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("record load: read load tombstones: %w", err)
		}
		loadTombstones = b != 0
	}

	record, err := db.Load(rid, fetchPlan, ignoreCache, loadTombstones, database.LockNone)
	if err != nil {
		return nil, fmt.Errorf("record load: %w", err)
	}

	return func(conn *wire.Conn) error {
		if record == nil {
			return conn.WriteByte(0)
		}
		if err := conn.WriteByte(1); err != nil {
			return err
		}
		if err := conn.WriteBytes(record.Bytes); err != nil {
			return err
		}
		if err := conn.WriteVersion(record.Version); err != nil {
			return err
		}
		if err := conn.WriteByte(byte(record.Type)); err != nil {
			return err
		}
		return conn.WriteByte(0)
	}, nil
}

func handleRecordCreate(d *Dispatcher, conn *wire.Conn, sess *session.Session, protocolVersion int) (BodyWriter, error) {
	db, err := boundDatabase(d, sess)
	if err != nil {
		return nil, err
	}

	if protocolVersion >= MinProtoDataSegmentID && protocolVersion < MaxProtoDataSegmentID {
		if _, err := conn.ReadInt(); err != nil { // data segment id
			return nil, fmt.Errorf("record create: read data segment id: %w", err)
		}
	}
	clusterID, err := conn.ReadShort()
	if err != nil {
		return nil, fmt.Errorf("record create: read cluster id: %w", err)
	}
	bytes, err := conn.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("record create: read bytes: %w", err)
	}
	typeByte, err := conn.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("record create: read type: %w", err)
	}
	if _, err := conn.ReadByte(); err != nil { // mode
		return nil, fmt.Errorf("record create: read mode: %w", err)
	}

	record := wire.NewRecord(wire.RecordType(typeByte), bytes)
	if err := db.Save(record, &clusterID, storage.ModeSynchronous, true, nil, nil); err != nil {
		return nil, fmt.Errorf("record create: %w", err)
	}

	return func(conn *wire.Conn) error {
		if err := conn.WriteClusterPosition(record.RID.ClusterPosition); err != nil {
			return err
		}
		if protocolVersion >= MinProtoRecordVersionOnCreate {
			if err := conn.WriteVersion(record.Version); err != nil {
				return err
			}
		}
		if protocolVersion >= MinProtoCollectionChanges {
			if err := conn.WriteInt(0); err != nil { // no collection changes tracked here
				return err
			}
		}
		return nil
	}, nil
}

func handleRecordUpdate(d *Dispatcher, conn *wire.Conn, sess *session.Session, protocolVersion int) (BodyWriter, error) {
	db, err := boundDatabase(d, sess)
	if err != nil {
		return nil, err
	}

	rid, err := conn.ReadRID()
	if err != nil {
		return nil, fmt.Errorf("record update: read rid: %w", err)
	}
	if protocolVersion >= MinProtoUpdateContentFlag {
		if _, err := conn.ReadByte(); err != nil { // updateContent
			return nil, fmt.Errorf("record update: read update content flag: %w", err)
		}
	}
	bytes, err := conn.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("record update: read bytes: %w", err)
	}
	version, err := conn.ReadVersion()
	if err != nil {
		return nil, fmt.Errorf("record update: read version: %w", err)
	}
	typeByte, err := conn.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("record update: read type: %w", err)
	}
	if _, err := conn.ReadByte(); err != nil { // mode
		return nil, fmt.Errorf("record update: read mode: %w", err)
	}

	record := &wire.Record{RID: rid, Version: version, Type: wire.RecordType(typeByte), Bytes: bytes, Dirty: true}
	if err := db.Save(record, nil, storage.ModeSynchronous, false, nil, nil); err != nil {
		return nil, fmt.Errorf("record update: %w", err)
	}

	return func(conn *wire.Conn) error {
		if err := conn.WriteVersion(record.Version); err != nil {
			return err
		}
		if protocolVersion >= MinProtoCollectionChanges {
			if err := conn.WriteInt(0); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func handleRecordDelete(d *Dispatcher, conn *wire.Conn, sess *session.Session, _ int) (BodyWriter, error) {
	db, err := boundDatabase(d, sess)
	if err != nil {
		return nil, err
	}

	rid, err := conn.ReadRID()
	if err != nil {
		return nil, fmt.Errorf("record delete: read rid: %w", err)
	}
	version, err := conn.ReadVersion()
	if err != nil {
		return nil, fmt.Errorf("record delete: read version: %w", err)
	}
	modeByte, err := conn.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("record delete: read mode: %w", err)
	}

	if err := db.Delete(rid, version, true, true, storage.Mode(modeByte), false); err != nil {
		return nil, fmt.Errorf("record delete: %w", err)
	}

	return func(conn *wire.Conn) error {
		return conn.WriteByte(1)
	}, nil
}

func handleRecordHide(d *Dispatcher, conn *wire.Conn, sess *session.Session, _ int) (BodyWriter, error) {
	db, err := boundDatabase(d, sess)
	if err != nil {
		return nil, err
	}

	rid, err := conn.ReadRID()
	if err != nil {
		return nil, fmt.Errorf("record hide: read rid: %w", err)
	}

	if err := db.Hide(rid, storage.ModeSynchronous); err != nil {
		return nil, fmt.Errorf("record hide: %w", err)
	}

	return func(conn *wire.Conn) error {
		return conn.WriteByte(1)
	}, nil
}

// txOpCreated, txOpUpdated and txOpDeleted tag each buffered operation
// carried in a TX_COMMIT body. txOpEnd terminates the sequence.
const (
	txOpEnd = iota
	txOpCreated
	txOpUpdated
	txOpDeleted
)

func handleTxCommit(d *Dispatcher, conn *wire.Conn, sess *session.Session, protocolVersion int) (BodyWriter, error) {
	db, err := boundDatabase(d, sess)
	if err != nil {
		return nil, err
	}

	db.BeginTx()
	tx := db.TxBuffer()

	for {
		opType, err := conn.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("tx commit: read op type: %w", err)
		}
		if opType == txOpEnd {
			break
		}

		switch opType {
		case txOpCreated:
			clusterID, err := conn.ReadShort()
			if err != nil {
				return nil, fmt.Errorf("tx commit: read created cluster id: %w", err)
			}
			typeByte, err := conn.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("tx commit: read created type: %w", err)
			}
			bytes, err := conn.ReadBytes()
			if err != nil {
				return nil, fmt.Errorf("tx commit: read created bytes: %w", err)
			}
			record := wire.NewRecord(wire.RecordType(typeByte), bytes)
			record.RID.ClusterID = clusterID
			tx.Create(record)

		case txOpUpdated:
			rid, err := conn.ReadRID()
			if err != nil {
				return nil, fmt.Errorf("tx commit: read updated rid: %w", err)
			}
			version, err := conn.ReadVersion()
			if err != nil {
				return nil, fmt.Errorf("tx commit: read updated version: %w", err)
			}
			typeByte, err := conn.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("tx commit: read updated type: %w", err)
			}
			bytes, err := conn.ReadBytes()
			if err != nil {
				return nil, fmt.Errorf("tx commit: read updated bytes: %w", err)
			}
			tx.Update(&wire.Record{RID: rid, Version: version, Type: wire.RecordType(typeByte), Bytes: bytes, Dirty: true})

		case txOpDeleted:
			rid, err := conn.ReadRID()
			if err != nil {
				return nil, fmt.Errorf("tx commit: read deleted rid: %w", err)
			}
			if _, err := conn.ReadVersion(); err != nil { // version: read and discarded; the buffered delete carries none
				return nil, fmt.Errorf("tx commit: read deleted version: %w", err)
			}
			tx.Delete(rid)

		default:
			return nil, fmt.Errorf("tx commit: unknown op type %d", opType)
		}
	}

	result, err := db.Commit()
	if err != nil {
		return nil, fmt.Errorf("tx commit: %w", err)
	}

	return func(conn *wire.Conn) error {
		if err := conn.WriteInt(int32(len(result.CreatedIdentities))); err != nil {
			return err
		}
		for _, pair := range result.CreatedIdentities {
			if err := conn.WriteRID(pair.ClientRID); err != nil {
				return err
			}
			if err := conn.WriteRID(pair.ServerRID); err != nil {
				return err
			}
		}
		if err := conn.WriteInt(int32(len(result.UpdatedVersions))); err != nil {
			return err
		}
		for _, pair := range result.UpdatedVersions {
			if err := conn.WriteRID(pair.RID); err != nil {
				return err
			}
			if err := conn.WriteVersion(pair.Version); err != nil {
				return err
			}
		}
		if protocolVersion >= MinProtoCollectionChanges {
			return conn.WriteInt(int32(len(result.CollectionChanges)))
		}
		return nil
	}, nil
}
