// opcodes.go — Wire opcode constants and the minimum protocol version
// gating each optional field, mirroring §6's version-gating table.
package dispatcher

// Opcode identifies the operation a request frame carries.
type Opcode byte

// opcodeNames labels every opcode this build recognizes for the
// requests_total/request_errors_total metric label, keeping cardinality
// bounded to the fixed opcode set rather than raw byte values.
var opcodeNames = map[Opcode]string{
	OpConnect:                     "CONNECT",
	OpDBOpen:                      "DB_OPEN",
	OpDBCreate:                    "DB_CREATE",
	OpDBClose:                     "DB_CLOSE",
	OpDBDrop:                      "DB_DROP",
	OpDBExist:                     "DB_EXIST",
	OpDBSize:                      "DB_SIZE",
	OpDBCount:                     "DB_COUNT",
	OpDBReload:                    "DB_RELOAD",
	OpDataClusterAdd:              "DATACLUSTER_ADD",
	OpDataClusterDrop:             "DATACLUSTER_DROP",
	OpDataClusterCount:            "DATACLUSTER_COUNT",
	OpDataClusterRange:            "DATACLUSTER_RANGE",
	OpDataClusterFreeze:           "DATACLUSTER_FREEZE",
	OpDataClusterRelease:          "DATACLUSTER_RELEASE",
	OpRecordLoad:                  "RECORD_LOAD",
	OpRecordMetadata:              "RECORD_METADATA",
	OpRecordCreate:                "RECORD_CREATE",
	OpRecordUpdate:                "RECORD_UPDATE",
	OpRecordDelete:                "RECORD_DELETE",
	OpRecordHide:                  "RECORD_HIDE",
	OpRecordCleanOut:              "RECORD_CLEAN_OUT",
	OpPositionsHigher:             "POSITIONS_HIGHER",
	OpPositionsCeiling:            "POSITIONS_CEILING",
	OpPositionsLower:              "POSITIONS_LOWER",
	OpPositionsFloor:              "POSITIONS_FLOOR",
	OpCommand:                     "COMMAND",
	OpTxCommit:                    "TX_COMMIT",
	OpConfigGet:                   "CONFIG_GET",
	OpConfigSet:                   "CONFIG_SET",
	OpConfigList:                  "CONFIG_LIST",
	OpDBFreeze:                    "DB_FREEZE",
	OpDBRelease:                   "DB_RELEASE",
	OpReplication:                 "REPLICATION",
	OpCluster:                     "CLUSTER",
	OpShutdown:                    "SHUTDOWN",
	OpSBTreeBonsaiCreate:          "SBTREE_BONSAI_CREATE",
	OpSBTreeBonsaiGet:             "SBTREE_BONSAI_GET",
	OpSBTreeBonsaiFirstKey:        "SBTREE_BONSAI_FIRST_KEY",
	OpSBTreeBonsaiGetEntriesMajor: "SBTREE_BONSAI_GET_ENTRIES_MAJOR",
	OpRidBagGetSize:               "RIDBAG_GET_SIZE",
}

// String returns the opcode's protocol name, or "UNKNOWN" for a byte
// value outside the known opcode set.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}

// opcodeName is String as a free function, convenient at call sites
// that only have the metric label in mind.
func opcodeName(o Opcode) string { return o.String() }

const (
	OpConnect Opcode = iota + 1
	OpDBOpen
	OpDBCreate
	OpDBClose
	OpDBDrop
	OpDBExist
	OpDBSize
	OpDBCount
	OpDBReload
	OpDataClusterAdd
	OpDataClusterDrop
	OpDataClusterCount
	OpDataClusterRange
	OpDataClusterFreeze
	OpDataClusterRelease
	OpRecordLoad
	OpRecordMetadata
	OpRecordCreate
	OpRecordUpdate
	OpRecordDelete
	OpRecordHide
	OpRecordCleanOut
	OpPositionsHigher
	OpPositionsCeiling
	OpPositionsLower
	OpPositionsFloor
	OpCommand
	OpTxCommit
	OpConfigGet
	OpConfigSet
	OpConfigList
	OpDBFreeze
	OpDBRelease
	OpReplication
	OpCluster
	OpShutdown
	OpSBTreeBonsaiCreate
	OpSBTreeBonsaiGet
	OpSBTreeBonsaiFirstKey
	OpSBTreeBonsaiGetEntriesMajor
	OpRidBagGetSize
)

// Version gating minimums named in §6: a handler must only read or
// write the gated field when the session's negotiated protocol version
// is >= the given minimum.
const (
	MinProtoIgnoreCache            = 9
	MinProtoLoadTombstones         = 13
	MinProtoRecordVersionOnCreate  = 11
	MinProtoCollectionChanges      = 20
	MinProtoUpdateContentFlag      = 23
	MinProtoSerializerName         = 21 // field present only for proto > 21
	MinProtoExceptionBlob          = 19
	MinProtoDBType                 = 8
	MinProtoServerVersionString    = 14
	MinProtoDataSegmentID          = 10
	MaxProtoDataSegmentID          = 24 // field present for 10 <= proto < 24
)
