package queue

import (
	"encoding/binary"
	"errors"
)

// Key prefixes for the queue keyspace
const (
	prefixQueue     = "rq/"
	prefixRec       = "rq/rec/"  // record data by id
	prefixTenantIdx = "rq/tidx/" // pending records by tenant, ordered by (ts, seq)
	prefixStatusIdx = "rq/sidx/" // records by synced flag
	keyMetaSeq      = "rq/meta/seq"
)

// recKey returns the record key.
// Format: rq/rec/{id}
func recKey(id string) []byte {
	key := make([]byte, 0, len(prefixRec)+len(id))
	key = append(key, prefixRec...)
	return append(key, id...)
}

// tenantPrefix returns the tenant index prefix. The tenant is length-prefixed
// so that "a" never prefixes the keys of "a/b".
// Format: rq/tidx/{len_be2}{tenant}/
func tenantPrefix(tenantID string) []byte {
	key := make([]byte, 0, len(prefixTenantIdx)+2+len(tenantID)+1)
	key = append(key, prefixTenantIdx...)
	key = binary.BigEndian.AppendUint16(key, uint16(len(tenantID)))
	key = append(key, tenantID...)
	return append(key, '/')
}

// tenantIdxKey returns the tenant index key for one record.
// Format: rq/tidx/{len_be2}{tenant}/{ts_be8}{seq_be8}
func tenantIdxKey(tenantID string, ts int64, seq uint64) []byte {
	key := tenantPrefix(tenantID)
	key = binary.BigEndian.AppendUint64(key, uint64(ts))
	return binary.BigEndian.AppendUint64(key, seq)
}

// statusIdxKey returns the status index key.
// Format: rq/sidx/{0|1}/{id}
func statusIdxKey(synced bool, id string) []byte {
	flag := byte('0')
	if synced {
		flag = '1'
	}
	key := make([]byte, 0, len(prefixStatusIdx)+2+len(id))
	key = append(key, prefixStatusIdx...)
	key = append(key, flag, '/')
	return append(key, id...)
}

// statusPrefix returns the status index prefix for one flag value.
func statusPrefix(synced bool) []byte {
	return statusIdxKey(synced, "")
}

var errBadIndexKey = errors.New("queue: malformed tenant index key")

// parseTenantIdxKey splits a tenant index key into tenant, ts and seq.
func parseTenantIdxKey(key []byte) (string, int64, uint64, error) {
	if len(key) < len(prefixTenantIdx)+2 {
		return "", 0, 0, errBadIndexKey
	}
	rest := key[len(prefixTenantIdx):]
	n := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) != n+1+16 || rest[n] != '/' {
		return "", 0, 0, errBadIndexKey
	}
	tenantID := string(rest[:n])
	ts := int64(binary.BigEndian.Uint64(rest[n+1 : n+9]))
	seq := binary.BigEndian.Uint64(rest[n+9:])
	return tenantID, ts, seq, nil
}
