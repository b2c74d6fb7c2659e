package testserver

import (
	"github.com/vkolb/tntgo/buffer"
	"github.com/vkolb/tntgo/msgpack"
)

// encodeOK writes a successful response: header (request type 0,
// sync, schema version) plus a body carrying rows under keyData.
func encodeOK(buf *buffer.Buffer, sync, schemaVersion uint64, rows [][]any) {
	e := msgpack.NewEncoder(buf)
	sizeIt := e.Reserve(sizePrefixLen)
	defer sizeIt.Close()

	bodyBegin, bodyEnd := e.Track(func() {
		e.EncodeMapHeader(3)
		e.EncodeUint(keyRequestType)
		e.EncodeUint(0)
		e.EncodeUint(keySync)
		e.EncodeUint(sync)
		e.EncodeUint(keySchemaVersion)
		e.EncodeUint(schemaVersion)

		e.EncodeMapHeader(1)
		e.EncodeUint(keyData)
		e.EncodeArrayHeader(len(rows))
		for _, row := range rows {
			_ = e.EncodeAny(row)
		}
	})
	defer bodyBegin.Close()
	defer bodyEnd.Close()

	patchSize(buf, sizeIt, bodyEnd)
}

// encodeError writes a failure response: header's request type carries
// the IPROTO_TYPE_ERROR flag (0x8000) ORed with code, and the body's
// error stack (keyError) holds one frame per message in msgs.
func encodeError(buf *buffer.Buffer, sync uint64, code uint32, msgs []string) {
	e := msgpack.NewEncoder(buf)
	sizeIt := e.Reserve(sizePrefixLen)
	defer sizeIt.Close()

	const errorFlag = 0x8000
	bodyBegin, bodyEnd := e.Track(func() {
		e.EncodeMapHeader(2)
		e.EncodeUint(keyRequestType)
		e.EncodeUint(uint64(code)|errorFlag)
		e.EncodeUint(keySync)
		e.EncodeUint(sync)

		e.EncodeMapHeader(1)
		e.EncodeUint(keyError)
		e.EncodeArrayHeader(len(msgs))
		for _, msg := range msgs {
			e.EncodeMapHeader(2)
			e.EncodeUint(keyErrMessage)
			e.EncodeString(msg)
			e.EncodeUint(keyErrErrCode)
			e.EncodeUint(uint64(code))
		}
	})
	defer bodyBegin.Close()
	defer bodyEnd.Close()

	patchSize(buf, sizeIt, bodyEnd)
}

func patchSize(buf *buffer.Buffer, sizeIt, bodyEnd *buffer.Iterator) {
	afterPrefix := buf.Clone(sizeIt)
	afterPrefix.Advance(sizePrefixLen)
	size := uint32(buf.Distance(afterPrefix, bodyEnd))
	afterPrefix.Close()

	patch := []byte{sizeTag, byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size)}
	buf.Set(sizeIt, patch)
}
