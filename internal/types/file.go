package types

import (
	"crypto/md5"
	"encoding/hex"
	"reflect"
	"strconv"
)

// HashableFileStruct derives a stable dedupe key from a file's
// user-visible identity (name, size, mime type, and the upstream's
// numeric file id). Telegram's MTProto documents carry no "unique id"
// the way the Bot API does; Pack() stands in for one so the ingest
// path can recognize a file it has already archived.
type HashableFileStruct struct {
	FileName string
	FileSize int64
	MimeType string
	FileID   int64
}

func (f *HashableFileStruct) Pack() string {
	hasher := md5.New()
	val := reflect.ValueOf(*f)
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)

		var fieldValue []byte
		switch field.Kind() {
		case reflect.String:
			fieldValue = []byte(field.String())
		case reflect.Int64:
			fieldValue = []byte(strconv.FormatInt(field.Int(), 10))
		}

		hasher.Write(fieldValue)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
