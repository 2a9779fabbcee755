package journal

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ErrCorruptRecord is returned when a stored record fails its checksum or
// cannot be parsed
var ErrCorruptRecord = errors.New("corrupt journal record")

// Record describes one finished collection pass
type Record struct {
	Seq           uint64
	Time          time.Time
	Generation    int
	Collected     int
	Uncollectable int
	Elapsed       time.Duration
}

// recordFile describes the stored message:
//
//	message Record {
//	  uint64 seq = 1;
//	  int64 time_unix_nano = 2;
//	  int64 generation = 3;
//	  int64 collected = 4;
//	  int64 uncollectable = 5;
//	  int64 elapsed_nanos = 6;
//	}
var recordFile = &descriptorpb.FileDescriptorProto{
	Name:    proto.String("cyclegc/journal/record.proto"),
	Package: proto.String("cyclegc.journal"),
	Syntax:  proto.String("proto3"),
	MessageType: []*descriptorpb.DescriptorProto{{
		Name: proto.String("Record"),
		Field: []*descriptorpb.FieldDescriptorProto{
			recordField("seq", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
			recordField("time_unix_nano", 2, descriptorpb.FieldDescriptorProto_TYPE_INT64),
			recordField("generation", 3, descriptorpb.FieldDescriptorProto_TYPE_INT64),
			recordField("collected", 4, descriptorpb.FieldDescriptorProto_TYPE_INT64),
			recordField("uncollectable", 5, descriptorpb.FieldDescriptorProto_TYPE_INT64),
			recordField("elapsed_nanos", 6, descriptorpb.FieldDescriptorProto_TYPE_INT64),
		},
	}},
}

func recordField(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

var (
	recordDesc   = mustRecordDesc()
	recordFields = recordDesc.Fields()

	fieldSeq           = recordFields.ByNumber(1)
	fieldTime          = recordFields.ByNumber(2)
	fieldGeneration    = recordFields.ByNumber(3)
	fieldCollected     = recordFields.ByNumber(4)
	fieldUncollectable = recordFields.ByNumber(5)
	fieldElapsed       = recordFields.ByNumber(6)
)

func mustRecordDesc() protoreflect.MessageDescriptor {
	fd, err := protodesc.NewFile(recordFile, nil)
	if err != nil {
		panic(errors.Wrap(err, "journal record descriptor"))
	}
	return fd.Messages().ByName("Record")
}

// encoding: [crc32:4][protobuf body]
func encodeRecord(r Record) []byte {
	m := dynamicpb.NewMessage(recordDesc)
	m.Set(fieldSeq, protoreflect.ValueOfUint64(r.Seq))
	m.Set(fieldTime, protoreflect.ValueOfInt64(r.Time.UnixNano()))
	m.Set(fieldGeneration, protoreflect.ValueOfInt64(int64(r.Generation)))
	m.Set(fieldCollected, protoreflect.ValueOfInt64(int64(r.Collected)))
	m.Set(fieldUncollectable, protoreflect.ValueOfInt64(int64(r.Uncollectable)))
	m.Set(fieldElapsed, protoreflect.ValueOfInt64(int64(r.Elapsed)))

	body, err := proto.MarshalOptions{Deterministic: true}.Marshal(m)
	if err != nil {
		// every field is a scalar, so marshalling cannot fail
		panic(errors.Wrap(err, "marshal journal record"))
	}
	return frame(body)
}

func frame(body []byte) []byte {
	out := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(out, crc32.ChecksumIEEE(body))
	return append(out, body...)
}

func decodeRecord(data []byte) (Record, error) {
	if len(data) < 4 {
		return Record{}, ErrCorruptRecord
	}
	body := data[4:]
	if binary.LittleEndian.Uint32(data[:4]) != crc32.ChecksumIEEE(body) {
		return Record{}, ErrCorruptRecord
	}

	m := dynamicpb.NewMessage(recordDesc)
	if err := proto.Unmarshal(body, m); err != nil {
		return Record{}, errors.Mark(err, ErrCorruptRecord)
	}
	return Record{
		Seq:           m.Get(fieldSeq).Uint(),
		Time:          time.Unix(0, m.Get(fieldTime).Int()),
		Generation:    int(m.Get(fieldGeneration).Int()),
		Collected:     int(m.Get(fieldCollected).Int()),
		Uncollectable: int(m.Get(fieldUncollectable).Int()),
		Elapsed:       time.Duration(m.Get(fieldElapsed).Int()),
	}, nil
}
