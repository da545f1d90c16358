package core

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// IDMUS is the MUS serializer for ID.
var IDMUS = idMUS{}

type idMUS struct{}

func (s idMUS) Marshal(v ID, bs []byte) (n int) {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (s idMUS) Unmarshal(bs []byte) (v ID, n int, err error) {
	tmp, n, err := varint.Uint64.Unmarshal(bs)
	return ID(tmp), n, err
}

func (s idMUS) Size(v ID) (size int) {
	return varint.Uint64.Size(uint64(v))
}

// RecordMUS is the MUS serializer for Record. Timestamps are stored as Unix
// microseconds, zero meaning unset.
var RecordMUS = recordMUS{}

type recordMUS struct{}

func (s recordMUS) Marshal(v Record, bs []byte) (n int) {
	n = IDMUS.Marshal(v.Id, bs)
	n += varint.Int64.Marshal(int64(v.Kind), bs[n:])
	n += ord.String.Marshal(v.Title, bs[n:])
	n += ord.String.Marshal(v.Threat, bs[n:])
	n += ord.String.Marshal(v.Vulnerability, bs[n:])
	n += ord.String.Marshal(v.Description, bs[n:])
	n += ord.String.Marshal(v.Objective, bs[n:])
	n += ord.String.Marshal(v.Guidance, bs[n:])
	n += ord.Bool.Marshal(v.Device != nil, bs[n:])
	if v.Device != nil {
		n += IDMUS.Marshal(v.Device.Id, bs[n:])
		n += ord.String.Marshal(v.Device.Name, bs[n:])
	}
	n += vectorMUS.Marshal(v.Vector, bs[n:])
	n += timeMUS.Marshal(v.InsertedAt, bs[n:])
	n += timeMUS.Marshal(v.UpdatedAt, bs[n:])
	return
}

func (s recordMUS) Unmarshal(bs []byte) (v Record, n int, err error) {
	var n1 int
	v.Id, n, err = IDMUS.Unmarshal(bs)
	if err != nil {
		return
	}
	var kind int64
	kind, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Kind = RecordKind(kind)
	for _, field := range []*string{&v.Title, &v.Threat, &v.Vulnerability, &v.Description, &v.Objective, &v.Guidance} {
		*field, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	var hasDevice bool
	hasDevice, n1, err = ord.Bool.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	if hasDevice {
		device := &Category{}
		device.Id, n1, err = IDMUS.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
		device.Name, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
		v.Device = device
	}
	v.Vector, n1, err = vectorMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.InsertedAt, n1, err = timeMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.UpdatedAt, n1, err = timeMUS.Unmarshal(bs[n:])
	n += n1
	return
}

func (s recordMUS) Size(v Record) (size int) {
	size = IDMUS.Size(v.Id)
	size += varint.Int64.Size(int64(v.Kind))
	size += ord.String.Size(v.Title)
	size += ord.String.Size(v.Threat)
	size += ord.String.Size(v.Vulnerability)
	size += ord.String.Size(v.Description)
	size += ord.String.Size(v.Objective)
	size += ord.String.Size(v.Guidance)
	size += ord.Bool.Size(v.Device != nil)
	if v.Device != nil {
		size += IDMUS.Size(v.Device.Id)
		size += ord.String.Size(v.Device.Name)
	}
	size += vectorMUS.Size(v.Vector)
	size += timeMUS.Size(v.InsertedAt)
	size += timeMUS.Size(v.UpdatedAt)
	return
}

var vectorMUS = float32SliceMUS{}

// float32SliceMUS writes a length prefix followed by raw float32 values.
// An empty or nil slice round-trips as nil.
type float32SliceMUS struct{}

func (s float32SliceMUS) Marshal(v []float32, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(len(v)), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return
}

func (s float32SliceMUS) Unmarshal(bs []byte) (v []float32, n int, err error) {
	length, n, err := varint.Uint64.Unmarshal(bs)
	if err != nil || length == 0 {
		return
	}
	v = make([]float32, length)
	var n1 int
	for i := range v {
		v[i], n1, err = raw.Float32.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

func (s float32SliceMUS) Size(v []float32) (size int) {
	size = varint.Uint64.Size(uint64(len(v)))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return
}

var timeMUS = unixMicroMUS{}

type unixMicroMUS struct{}

func (s unixMicroMUS) Marshal(v time.Time, bs []byte) (n int) {
	return varint.Int64.Marshal(toMicro(v), bs)
}

func (s unixMicroMUS) Unmarshal(bs []byte) (v time.Time, n int, err error) {
	micro, n, err := varint.Int64.Unmarshal(bs)
	if err != nil || micro == 0 {
		return
	}
	return time.UnixMicro(micro).UTC(), n, nil
}

func (s unixMicroMUS) Size(v time.Time) (size int) {
	return varint.Int64.Size(toMicro(v))
}

func toMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}
