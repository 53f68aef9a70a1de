// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/lodestone/core"
)

// MarshalUint64 serializes a counter to bytes.
func MarshalUint64(v uint64) []byte {
	buf := make([]byte, varint.Uint64.Size(v))
	varint.Uint64.Marshal(v, buf)
	return buf
}

// UnmarshalUint64 deserializes a counter from bytes.
func UnmarshalUint64(data []byte) (uint64, error) {
	v, _, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return v, nil
}

// MarshalRecord serializes a Record to bytes.
func MarshalRecord(record *core.Record) []byte {
	buf := make([]byte, recordMUS.Size(*record))
	recordMUS.Marshal(*record, buf)
	return buf
}

// UnmarshalRecord deserializes a Record from bytes.
func UnmarshalRecord(data []byte) (*core.Record, error) {
	record, _, err := recordMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &record, nil
}

// MarshalCollection serializes a Collection to bytes.
func MarshalCollection(collection *core.Collection) []byte {
	buf := make([]byte, collectionMUS.Size(*collection))
	collectionMUS.Marshal(*collection, buf)
	return buf
}

// UnmarshalCollection deserializes a Collection from bytes.
func UnmarshalCollection(data []byte) (*core.Collection, error) {
	collection, _, err := collectionMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &collection, nil
}

// MarshalManifest serializes a SnapshotManifest to bytes.
func MarshalManifest(m *SnapshotManifest) []byte {
	buf := make([]byte, manifestMUS.Size(*m))
	manifestMUS.Marshal(*m, buf)
	return buf
}

// UnmarshalManifest deserializes a SnapshotManifest from bytes.
func UnmarshalManifest(data []byte) (*SnapshotManifest, error) {
	m, _, err := manifestMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &m, nil
}

// timeSer encodes times as UnixMicro; the zero time round-trips as 0.
type timeSer struct{}

var timeMUS = timeSer{}

func (timeSer) Marshal(t time.Time, bs []byte) int {
	return varint.Int64.Marshal(unixMicro(t), bs)
}

func (timeSer) Unmarshal(bs []byte) (time.Time, int, error) {
	v, n, err := varint.Int64.Unmarshal(bs)
	if err != nil || v == 0 {
		return time.Time{}, n, err
	}
	return time.UnixMicro(v).UTC(), n, nil
}

func (timeSer) Size(t time.Time) int {
	return varint.Int64.Size(unixMicro(t))
}

func unixMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// float32SliceSer writes a length prefix followed by fixed-width floats.
type float32SliceSer struct{}

var float32SliceMUS = float32SliceSer{}

func (float32SliceSer) Marshal(v []float32, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

func (float32SliceSer) Unmarshal(bs []byte) (v []float32, n int, err error) {
	length, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if length < 0 || length*4 > len(bs)-n {
		return nil, n, ErrTruncatedData
	}
	if length == 0 {
		return nil, n, nil
	}
	v = make([]float32, length)
	for i := range v {
		f, n1, err := raw.Float32.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
		v[i] = f
	}
	return v, n, nil
}

func (float32SliceSer) Size(v []float32) (size int) {
	size = varint.Int.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return size
}

type stringSliceSer struct{}

var stringSliceMUS = stringSliceSer{}

func (stringSliceSer) Marshal(v []string, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, s := range v {
		n += ord.String.Marshal(s, bs[n:])
	}
	return n
}

func (stringSliceSer) Unmarshal(bs []byte) (v []string, n int, err error) {
	length, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	// every string carries at least a one byte length prefix
	if length < 0 || length > len(bs)-n {
		return nil, n, ErrTruncatedData
	}
	if length == 0 {
		return nil, n, nil
	}
	v = make([]string, length)
	for i := range v {
		s, n1, err := ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
		v[i] = s
	}
	return v, n, nil
}

func (stringSliceSer) Size(v []string) (size int) {
	size = varint.Int.Size(len(v))
	for _, s := range v {
		size += ord.String.Size(s)
	}
	return size
}

type recordSer struct{}

var recordMUS = recordSer{}

func (recordSer) Marshal(v core.Record, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(v.Id), bs)
	n += ord.String.Marshal(string(v.Scope), bs[n:])
	n += ord.String.Marshal(v.Content, bs[n:])
	n += float32SliceMUS.Marshal(v.Vector, bs[n:])
	n += stringSliceMUS.Marshal(v.Tokens, bs[n:])
	n += varint.Uint64.Marshal(v.ContentHash, bs[n:])
	n += timeMUS.Marshal(v.CreatedAt, bs[n:])
	n += timeMUS.Marshal(v.UpdatedAt, bs[n:])
	return n
}

func (recordSer) Unmarshal(bs []byte) (v core.Record, n int, err error) {
	var n1 int
	id, n, err := varint.Uint64.Unmarshal(bs)
	if err != nil {
		return v, n, err
	}
	v.Id = core.ID(id)
	scope, n1, err := ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return v, n, err
	}
	v.Scope = core.ScopeID(scope)
	if v.Content, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Vector, n1, err = float32SliceMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Tokens, n1, err = stringSliceMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.ContentHash, n1, err = varint.Uint64.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.CreatedAt, n1, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	v.UpdatedAt, n1, err = timeMUS.Unmarshal(bs[n:])
	return v, n + n1, err
}

func (recordSer) Size(v core.Record) (size int) {
	size = varint.Uint64.Size(uint64(v.Id))
	size += ord.String.Size(string(v.Scope))
	size += ord.String.Size(v.Content)
	size += float32SliceMUS.Size(v.Vector)
	size += stringSliceMUS.Size(v.Tokens)
	size += varint.Uint64.Size(v.ContentHash)
	size += timeMUS.Size(v.CreatedAt)
	size += timeMUS.Size(v.UpdatedAt)
	return size
}

type collectionSer struct{}

var collectionMUS = collectionSer{}

func (collectionSer) ints(v core.Collection) []int {
	return []int{
		v.Dimension, int(v.Metric), int(v.Variant),
		v.Graph.M, v.Graph.EfConstruction, v.Graph.EfSearch,
		v.Cluster.Lists, v.Cluster.Probes, v.Cluster.MinTrainingSize,
	}
}

func (s collectionSer) Marshal(v core.Collection, bs []byte) (n int) {
	n = ord.String.Marshal(v.Name, bs)
	for _, i := range s.ints(v) {
		n += varint.Int.Marshal(i, bs[n:])
	}
	n += ord.Bool.Marshal(v.Stemming, bs[n:])
	n += timeMUS.Marshal(v.CreatedAt, bs[n:])
	n += timeMUS.Marshal(v.UpdatedAt, bs[n:])
	return n
}

func (collectionSer) Unmarshal(bs []byte) (v core.Collection, n int, err error) {
	var n1 int
	if v.Name, n, err = ord.String.Unmarshal(bs); err != nil {
		return v, n, err
	}
	fields := []*int{
		&v.Dimension, nil, nil,
		&v.Graph.M, &v.Graph.EfConstruction, &v.Graph.EfSearch,
		&v.Cluster.Lists, &v.Cluster.Probes, &v.Cluster.MinTrainingSize,
	}
	for i, dst := range fields {
		var x int
		x, n1, err = varint.Int.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return v, n, err
		}
		switch i {
		case 1:
			v.Metric = core.Metric(x)
		case 2:
			v.Variant = core.Variant(x)
		default:
			*dst = x
		}
	}
	if v.Stemming, n1, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.CreatedAt, n1, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	v.UpdatedAt, n1, err = timeMUS.Unmarshal(bs[n:])
	return v, n + n1, err
}

func (s collectionSer) Size(v core.Collection) (size int) {
	size = ord.String.Size(v.Name)
	for _, i := range s.ints(v) {
		size += varint.Int.Size(i)
	}
	size += ord.Bool.Size(v.Stemming)
	size += timeMUS.Size(v.CreatedAt)
	size += timeMUS.Size(v.UpdatedAt)
	return size
}

type manifestSer struct{}

var manifestMUS = manifestSer{}

func (manifestSer) Marshal(v SnapshotManifest, bs []byte) (n int) {
	n = varint.Uint64.Marshal(v.Generation, bs)
	n += varint.Int.Marshal(v.Chunks, bs[n:])
	n += varint.Int.Marshal(v.Size, bs[n:])
	n += varint.Uint64.Marshal(v.Watermark, bs[n:])
	n += timeMUS.Marshal(v.UpdatedAt, bs[n:])
	return n
}

func (manifestSer) Unmarshal(bs []byte) (v SnapshotManifest, n int, err error) {
	var n1 int
	if v.Generation, n, err = varint.Uint64.Unmarshal(bs); err != nil {
		return v, n, err
	}
	if v.Chunks, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Size, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Watermark, n1, err = varint.Uint64.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	v.UpdatedAt, n1, err = timeMUS.Unmarshal(bs[n:])
	return v, n + n1, err
}

func (manifestSer) Size(v SnapshotManifest) (size int) {
	size = varint.Uint64.Size(v.Generation)
	size += varint.Int.Size(v.Chunks)
	size += varint.Int.Size(v.Size)
	size += varint.Uint64.Size(v.Watermark)
	size += timeMUS.Size(v.UpdatedAt)
	return size
}
