package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBMessage is a row of the messages table. Rows of one room live in a
// nested bucket keyed by a big-endian sequence, so cursor order is
// insertion order, which is also timestamp order.
type DBMessage struct {
	Seq       uint64 `msgpack:"seq"`
	ID        string `msgpack:"id"`
	RoomID    string `msgpack:"roomId"`
	Text      string `msgpack:"text"`
	UserID    string `msgpack:"userId"`
	Timestamp int64  `msgpack:"timestamp"` // Unix nanoseconds
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBRoom struct {
	ID           string `msgpack:"id"`
	Name         string `msgpack:"name"`
	LastActivity int64  `msgpack:"lastActivity"` // Unix nanoseconds
	LastMessage  string `msgpack:"lastMessage"`
}

type DBUserRooms struct {
	UserName string   `msgpack:"userName"`
	Rooms    []DBRoom `msgpack:"rooms"`
}

func (r *DBUserRooms) Key() []byte {
	return []byte(r.UserName)
}

func (r *DBUserRooms) MarshalBinary() (data []byte, err error) {
	type alias DBUserRooms
	return msgpack.Marshal((*alias)(r))
}

func (r *DBUserRooms) UnmarshalBinary(data []byte) error {
	type alias DBUserRooms
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBSettings struct {
	UserName           string `msgpack:"userName"`
	Theme              string `msgpack:"theme"`
	SoundEnabled       bool   `msgpack:"soundEnabled"`
	InstallDismissed   bool   `msgpack:"installDismissed"`
	InstallDismissedAt int64  `msgpack:"installDismissedAt"` // Unix milliseconds
}

var settingsKey = []byte("settings")

func (s *DBSettings) Key() []byte {
	return settingsKey
}

func (s *DBSettings) MarshalBinary() (data []byte, err error) {
	type alias DBSettings
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSettings) UnmarshalBinary(data []byte) error {
	type alias DBSettings
	return msgpack.Unmarshal(data, (*alias)(s))
}
