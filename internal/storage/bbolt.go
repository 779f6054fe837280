package storage

import (
	"errors"
	"fmt"
	"time"

	"hchat/internal/models"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var (
	bucketMessages = []byte("messages")
	bucketRooms    = []byte("rooms")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketRooms); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// InsertMessage stores a new row and returns it with the id and timestamp
// assigned by the store. Timestamps are strictly increasing within a room.
func (s *BboltStorage) InsertMessage(row models.NewRow) (models.Row, error) {
	if row.RoomID == "" {
		return models.Row{}, errors.New("message missing room_id")
	}

	var stored models.Row
	err := s.db.Update(func(tx *bbolt.Tx) error {
		roomBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(row.RoomID))
		if err != nil {
			return fmt.Errorf("failed to create room bucket: %w", err)
		}

		ts := s.now().UnixNano()
		if k, v := roomBucket.Cursor().Last(); k != nil {
			var last DBMessage
			if err := last.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("failed to unmarshal last message: %w", err)
			}
			if ts <= last.Timestamp {
				ts = last.Timestamp + 1
			}
		}

		seq, err := roomBucket.NextSequence()
		if err != nil {
			return err
		}

		dbMessage := DBMessage{
			Seq:       seq,
			ID:        uuid.NewString(),
			RoomID:    row.RoomID,
			Text:      row.Text,
			UserID:    row.UserID,
			Timestamp: ts,
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := roomBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		if err := touchRoom(tx, row.RoomID, ts); err != nil {
			return err
		}

		stored = dbMessage.row()
		return nil
	})
	return stored, err
}

// ListMessages returns all rows of a room ordered by timestamp ascending.
func (s *BboltStorage) ListMessages(roomID string) ([]models.Row, error) {
	rows := []models.Row{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
		if roomBucket == nil {
			return nil // No messages for this room
		}
		return roomBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			rows = append(rows, dbMsg.row())
			return nil
		})
	})
	return rows, err
}

// RoomActivity returns the unix nano timestamp of the last insert in a room.
func (s *BboltStorage) RoomActivity(roomID string) (int64, error) {
	var ts int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRooms).Get([]byte(roomID))
		if v == nil {
			return models.ErrNotFound
		}
		var room DBRoom
		if err := msgpack.Unmarshal(v, &room); err != nil {
			return err
		}
		ts = room.LastActivity
		return nil
	})
	return ts, err
}

func touchRoom(tx *bbolt.Tx, roomID string, ts int64) error {
	data, err := msgpack.Marshal(&DBRoom{ID: roomID, LastActivity: ts})
	if err != nil {
		return err
	}
	return tx.Bucket(bucketRooms).Put([]byte(roomID), data)
}

func (m *DBMessage) row() models.Row {
	return models.Row{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Text:      m.Text,
		UserID:    m.UserID,
		Timestamp: time.Unix(0, m.Timestamp).UTC(),
	}
}
