package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	filesystemsBucket = []byte("Filesystems")
	orderBucket       = []byte("Order")
)

// The bolt ledger keeps two buckets. Filesystems maps a name to its JSON
// encoded record; Order maps a big endian sequence number to the name so List
// can walk records in insertion order.

// Bolt is a Ledger kept in a bolt database file
type Bolt struct {
	db *bolt.DB
}

type boltRecord struct {
	Seq uint64 `json:"seq"`
	filesystem.Filesystem
}

// NewBolt opens (creating when needed) the bolt file at path
func NewBolt(path string) (*Bolt, error) {
	logrus.Debugf("Opening bolt ledger at %s", path)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "error opening ledger %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(filesystemsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(orderBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "error creating ledger buckets")
	}
	return &Bolt{db: db}, nil
}

func (l *Bolt) Create(ctx context.Context, fs filesystem.Filesystem) (*filesystem.Filesystem, error) {
	fs, err := prepare(fs)
	if err != nil {
		return nil, err
	}

	err = l.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(filesystemsBucket)
		if records.Get([]byte(fs.Name)) != nil {
			return errors.Wrapf(filesystem.ErrDuplicateName, "filesystem %s", fs.Name)
		}
		order := tx.Bucket(orderBucket)
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		value, err := json.Marshal(boltRecord{Seq: seq, Filesystem: fs})
		if err != nil {
			return err
		}
		if err := records.Put([]byte(fs.Name), value); err != nil {
			return err
		}
		return order.Put(seqKey(seq), []byte(fs.Name))
	})
	if err != nil {
		return nil, err
	}
	return &fs, nil
}

func (l *Bolt) Get(ctx context.Context, name string) (*filesystem.Filesystem, error) {
	var rec *boltRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rec.Filesystem, nil
}

func (l *Bolt) Delete(ctx context.Context, name string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		rec, err := getRecord(tx, name)
		if err != nil {
			return err
		}
		if err := tx.Bucket(orderBucket).Delete(seqKey(rec.Seq)); err != nil {
			return err
		}
		return tx.Bucket(filesystemsBucket).Delete([]byte(name))
	})
}

func (l *Bolt) List(ctx context.Context) ([]filesystem.Filesystem, error) {
	var result []filesystem.Filesystem
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(orderBucket).ForEach(func(_, name []byte) error {
			rec, err := getRecord(tx, string(name))
			if err != nil {
				return err
			}
			result = append(result, rec.Filesystem)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "error listing filesystems")
	}
	return result, nil
}

func (l *Bolt) Close() error {
	return l.db.Close()
}

func getRecord(tx *bolt.Tx, name string) (*boltRecord, error) {
	value := tx.Bucket(filesystemsBucket).Get([]byte(name))
	if value == nil {
		return nil, errors.Wrapf(filesystem.ErrNotFound, "filesystem %s", name)
	}
	rec := &boltRecord{}
	if err := json.Unmarshal(value, rec); err != nil {
		return nil, errors.Wrapf(err, "corrupt record for filesystem %s", name)
	}
	return rec, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
