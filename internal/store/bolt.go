package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/run-bigpig/thinktank/internal/models"
)

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages") // 每个会话一个子 bucket，key 为大端序 Seq
	bucketProjects      = []byte("projects")
)

// BoltStore 基于 bbolt 的单文件存储
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore 打开（或创建）bbolt 数据文件
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketConversations, bucketMessages, bucketProjects} {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("bolt store opened: %s", path)
	return &BoltStore{db: db}, nil
}

func seqKey(seq int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(seq))
	return k
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, enc)
}

func getConversation(tx *bolt.Tx, id string) (*models.Conversation, error) {
	v := tx.Bucket(bucketConversations).Get([]byte(id))
	if v == nil {
		return nil, ErrNotFound
	}
	var c models.Conversation
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) CreateConversation(_ context.Context, c *models.Conversation) error {
	prepareConversation(c)
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(c.ID)); err != nil {
			return err
		}
		return putJSON(tx.Bucket(bucketConversations), []byte(c.ID), c)
	})
}

func (s *BoltStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	var c *models.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		var e error
		c, e = getConversation(tx, id)
		return e
	})
	return c, err
}

func (s *BoltStore) UpdateConversation(_ context.Context, c *models.Conversation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := getConversation(tx, c.ID); err != nil {
			return err
		}
		c.UpdatedAt = time.Now().UTC()
		return putJSON(tx.Bucket(bucketConversations), []byte(c.ID), c)
	})
}

func (s *BoltStore) ListConversations(_ context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(_, v []byte) error {
			var c models.Conversation
			if err := json.Unmarshal(v, &c); err != nil {
				// 跳过损坏的记录
				log.Warn("skip malformed conversation: %v", err)
				return nil
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortConversations(out)
	return out, nil
}

func (s *BoltStore) DeleteConversation(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := getConversation(tx, id); err != nil {
			return err
		}
		if err := tx.Bucket(bucketConversations).Delete([]byte(id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessages).DeleteBucket([]byte(id)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		return nil
	})
}

func (s *BoltStore) AppendMessage(_ context.Context, m *models.Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := getConversation(tx, m.ConversationID); err != nil {
			return err
		}
		b, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(m.ConversationID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		prepareMessage(m, int64(seq))
		return putJSON(b, seqKey(m.Seq), m)
	})
}

func (s *BoltStore) ListMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	var out []models.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := getConversation(tx, conversationID); err != nil {
			return err
		}
		b := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if b == nil {
			return nil
		}
		// 从末尾向前取最近 limit 条
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var m models.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *BoltStore) CreateProject(_ context.Context, p *models.Project) error {
	prepareProject(p)
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketProjects), []byte(p.ID), p)
	})
}

func (s *BoltStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketProjects).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Close 关闭数据文件
func (s *BoltStore) Close() error {
	return s.db.Close()
}
