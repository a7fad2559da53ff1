package cache

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
)

const (
	snapshotMagic   = "DCACHE\x00"
	snapshotVersion = 1
)

// SaveState writes all entries followed by the continuous query state. Entries are
// written in version order so a restore replays them in insertion order.
func (c *Cache) SaveState(w io.Writer) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var entries []*Entry
	for _, shard := range c.shards {
		shard.Range(func(_ string, e *Entry) bool {
			entries = append(entries, e)
			return true
		})
	}
	sortByVersion(entries)

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	if err := bw.WriteByte(snapshotVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, uint64(len(entries))); err != nil {
		return err
	}

	for _, e := range entries {
		if err := index.WriteString(bw, e.Key); err != nil {
			return err
		}
		if err := index.WriteString(bw, string(e.Value)); err != nil {
			return err
		}
		meta := []byte("null")
		if e.Meta != nil {
			var err error
			if meta, err = json.Marshal(e.Meta); err != nil {
				return fmt.Errorf("encode metadata of %q: %w", e.Key, err)
			}
		}
		if err := index.WriteString(bw, string(meta)); err != nil {
			return err
		}
	}

	if err := c.queries.GetState().Serialize(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// LoadState replaces the cache content with a state written by SaveState. Entries are
// re-indexed and the predicates of all restored queries are rebuilt and re-evaluated.
// No notifications are raised.
func (c *Cache) LoadState(r io.Reader) error {
	if c.closed.Load() {
		return ErrClosed
	}
	br := bufio.NewReader(r)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return fmt.Errorf("read snapshot header: %w", err)
	}
	if string(magic) != snapshotMagic {
		return fmt.Errorf("invalid snapshot: magic number mismatch")
	}
	version, err := br.ReadByte()
	if err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d (expected %d)", version, snapshotVersion)
	}

	var count uint64
	if err := binary.Read(br, binary.BigEndian, &count); err != nil {
		return err
	}
	entries := make([]*Entry, 0, min(count, 1<<16))
	for i := uint64(0); i < count; i++ {
		e, err := readEntry(br)
		if err != nil {
			return fmt.Errorf("read entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}

	state, err := cq.DeserializeState(br)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, q := range c.queries.Queries() {
		c.analyzer.UnRegisterPredicate(q.UniqueID)
	}
	c.clearLocked()

	for _, e := range entries {
		e.Version = c.version.Add(1)
		e.info = &index.IndexInformation{}
		if err := c.addToIndex(e); err != nil {
			log.Warningf("restoring %q: %v", e.Key, err)
		}
		c.shard(e.Key).Store(e.Key, e)
	}

	c.queries.SetState(state)
	for _, q := range c.queries.Queries() {
		p, err := predicate.Parse([]byte(q.CommandText))
		if err != nil {
			log.Errorf("cannot rebuild query %s (%s): %v", q.UniqueID, q.CommandText, err)
			continue
		}
		q.Predicate = p
		keys, err := c.Search(q.ObjectType, p, q.AttributeValues)
		if err != nil {
			log.Errorf("cannot evaluate restored query %s: %v", q.UniqueID, err)
		}
		c.analyzer.RegisterPredicate(q.ObjectType, q.CommandText, q.AttributeValues, p, q.UniqueID, keys)
	}
	for _, sub := range state.Subscriptions {
		c.inbox(sub.ClientID)
	}

	log.Infof("state loaded: %d entries, %d queries", len(entries), len(state.Queries))
	return nil
}

func readEntry(r io.Reader) (*Entry, error) {
	key, err := index.ReadString(r)
	if err != nil {
		return nil, err
	}
	value, err := index.ReadString(r)
	if err != nil {
		return nil, err
	}
	rawMeta, err := index.ReadString(r)
	if err != nil {
		return nil, err
	}

	var meta *index.MetaInfo
	dec := json.NewDecoder(strings.NewReader(rawMeta))
	dec.UseNumber()
	if err := dec.Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata of %q: %w", key, err)
	}
	return &Entry{Key: key, Value: []byte(value), Meta: meta}, nil
}

func sortByVersion(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Version < entries[j].Version })
}
