package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"pawlink/pkg/logger"
	"pawlink/pkg/models"
	"pawlink/pkg/utils"

	"github.com/cockroachdb/pebble"
)

var (
	db     *pebble.DB
	dbPath string
)

// seq provides a small counter to reduce key collisions when multiple
// messages share the same nanosecond timestamp.
var seq uint64

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func msgKey(pair string, ts int64, s uint64) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%020d-%06d", pair, ts, s))
}

func convPrefix(pair string) []byte {
	return []byte("conv:" + pair + ":msg:")
}

func userConvKey(userID, pair string) []byte {
	return []byte("user:" + userID + ":conv:" + pair)
}

// convEntry is the per-user conversation index value. It carries the
// counterpart id and the last activity timestamp so conversation lists do
// not need to scan the message log for ordering.
type convEntry struct {
	Counterpart string    `json:"counterpart"`
	LastTS      time.Time `json:"last_ts"`
}

// Append persists a message to the conversation log and updates both
// participants' conversation index entries. Missing ID and TS are filled
// in; the assigned values are written back to msg.
func Append(msg *models.Message) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if msg.Sender == "" || msg.Recipient == "" {
		return fmt.Errorf("message must carry sender and recipient")
	}
	if msg.ID == "" {
		msg.ID = utils.GenID()
	}
	if msg.TS.IsZero() {
		msg.TS = time.Now().UTC()
	}
	pair := models.PairKey(msg.Sender, msg.Recipient)
	s := atomic.AddUint64(&seq, 1)
	key := msgKey(pair, msg.TS.UnixNano(), s)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("append_message_failed", "pair", pair, "key", string(key), "error", err)
		return err
	}

	// index the conversation for both participants
	for _, uid := range []string{msg.Sender, msg.Recipient} {
		e := convEntry{Counterpart: msg.Counterpart(uid), LastTS: msg.TS}
		eb, _ := json.Marshal(e)
		if err := db.Set(userConvKey(uid, pair), eb, pebble.Sync); err != nil {
			logger.Error("conv_index_update_failed", "user", uid, "pair", pair, "error", err)
			return err
		}
	}
	messagesAppended.Inc()
	logger.Info("message_appended", "pair", pair, "id", msg.ID)
	return nil
}

// History returns the conversation between userID and counterpartID in
// insertion order, oldest first. A conversation with no messages yields an
// empty slice, never an error.
func History(userID, counterpartID string) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := convPrefix(models.PairKey(userID, counterpartID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := []models.Message{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Error("history_invalid_message_json", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
	}
	historyScans.Inc()
	return out, iter.Error()
}

// MarkRead flips the read flag on every stored message in the conversation
// addressed to userID. It returns the number of messages transitioned and
// is idempotent: a second call finds nothing unread and changes nothing.
func MarkRead(userID, counterpartID string) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := convPrefix(models.PairKey(userID, counterpartID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	flipped := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.Recipient != userID || m.Read {
			continue
		}
		m.Read = true
		nb, err := json.Marshal(m)
		if err != nil {
			return flipped, err
		}
		k := append([]byte(nil), iter.Key()...)
		if err := db.Set(k, nb, pebble.Sync); err != nil {
			logger.Error("mark_read_write_failed", "key", string(k), "error", err)
			return flipped, err
		}
		flipped++
	}
	if flipped > 0 {
		messagesMarkedRead.Add(float64(flipped))
	}
	logger.Info("conversation_marked_read", "user", userID, "counterpart", counterpartID, "count", flipped)
	return flipped, iter.Error()
}

// unreadInConv counts unread messages addressed to userID within one
// conversation pair.
func unreadInConv(userID, pair string) (int, error) {
	prefix := convPrefix(pair)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.Recipient == userID && !m.Read {
			n++
		}
	}
	return n, iter.Error()
}

// listConvEntries returns the conversation index entries for a user,
// keyed by pair.
func listConvEntries(userID string) (map[string]convEntry, error) {
	prefix := []byte("user:" + userID + ":conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := map[string]convEntry{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		pair := string(iter.Key()[len(prefix):])
		var e convEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		out[pair] = e
	}
	return out, iter.Error()
}

// UnreadCount returns the total number of unread messages addressed to
// userID across all conversations in a single aggregate pass.
func UnreadCount(userID string) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	entries, err := listConvEntries(userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for pair := range entries {
		n, err := unreadInConv(userID, pair)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Summaries returns one ConversationSummary per counterpart the user has
// exchanged at least one message with, unread counts included, joined
// with directory profiles when present. Order is unspecified; callers
// sort for display.
func Summaries(userID string) ([]models.ConversationSummary, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	entries, err := listConvEntries(userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ConversationSummary, 0, len(entries))
	for pair, e := range entries {
		n, err := unreadInConv(userID, pair)
		if err != nil {
			return nil, err
		}
		s := models.ConversationSummary{ID: e.Counterpart, LastMessageTS: e.LastTS, Unread: n}
		if p, perr := GetProfile(e.Counterpart); perr == nil {
			s.DisplayName = p.DisplayName
			s.AvatarURL = p.AvatarURL
		}
		out = append(out, s)
	}
	return out, nil
}

// SaveProfile stores a participant directory record.
func SaveProfile(p models.Profile) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if p.ID == "" {
		return fmt.Errorf("profile id required")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := db.Set([]byte("profile:"+p.ID), b, pebble.Sync); err != nil {
		logger.Error("save_profile_failed", "id", p.ID, "error", err)
		return err
	}
	logger.Info("profile_saved", "id", p.ID)
	return nil
}

// GetProfile returns the directory record for an id.
func GetProfile(id string) (models.Profile, error) {
	if db == nil {
		return models.Profile{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte("profile:" + id))
	if err != nil {
		return models.Profile{}, err
	}
	if closer != nil {
		defer closer.Close()
	}
	var p models.Profile
	if err := json.Unmarshal(v, &p); err != nil {
		return models.Profile{}, err
	}
	return p, nil
}

// Purge deletes messages older than the cutoff across all conversations.
// Conversation index entries are left in place; their last activity
// timestamps still reflect the most recent (possibly purged) exchange.
func Purge(before time.Time) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	deleted := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if !m.TS.Before(before) {
			continue
		}
		k := append([]byte(nil), iter.Key()...)
		if err := db.Delete(k, pebble.Sync); err != nil {
			logger.Error("purge_delete_failed", "key", string(k), "error", err)
			return deleted, err
		}
		deleted++
	}
	if deleted > 0 {
		logger.Info("messages_purged", "count", deleted, "before", before)
	}
	return deleted, iter.Error()
}
