package store

import (
	"context"
	"strings"
	"time"

	"github.com/infinitio/oracles/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionStore struct{ db *gorm.DB }

func (s *Store) Transactions() *TransactionStore { return &TransactionStore{s.DB} }

func (t *TransactionStore) Create(ctx context.Context, tr *domain.Transaction) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	now := time.Now().UTC()
	if tr.Ctime.IsZero() {
		tr.Ctime = now
	}
	tr.Mtime = now
	return t.db.WithContext(ctx).Create(tr).Error
}

func (t *TransactionStore) Get(ctx context.Context, id domain.TransactionID) (*domain.Transaction, error) {
	var tr domain.Transaction
	if err := t.db.WithContext(ctx).First(&tr, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &tr, nil
}

// ListFilter narrows List; the zero value lists everything the user is part
// of, most recently modified first.
type ListFilter struct {
	Statuses []domain.Status
	Negate   bool // invert the status filter
	PeerID   *domain.UserID
	Count    int
	Offset   int
}

func (t *TransactionStore) List(ctx context.Context, userID domain.UserID, f ListFilter) ([]*domain.Transaction, error) {
	q := t.db.WithContext(ctx).
		Where("sender_id = ? OR recipient_id = ?", userID, userID)
	if len(f.Statuses) > 0 {
		if f.Negate {
			q = q.Where("status NOT IN ?", f.Statuses)
		} else {
			q = q.Where("status IN ?", f.Statuses)
		}
	}
	if f.PeerID != nil {
		q = q.Where("sender_id = ? OR recipient_id = ?", *f.PeerID, *f.PeerID)
	}
	if f.Count > 0 {
		q = q.Limit(f.Count)
	}
	var trs []*domain.Transaction
	if err := q.Order("mtime DESC").Offset(f.Offset).Find(&trs).Error; err != nil {
		return nil, err
	}
	return trs, nil
}

// Search is the substring filter over the strings blob.
func (t *TransactionStore) Search(ctx context.Context, userID domain.UserID, text string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var trs []*domain.Transaction
	err := t.db.WithContext(ctx).
		Where("sender_id = ? OR recipient_id = ?", userID, userID).
		Where("LOWER(strings) LIKE ?", "%"+strings.ToLower(text)+"%").
		Order("mtime DESC").Limit(limit).
		Find(&trs).Error
	if err != nil {
		return nil, err
	}
	return trs, nil
}

// UpdateStatusCAS moves a transaction from one status to another only if it
// is still in the expected one. It reports false when another update won the
// race, so the caller can re-read and re-check the transition.
func (t *TransactionStore) UpdateStatusCAS(ctx context.Context, id domain.TransactionID, from, to domain.Status, extra map[string]any) (bool, error) {
	updates := map[string]any{
		"status": to,
		"mtime":  time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := t.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetNode writes or clears one device's endpoint set and returns the updated
// nodes map. The read-modify-write runs in a transaction so concurrent
// publishes from both peers do not drop each other.
func (t *TransactionStore) SetNode(ctx context.Context, id domain.TransactionID, key string, node *domain.Node) (domain.Nodes, error) {
	var nodes domain.Nodes
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tr domain.Transaction
		if err := tx.First(&tr, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		nodes = tr.Nodes.Data()
		if nodes == nil {
			nodes = domain.Nodes{}
		}
		nodes[key] = node
		return tx.Model(&domain.Transaction{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"nodes": datatypes.NewJSONType(nodes),
				"mtime": time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// ClearNodesForDevice nulls the device's entry in every non-final
// transaction it appears in and returns the affected transactions with the
// entry already nulled.
func (t *TransactionStore) ClearNodesForDevice(ctx context.Context, userID domain.UserID, deviceID domain.DeviceID) ([]*domain.Transaction, error) {
	key := domain.NodeKey(userID, deviceID)
	var touched []*domain.Transaction
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trs []*domain.Transaction
		err := tx.
			Where("sender_id = ? OR recipient_id = ?", userID, userID).
			Where("status NOT IN ?", domain.FinalStatuses).
			Find(&trs).Error
		if err != nil {
			return err
		}
		for _, tr := range trs {
			nodes := tr.Nodes.Data()
			if _, ok := nodes[key]; !ok {
				continue
			}
			nodes[key] = nil
			tr.Nodes = datatypes.NewJSONType(nodes)
			err := tx.Model(&domain.Transaction{}).
				Where("id = ?", tr.ID).
				Update("nodes", tr.Nodes).Error
			if err != nil {
				return err
			}
			touched = append(touched, tr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return touched, nil
}

// SetFallback assigns a relay only if none is set yet; either way it returns
// the transaction's effective fallback, so concurrent requests agree on one
// relay.
func (t *TransactionStore) SetFallback(ctx context.Context, id domain.TransactionID, relay *domain.ApertusRecord) (*domain.Transaction, error) {
	res := t.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("id = ? AND fallback_host IS NULL", id).
		Updates(map[string]any{
			"fallback_host":     relay.Host,
			"fallback_port_tcp": relay.PortTCP,
			"fallback_port_ssl": relay.PortSSL,
			"fallback_id":       relay.ID,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	return t.Get(ctx, id)
}

// CountByStatusSince aggregates transactions touched after the given time,
// for the daily summary.
func (t *TransactionStore) CountByStatusSince(ctx context.Context, since time.Time) (map[domain.Status]int64, error) {
	type row struct {
		Status domain.Status
		N      int64
	}
	var rows []row
	err := t.db.WithContext(ctx).Model(&domain.Transaction{}).
		Select("status, COUNT(*) AS n").
		Where("mtime >= ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Status]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// RecipientsWithStatus lists the distinct users that have at least one
// incoming transaction in the given status.
func (t *TransactionStore) RecipientsWithStatus(ctx context.Context, status domain.Status) ([]domain.UserID, error) {
	var ids []domain.UserID
	err := t.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("status = ?", status).
		Distinct().Pluck("recipient_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// PendingForRecipient lists the non-final transactions addressed to a user,
// the set the daily summary reminds ghosts and idle users about.
func (t *TransactionStore) PendingForRecipient(ctx context.Context, userID domain.UserID) ([]*domain.Transaction, error) {
	var trs []*domain.Transaction
	err := t.db.WithContext(ctx).
		Where("recipient_id = ?", userID).
		Where("status NOT IN ?", domain.FinalStatuses).
		Order("mtime DESC").
		Find(&trs).Error
	if err != nil {
		return nil, err
	}
	return trs, nil
}
