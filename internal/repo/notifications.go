package repo

import (
	"context"
	"database/sql"

	"talentops/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,org_id,receiver_id,sender_id,message,type,is_read,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.OrgID, n.ReceiverID, nullable(n.SenderID), n.Message, n.Type, boolToInt(n.IsRead), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, receiverID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,org_id,receiver_id,sender_id,message,type,is_read,created_at FROM notifications WHERE receiver_id=?`
	args := []any{receiverID}
	if unreadOnly {
		query += ` AND is_read=0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var sender sql.NullString
		var isRead int
		if err := rows.Scan(&n.ID, &n.OrgID, &n.ReceiverID, &sender, &n.Message, &n.Type, &isRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		if sender.Valid {
			n.SenderID = sender.String
		}
		n.IsRead = isRead != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
