package sqlite

import (
	"context"
	"fmt"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ConfirmLinkStore = (*ConfirmLinkRepo)(nil)

// ConfirmLinkRepo is the SQLite implementation of the ConfirmLinkStore port.
// The address and both URLs are encrypted at rest.
type ConfirmLinkRepo struct {
	db     *DB
	cipher *fieldCipher
}

// NewConfirmLinkRepo creates a ConfirmLinkRepo. key must be a 32-byte AES-256 key.
func NewConfirmLinkRepo(db *DB, key []byte) (*ConfirmLinkRepo, error) {
	c, err := newFieldCipher(key)
	if err != nil {
		return nil, fmt.Errorf("confirm link repo: %w", err)
	}
	return &ConfirmLinkRepo{db: db, cipher: c}, nil
}

// Insert stores one captured confirmation link.
func (r *ConfirmLinkRepo) Insert(ctx context.Context, link *model.ConfirmLink) error {
	address, err := r.cipher.encrypt(link.Address)
	if err != nil {
		return fmt.Errorf("encrypt address: %w", err)
	}
	confirmURL, err := r.cipher.encrypt(link.ConfirmURL)
	if err != nil {
		return fmt.Errorf("encrypt confirm url: %w", err)
	}
	cancelURL, err := r.cipher.encrypt(link.CancelURL)
	if err != nil {
		return fmt.Errorf("encrypt cancel url: %w", err)
	}

	const query = `INSERT INTO confirm_links (id, user_id, address, confirm_url, cancel_url) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.Writer.ExecContext(ctx, query, link.ID, link.UserID, address, confirmURL, cancelURL); err != nil {
		return fmt.Errorf("insert confirm link %s: %w", link.ID, err)
	}
	return nil
}

// Get returns the link owned by the user, or (nil, nil) when absent.
func (r *ConfirmLinkRepo) Get(ctx context.Context, userID, id string) (*model.ConfirmLink, error) {
	const query = `
		SELECT id, user_id, address, confirm_url, cancel_url, created_at
		FROM confirm_links
		WHERE id = ? AND user_id = ?
	`
	rows, err := r.db.Reader.QueryContext(ctx, query, id, userID)
	if err != nil {
		return nil, fmt.Errorf("get confirm link %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get confirm link %s: %w", id, err)
		}
		return nil, nil
	}

	var link model.ConfirmLink
	var address, confirmURL, cancelURL, createdAt string
	if err := rows.Scan(&link.ID, &link.UserID, &address, &confirmURL, &cancelURL, &createdAt); err != nil {
		return nil, fmt.Errorf("scan confirm link: %w", err)
	}

	if link.Address, err = r.cipher.decrypt(address); err != nil {
		return nil, fmt.Errorf("decrypt address: %w", err)
	}
	if link.ConfirmURL, err = r.cipher.decrypt(confirmURL); err != nil {
		return nil, fmt.Errorf("decrypt confirm url: %w", err)
	}
	if link.CancelURL, err = r.cipher.decrypt(cancelURL); err != nil {
		return nil, fmt.Errorf("decrypt cancel url: %w", err)
	}
	if link.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &link, nil
}

// Delete removes the link. Returns whether a row was removed.
func (r *ConfirmLinkRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	const query = `DELETE FROM confirm_links WHERE id = ? AND user_id = ?`
	res, err := r.db.Writer.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete confirm link %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete confirm link rows affected: %w", err)
	}
	return n > 0, nil
}
