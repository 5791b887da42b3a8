package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/trianglecurling/spares/internal/db"
)

type MemberRepository struct {
	insert  db.Statement
	byID    db.Statement
	byEmail db.Statement
	list    db.Statement
	update  db.Statement
	remove  db.Statement
}

func NewMemberRepository(q db.Querier) (*MemberRepository, error) {
	r := &MemberRepository{}
	var err error

	if r.insert, err = q.Prepare(`INSERT INTO members (name, email, phone) VALUES (?, ?, ?)`); err != nil {
		return nil, fmt.Errorf("prepare member insert: %w", err)
	}
	if r.byID, err = q.Prepare(`SELECT id, name, email, phone, created_at FROM members WHERE id = ?`); err != nil {
		return nil, fmt.Errorf("prepare member by id: %w", err)
	}
	if r.byEmail, err = q.Prepare(`SELECT id, name, email, phone, created_at FROM members WHERE email = ?`); err != nil {
		return nil, fmt.Errorf("prepare member by email: %w", err)
	}
	if r.list, err = q.Prepare(`SELECT id, name, email, phone, created_at FROM members ORDER BY name`); err != nil {
		return nil, fmt.Errorf("prepare member list: %w", err)
	}
	if r.update, err = q.Prepare(`UPDATE members SET name = ?, email = ?, phone = ? WHERE id = ?`); err != nil {
		return nil, fmt.Errorf("prepare member update: %w", err)
	}
	if r.remove, err = q.Prepare(`DELETE FROM members WHERE id = ?`); err != nil {
		return nil, fmt.Errorf("prepare member delete: %w", err)
	}
	return r, nil
}

func (r *MemberRepository) Create(ctx context.Context, member *Member) error {
	if member == nil {
		return fmt.Errorf("create member: member is nil")
	}
	if member.Name == "" || member.Email == "" {
		return fmt.Errorf("create member: name and email are required")
	}

	res, err := r.insert.Run(ctx, member.Name, member.Email, member.Phone)
	if err != nil {
		return fmt.Errorf("create member: %w", err)
	}
	member.ID = res.LastInsertID
	return nil
}

func (r *MemberRepository) Get(ctx context.Context, id int64) (*Member, error) {
	row, err := r.byID.Get(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return memberFromRow(row)
}

func (r *MemberRepository) GetByEmail(ctx context.Context, email string) (*Member, error) {
	row, err := r.byEmail.Get(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get member by email: %w", err)
	}
	return memberFromRow(row)
}

func (r *MemberRepository) List(ctx context.Context) ([]Member, error) {
	rows, err := r.list.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	members := make([]Member, 0, len(rows))
	for _, row := range rows {
		member, err := memberFromRow(row)
		if err != nil {
			return nil, err
		}
		members = append(members, *member)
	}
	return members, nil
}

func (r *MemberRepository) Update(ctx context.Context, member *Member) error {
	if member == nil || member.ID == 0 {
		return fmt.Errorf("update member: member id is required")
	}

	res, err := r.update.Run(ctx, member.Name, member.Email, member.Phone, member.ID)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	if res.Changes == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MemberRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.remove.Run(ctx, id)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if res.Changes == 0 {
		return ErrNotFound
	}
	return nil
}

func memberFromRow(row db.Row) (*Member, error) {
	id, err := fieldInt64(row["id"])
	if err != nil {
		return nil, fmt.Errorf("map member row: id: %w", err)
	}
	createdAt, err := fieldTime(row["created_at"])
	if err != nil {
		return nil, fmt.Errorf("map member row: created_at: %w", err)
	}
	return &Member{
		ID:        id,
		Name:      fieldString(row["name"]),
		Email:     fieldString(row["email"]),
		Phone:     fieldString(row["phone"]),
		CreatedAt: createdAt,
	}, nil
}
