package repository

import (
	"aibot-go/internal/model"

	"gorm.io/gorm"
)

// MemberRepository persists member accounts and profiles.
type MemberRepository interface {
	Create(member *model.Member) error
	FindByUsername(username string) (*model.Member, error)
	FindByID(memberID uint) (*model.Member, error)
	Update(member *model.Member) error
}

type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository creates a GORM-backed MemberRepository.
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) Create(member *model.Member) error {
	return r.db.Create(member).Error
}

func (r *memberRepository) FindByUsername(username string) (*model.Member, error) {
	var member model.Member
	err := r.db.Where("username = ?", username).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *memberRepository) FindByID(memberID uint) (*model.Member, error) {
	var member model.Member
	err := r.db.First(&member, memberID).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *memberRepository) Update(member *model.Member) error {
	return r.db.Save(member).Error
}
