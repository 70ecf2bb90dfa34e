package repository

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/gorm"
)

func TestMemberFindByUsername(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMemberRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `members` WHERE username = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_schema", "username", "plan_tier"}).
			AddRow(7, "acme_benefits", "dana", "Gold"))

	member, err := repo.FindByUsername("dana")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if member.ID != 7 || member.PlanTier != "Gold" {
		t.Errorf("member = %+v", member)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMemberFindByUsernameMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMemberRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `members` WHERE username = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByUsername("ghost")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("err = %v, want gorm.ErrRecordNotFound", err)
	}
}
