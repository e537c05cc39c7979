package repositories

import (
	"clinic-chat/domain"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/types/known/structpb"
)

type IProfileRepository interface {
	SaveProfile(profile Profile) error
	GetProfile(userID string) (Profile, error)
}

// Profile is what the hub knows about a user: enough to show them as a counterpart.
type Profile struct {
	UserID string
	Role   domain.Role
	Name   string
	Email  string
}

type ProfileRepository struct {
	db *badger.DB
}

func NewProfileRepository(db *badger.DB) ProfileRepository {
	return ProfileRepository{db: db}
}

// SaveProfile creates or replaces the profile of a user.
func (r ProfileRepository) SaveProfile(profile Profile) error {
	bytes, err := marshalRecord(map[string]*structpb.Value{
		"userId": structpb.NewStringValue(profile.UserID),
		"role":   structpb.NewStringValue(string(profile.Role)),
		"name":   structpb.NewStringValue(profile.Name),
		"email":  structpb.NewStringValue(profile.Email),
	})
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("profile:"+profile.UserID), bytes)
	})
}

// GetProfile returns errors.ErrNotFound for an unknown user.
func (r ProfileRepository) GetProfile(userID string) (Profile, error) {
	var profile Profile
	err := r.db.View(func(txn *badger.Txn) error {
		record, err := readRecord(txn, "profile:"+userID)
		if err != nil {
			return err
		}
		profile = Profile{
			UserID: stringField(record, "userId"),
			Role:   domain.Role(stringField(record, "role")),
			Name:   stringField(record, "name"),
			Email:  stringField(record, "email"),
		}
		return nil
	})
	return profile, err
}
