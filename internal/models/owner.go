package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidOwnerKind = errors.New("invalid owner kind")

// OwnerKind names the kind of entity an attachment belongs to.
type OwnerKind string

const (
	OwnerStory   OwnerKind = "story"
	OwnerVacancy OwnerKind = "vacancy"
	OwnerNotice  OwnerKind = "notice"
)

var ownerKinds = []OwnerKind{OwnerStory, OwnerVacancy, OwnerNotice}

func (k OwnerKind) Valid() bool {
	for _, v := range ownerKinds {
		if k == v {
			return true
		}
	}
	return false
}

// ParseOwnerKind accepts the singular or plural route form, e.g. "story" or
// "stories".
func ParseOwnerKind(s string) (OwnerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "story", "stories":
		return OwnerStory, nil
	case "vacancy", "vacancies":
		return OwnerVacancy, nil
	case "notice", "notices":
		return OwnerNotice, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOwnerKind, s)
}

// OwnerRef addresses a single owning entity.
type OwnerRef struct {
	Kind OwnerKind `json:"kind"`
	ID   uint      `json:"id"`
}

func (r OwnerRef) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}
