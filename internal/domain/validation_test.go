package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateFieldKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected bool
	}{
		{"Valid key", "body", true},
		{"Valid key with dot", "content.en", true},
		{"Valid key with dash", "long-description", true},
		{"Valid key with underscore", "intro_text", true},
		{"Invalid - empty", "", false},
		{"Invalid - starts with number", "1body", false},
		{"Invalid - slash", "body/../x", false},
		{"Invalid - spaces", "rich text", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFieldKey(tt.key)
			assert.Equal(t, tt.expected, err == nil)
			if err != nil {
				assert.True(t, errors.Is(err, ErrInvalidField))
			}
		})
	}
}

func TestValidateDraftID(t *testing.T) {
	tests := []struct {
		name     string
		draftID  string
		expected bool
	}{
		{"Valid uuid", "6f1c1c84-8d0b-4b7e-9b8a-8c2f3f0a9e11", true},
		{"Invalid - uppercase", "6F1C1C84-8D0B-4B7E-9B8A-8C2F3F0A9E11", false},
		{"Invalid - no dashes", "6f1c1c848d0b4b7e9b8a8c2f3f0a9e11", false},
		{"Invalid - braces", "{6f1c1c84-8d0b-4b7e-9b8a-8c2f3f0a9e11}", false},
		{"Invalid - short", "draft-1", false},
		{"Invalid - empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDraftID(tt.draftID)
			assert.Equal(t, tt.expected, err == nil)
		})
	}
}

func TestValidateOwner(t *testing.T) {
	tests := []struct {
		name     string
		owner    OwnerRef
		expected bool
	}{
		{"Valid owner", OwnerRef{Type: "posts", ID: "42"}, true},
		{"Valid namespaced type", OwnerRef{Type: `App\Models\Post`, ID: "42"}, true},
		{"Invalid - empty type", OwnerRef{ID: "42"}, false},
		{"Invalid - empty id", OwnerRef{Type: "posts"}, false},
		{"Invalid - id with space", OwnerRef{Type: "posts", ID: "4 2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOwner(tt.owner)
			assert.Equal(t, tt.expected, err == nil)
		})
	}
}

func TestAttachment_CheckBinding(t *testing.T) {
	draft := "6f1c1c84-8d0b-4b7e-9b8a-8c2f3f0a9e11"

	t.Run("草稿附件合法", func(t *testing.T) {
		att := &Attachment{ID: "a", DraftID: &draft, Disposition: DispositionPending}
		assert.NoError(t, att.CheckBinding())
	})

	t.Run("绑定后草稿标识被清除", func(t *testing.T) {
		att := &Attachment{ID: "a", DraftID: &draft, Disposition: DispositionPending}
		att.SetOwner(OwnerRef{Type: "posts", ID: "42"}, time.Now())

		assert.NoError(t, att.CheckBinding())
		assert.Nil(t, att.DraftID)
		assert.Equal(t, DispositionAttached, att.Disposition)
		owner, ok := att.Owner()
		assert.True(t, ok)
		assert.Equal(t, "posts:42", owner.String())
	})

	t.Run("两者皆空不合法", func(t *testing.T) {
		att := &Attachment{ID: "a"}
		assert.Error(t, att.CheckBinding())
	})

	t.Run("两者皆有不合法", func(t *testing.T) {
		ownerType, ownerID := "posts", "1"
		att := &Attachment{ID: "a", DraftID: &draft, OwnerType: &ownerType, OwnerID: &ownerID}
		assert.Error(t, att.CheckBinding())
	})

	t.Run("克隆不共享指针", func(t *testing.T) {
		att := &Attachment{ID: "a", DraftID: &draft}
		c := att.Clone()
		*c.DraftID = "changed"
		assert.Equal(t, draft, *att.DraftID)
	})
}
