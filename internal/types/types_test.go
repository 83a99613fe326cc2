package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tcases := []struct {
		kind  Kind
		valid bool
		media bool
	}{
		{kind: KindText, valid: true, media: false},
		{kind: KindImage, valid: true, media: true},
		{kind: KindSticker, valid: true, media: true},
		{kind: KindDocument, valid: true, media: true},
		{kind: "video", valid: false, media: false},
		{kind: "", valid: false, media: false},
	}

	for _, tc := range tcases {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.valid, tc.kind.Valid(), "unexpected Valid() for %q", tc.kind)
			assert.Equal(t, tc.media, tc.kind.IsMedia(), "unexpected IsMedia() for %q", tc.kind)
		})
	}
}

func TestSystemJoinMessage(t *testing.T) {
	msg := SystemJoinMessage("r1", "alice")
	assert.Equal(t, "r1", msg.Room)
	assert.Equal(t, SystemUser, msg.User)
	assert.Equal(t, KindText, msg.Type)
	assert.Equal(t, "alice joined the room.", msg.Text)
	assert.Zero(t, msg.Id, "system messages get an id only when stored")
	assert.Equal(t, time.UTC, msg.Timestamp.Location())
}
