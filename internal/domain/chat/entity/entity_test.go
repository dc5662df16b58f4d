package entity

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	assert.Equal(t, PairKey(a, b), PairKey(b, a))
	assert.NotEqual(t, PairKey(a, b), PairKey(a, uuid.New()))
}

func TestValidateContent(t *testing.T) {
	attachment := Attachment{Kind: AttachmentKindImage, URL: "https://cdn.example.com/a.png"}

	tests := []struct {
		name        string
		text        string
		attachments []Attachment
		wantErr     error
	}{
		{name: "plain text", text: "hello"},
		{name: "attachment only", attachments: []Attachment{attachment}},
		{name: "text and attachment", text: "look", attachments: []Attachment{attachment}},
		{name: "empty", wantErr: ErrEmptyMessage},
		{name: "whitespace only", text: "   \n\t ", wantErr: ErrEmptyMessage},
		{name: "too long", text: strings.Repeat("x", MaxMessageLength+1), wantErr: ErrMessageTooLong},
		{name: "at limit", text: strings.Repeat("x", MaxMessageLength)},
		{
			name:        "unknown attachment kind",
			attachments: []Attachment{{Kind: "audio", URL: "https://cdn.example.com/a.ogg"}},
			wantErr:     ErrInvalidAttachment,
		},
		{
			name:        "attachment without url",
			attachments: []Attachment{{Kind: AttachmentKindFile}},
			wantErr:     ErrInvalidAttachment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.text, tt.attachments)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateGroupName(t *testing.T) {
	assert.NoError(t, ValidateGroupName("weekend plans"))
	assert.ErrorIs(t, ValidateGroupName(""), ErrEmptyGroupName)
	assert.ErrorIs(t, ValidateGroupName("   "), ErrEmptyGroupName)
	assert.ErrorIs(t, ValidateGroupName(strings.Repeat("g", MaxGroupNameLength+1)), ErrGroupNameTooLong)
}

func TestConversationParticipantLookups(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	conv := Conversation{
		ID:   uuid.New(),
		Type: ConversationTypeGroup,
		Participants: []Participant{
			{UserID: a}, {UserID: b}, {UserID: c},
		},
	}

	require.NotNil(t, conv.Participant(b))
	assert.Nil(t, conv.Participant(uuid.New()))

	others := conv.OtherParticipants(a)
	require.Len(t, others, 2)
	for _, p := range others {
		assert.NotEqual(t, a, p.UserID)
	}

	assert.ElementsMatch(t, []uuid.UUID{a, b, c}, conv.ParticipantIDs())
}

func TestMessageViewerHelpers(t *testing.T) {
	viewer := uuid.New()
	msg := Message{
		ID:         uuid.New(),
		DeletedFor: []uuid.UUID{viewer},
		SeenBy:     []uuid.UUID{viewer},
		CreatedAt:  time.Now(),
	}

	assert.True(t, msg.DeletedForUser(viewer))
	assert.False(t, msg.DeletedForUser(uuid.New()))
	assert.True(t, msg.SeenByUser(viewer))
	assert.False(t, msg.DeliveredToUser(viewer))
}
