package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"channel-service/internal/mocks"
	"channel-service/internal/models"
	"channel-service/internal/services"
	"channel-service/internal/storage/memory"
	"channel-service/internal/telemetry"
)

type messageFixture struct {
	router *gin.Engine
	store  *memory.Store
	bus    *mocks.BroadcasterMock
}

func setupMessageRouter(t *testing.T, audit *telemetry.AuditEmitter) messageFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	bus := new(mocks.BroadcasterMock)
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything)

	r := gin.New()
	NewMessageHandler(
		services.NewMessages(store, bus),
		services.NewReactions(store, bus),
		services.NewReadReceipts(store, store, bus),
		audit,
	).Register(r)
	return messageFixture{router: r, store: store, bus: bus}
}

func decodeMessage(t *testing.T, body []byte) models.Message {
	t.Helper()
	var msg models.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	return msg
}

func TestCreateMessageBroadcastsToRoom(t *testing.T) {
	f := setupMessageRouter(t, nil)

	rec := doJSON(f.router, http.MethodPost, "/messages", `{"channelId":"c1","sender":"u1","content":"hi","clientId":"tmp-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	msg := decodeMessage(t, rec.Body.Bytes())
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, models.ChannelRoom("c1"), msg.Room)
	assert.Equal(t, models.DefaultContentType, msg.ContentType)
	assert.Equal(t, "tmp-1", msg.ClientID)
	f.bus.AssertCalled(t, "Publish", models.ChannelRoom("c1"), models.EventReceiveMessage, mock.Anything)
}

func TestCreateMessageIsIdempotentOnClientID(t *testing.T) {
	f := setupMessageRouter(t, nil)
	body := `{"channelId":"c1","sender":"u1","content":"hi","clientId":"tmp-1"}`

	first := decodeMessage(t, doJSON(f.router, http.MethodPost, "/messages", body).Body.Bytes())
	second := decodeMessage(t, doJSON(f.router, http.MethodPost, "/messages", body).Body.Bytes())
	assert.Equal(t, first.ID, second.ID)

	rec := doJSON(f.router, http.MethodGet, "/messages/"+first.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateMessageValidation(t *testing.T) {
	f := setupMessageRouter(t, nil)

	cases := map[string]string{
		"no room":   `{"sender":"u1","content":"hi"}`,
		"no sender": `{"channelId":"c1","content":"hi"}`,
		"blank":     `{"channelId":"c1","sender":"u1","content":"   "}`,
		"bad json":  `{"channelId":`,
		"too long":  `{"channelId":"c1","sender":"u1","content":"` + longText(1001) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doJSON(f.router, http.MethodPost, "/messages", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	f.bus.AssertNotCalled(t, "Publish", mock.Anything, models.EventReceiveMessage, mock.Anything)
}

func longText(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = 'a'
	}
	return string(out)
}

func TestUpdateMessage(t *testing.T) {
	f := setupMessageRouter(t, nil)
	created := decodeMessage(t, doJSON(f.router, http.MethodPost, "/messages", `{"channelId":"c1","sender":"u1","content":"hi"}`).Body.Bytes())

	rec := doJSON(f.router, http.MethodPut, "/messages/"+created.ID, `{"content":"edited"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeMessage(t, rec.Body.Bytes())
	assert.Equal(t, "edited", updated.Content)
	assert.True(t, updated.IsEdited)
	assert.NotNil(t, updated.EditedAt)
	f.bus.AssertCalled(t, "Publish", models.ChannelRoom("c1"), models.EventMessageUpdated, mock.Anything)

	rec = doJSON(f.router, http.MethodPut, "/messages/missing", `{"content":"edited"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(f.router, http.MethodPut, "/messages/"+created.ID, `{"content":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteMessageReturnsDeletedItem(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.channel-service", mock.Anything).Return(nil).Once()
	f := setupMessageRouter(t, telemetry.NewAuditEmitter(publisher, "audit.channel-service", "channel-service", "test"))
	created := decodeMessage(t, doJSON(f.router, http.MethodPost, "/messages", `{"channelId":"c1","sender":"u1","content":"bye"}`).Body.Bytes())

	rec := doJSON(f.router, http.MethodDelete, "/messages/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Message     string         `json:"message"`
		DeletedItem models.Message `json:"deletedItem"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Message deleted", resp.Message)
	assert.Equal(t, created.ID, resp.DeletedItem.ID)
	f.bus.AssertCalled(t, "Publish", models.ChannelRoom("c1"), models.EventMessageDeleted, models.MessageDeletedPayload{
		ChannelID: "c1",
		MessageID: created.ID,
	})
	publisher.AssertExpectations(t)

	rec = doJSON(f.router, http.MethodGet, "/messages/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(f.router, http.MethodDelete, "/messages/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReactionReplacesPreviousType(t *testing.T) {
	f := setupMessageRouter(t, nil)
	created := decodeMessage(t, doJSON(f.router, http.MethodPost, "/messages", `{"channelId":"c1","sender":"u1","content":"hi"}`).Body.Bytes())

	rec := doJSON(f.router, http.MethodPost, "/messages/"+created.ID+"/reactions", `{"user":"u2","type":"like"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(f.router, http.MethodPost, "/messages/"+created.ID+"/reactions", `{"user":"u2","type":"love"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	msg := decodeMessage(t, rec.Body.Bytes())
	require.Len(t, msg.Reactions, 1)
	assert.Equal(t, "u2", msg.Reactions[0].User)
	assert.Equal(t, "love", msg.Reactions[0].Type)

	rec = doJSON(f.router, http.MethodDelete, "/messages/"+created.ID+"/reactions/u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeMessage(t, rec.Body.Bytes()).Reactions)

	rec = doJSON(f.router, http.MethodDelete, "/messages/"+created.ID+"/reactions/u2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(f.router, http.MethodPost, "/messages/missing/reactions", `{"user":"u2","type":"like"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(f.router, http.MethodPost, "/messages/"+created.ID+"/reactions", `{"user":"u2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkMessageReadIsIdempotent(t *testing.T) {
	f := setupMessageRouter(t, nil)
	created := decodeMessage(t, doJSON(f.router, http.MethodPost, "/messages", `{"channelId":"c1","sender":"u1","content":"hi"}`).Body.Bytes())

	for i := 0; i < 2; i++ {
		rec := doJSON(f.router, http.MethodPost, "/messages/"+created.ID+"/read", `{"userId":"u2"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		msg := decodeMessage(t, rec.Body.Bytes())
		require.Len(t, msg.ReadBy, 1)
		assert.Equal(t, "u2", msg.ReadBy[0].User)
	}

	rec := doJSON(f.router, http.MethodPost, "/messages/missing/read", `{"userId":"u2"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(f.router, http.MethodPost, "/messages/"+created.ID+"/read", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
