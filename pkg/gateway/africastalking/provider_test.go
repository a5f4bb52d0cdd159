package africastalking

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/smsbridge/pkg/models"
)

func recipientBody(statusCode int, status, messageID string) string {
	return fmt.Sprintf(`{"SMSMessageData":{"Recipients":[{"number":"+256771234567","statusCode":%d,"status":%q,"messageId":%q}]}}`,
		statusCode, status, messageID)
}

func TestSendMapsStatusCodes(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-user", r.FormValue("username"))
		assert.Equal(t, "secret", r.Header.Get("apiKey"))

		n := calls.Add(1)

		w.Header().Set("Content-Type", "application/json")

		switch n {
		case 1:
			fmt.Fprint(w, recipientBody(101, "Success", "ATXid_1"))
		case 2:
			fmt.Fprint(w, recipientBody(102, "Queued", "ATXid_2"))
		default:
			fmt.Fprint(w, recipientBody(403, "InvalidPhoneNumber", ""))
		}
	}))
	defer server.Close()

	provider := NewProvider(slog.Default(), "test-user", "secret", server.URL)

	results, err := provider.Send(t.Context(), []models.PendingMessage{
		{ID: "m1", To: "+256771234567", Content: "hello"},
		{ID: "m2", To: "+256771234567", Content: "hello again"},
		{ID: "m3", To: "bad", Content: "nope"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.Equal(t, models.StateSent, results[0].State)
	assert.Equal(t, "ATXid_1", results[0].GatewayRef)

	assert.True(t, results[1].Success)
	assert.Equal(t, models.StateForwardedToGateway, results[1].State)
	assert.Equal(t, "ATXid_2", results[1].GatewayRef)

	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Details, "InvalidPhoneNumber")
}

func TestSendKeepsResultsParallelOnRequestFailure(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		fmt.Fprint(w, recipientBody(101, "Success", "ATXid_2"))
	}))
	defer server.Close()

	provider := NewProvider(slog.Default(), "test-user", "secret", server.URL)

	results, err := provider.Send(t.Context(), []models.PendingMessage{
		{ID: "m1", To: "+256771234567", Content: "first"},
		{ID: "m2", To: "+256771234567", Content: "second"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.Equal(t, "ATXid_2", results[1].GatewayRef)
}

func TestProviderIsPush(t *testing.T) {
	provider := NewProvider(slog.Default(), "u", "k", "")

	assert.Equal(t, "africas-talking", provider.ID())
	assert.True(t, provider.Push())
}
