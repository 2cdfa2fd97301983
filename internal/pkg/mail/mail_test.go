package mail

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsTransport(t *testing.T) {
	assert.IsType(t, &Noop{}, New(Config{}, nil))
	assert.IsType(t, &SMTP{}, New(Config{Enable: true, Host: "smtp.example.org"}, nil))
	assert.IsType(t, &Resend{}, New(Config{Enable: true, Provider: "resend", ResendKey: "k"}, nil))
	assert.IsType(t, &SMTP{}, New(Config{Enable: true, Provider: "resend"}, nil))
}

func TestNoopValidates(t *testing.T) {
	m := New(Config{}, nil)
	require.NoError(t, m.Send(context.Background(), Message{To: "a@example.org"}))
	assert.True(t, errors.Is(m.Send(context.Background(), Message{}), ErrNoRecipient))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(m.Send(ctx, Message{To: "a@example.org"}), context.Canceled))
}

func TestSMTPBuildsAlternative(t *testing.T) {
	s := NewSMTP(Config{From: "Digest <bot@example.org>", ReplyTo: "desk@example.org"})
	m := s.build(Message{To: "a@example.org", Subject: "Hi", Text: "plain", HTML: "<p>rich</p>"})

	assert.Equal(t, []string{"Digest <bot@example.org>"}, m.GetHeader("From"))
	assert.Equal(t, []string{"desk@example.org"}, m.GetHeader("Reply-To"))

	var sb strings.Builder
	_, err := m.WriteTo(&sb)
	require.NoError(t, err)
	out := sb.String()
	assert.Contains(t, out, "multipart/alternative")
	assert.Contains(t, out, "plain")
	assert.Contains(t, out, "<p>rich</p>")
}

func TestResendSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewResend(Config{ResendKey: "key", User: "bot@example.org"}, srv.Client())
	r.endpoint = srv.URL
	require.NoError(t, r.Send(context.Background(), Message{To: "a@example.org", Subject: "S", Text: "t"}))
	assert.Equal(t, "bot@example.org", got["from"])
	assert.Equal(t, []any{"a@example.org"}, got["to"])
	assert.Equal(t, "t", got["text"])
	assert.NotContains(t, got, "html")
}

func TestResendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"bad from"}`))
	}))
	defer srv.Close()

	r := NewResend(Config{ResendKey: "key"}, srv.Client())
	r.endpoint = srv.URL
	err := r.Send(context.Background(), Message{To: "a@example.org"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad from")
}

func TestRenderNewsletter(t *testing.T) {
	msg, err := RenderNewsletter(NewsletterData{
		SiteName:       "Digest",
		Headline:       "Floods <update>",
		Excerpt:        "Water levels are rising...",
		SystemID:       "A-000007",
		StoryURL:       "https://n.example.org/publisher/story/7/",
		UnsubscribeURL: "https://n.example.org/api/v1/subscribe/unsubscribe",
	})
	require.NoError(t, err)
	assert.Equal(t, "New Story: Floods <update>", msg.Subject)
	assert.Contains(t, msg.HTML, "Floods &lt;update&gt;")
	assert.Contains(t, msg.Text, "Floods <update>")
	assert.Contains(t, msg.Text, "Read more: https://n.example.org/publisher/story/7/")
	assert.Contains(t, msg.Text, "To unsubscribe:")
	assert.Empty(t, msg.To)
}

func TestRenderVerify(t *testing.T) {
	msg, err := RenderVerify("a@example.org", VerifyData{SiteName: "Digest", Name: "Ann", VerifyURL: "https://x/verify/tok"})
	require.NoError(t, err)
	assert.Equal(t, "a@example.org", msg.To)
	assert.Contains(t, msg.HTML, "https://x/verify/tok")
	assert.Contains(t, msg.Text, "Hello Ann")
}
