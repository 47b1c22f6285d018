package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
)

func notification() Notification {
	return Notification{
		Record: &leads.Record{
			LeadID:             "lead-1",
			Status:             leads.StatusQualified,
			Contact:            &leads.Contact{FirstName: "Jane", LastName: "Doe", Phone: "5551234567", Email: "jane@example.com", TCPAConsent: true},
			CertificationToken: "https://cert.trustedform.com/abc",
			SourceSite:         "myinjuryclaimnow.com",
			FunnelType:         "CommercialMVA",
			LeadType:           "WorkVehicleAccident",
			SubmittedAt:        time.Date(2025, 6, 15, 14, 5, 7, 0, time.UTC),
		},
		ObjectURI: "s3://company-leads-prod/funnelType=CommercialMVA/a.json",
	}
}

func TestSubjectAndBody(t *testing.T) {
	n := notification()
	assert.Equal(t, "New Qualified Lead: Jane Doe (CommercialMVA)", Subject(n.Record))

	body := Body(n)
	for _, want := range []string{
		"Lead ID: lead-1",
		"Ad Category: N/A",
		"Name: Jane Doe",
		"Phone: 5551234567",
		"Submitted: 2025-06-15T14:05:07Z",
		"Stored: s3://company-leads-prod/funnelType=CommercialMVA/a.json",
		"TrustedForm: https://cert.trustedform.com/abc",
	} {
		assert.Contains(t, body, want)
	}
}

type notifierFunc func(context.Context, Notification) error

func (f notifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

func TestMulti(t *testing.T) {
	calls := 0
	ok := notifierFunc(func(context.Context, Notification) error { calls++; return nil })
	boom := errors.New("boom")
	bad := notifierFunc(func(context.Context, Notification) error { calls++; return boom })

	err := Multi{bad, ok, bad}.Notify(context.Background(), notification())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls, "one failure does not stop the others")

	assert.NoError(t, Multi{ok}.Notify(context.Background(), notification()))
	assert.NoError(t, Multi(nil).Notify(context.Background(), notification()))
}

type fakeSNS struct {
	in  *sns.PublishInput
	err error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.in = in
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, f.err
}

func TestSNSNotifier(t *testing.T) {
	fake := &fakeSNS{}
	n := &SNSNotifier{Client: fake, TopicARN: "arn:aws:sns:us-east-1:123:leads"}

	require.NoError(t, n.Notify(context.Background(), notification()))
	assert.Equal(t, "arn:aws:sns:us-east-1:123:leads", aws.ToString(fake.in.TopicArn))
	assert.Equal(t, "New Qualified Lead: Jane Doe (CommercialMVA)", aws.ToString(fake.in.Subject))
	assert.Contains(t, aws.ToString(fake.in.Message), "Lead ID: lead-1")

	long := notification()
	long.Record.Contact.FirstName = strings.Repeat("J", 120)
	require.NoError(t, n.Notify(context.Background(), long))
	assert.Len(t, aws.ToString(fake.in.Subject), maxSubjectLength)

	fake.err = errors.New("throttled")
	assert.ErrorContains(t, n.Notify(context.Background(), notification()), "lead-1")
}

func TestSlackClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var msg map[string]string
		assert.NoError(t, json.Unmarshal(body, &msg))
		assert.Equal(t, "C123", msg["channel"])
		assert.Contains(t, msg["text"], "New Qualified Lead: Jane Doe")
		_, _ = w.Write([]byte(`{"ok":true,"ts":"123.456"}`))
	}))
	defer srv.Close()

	c := &SlackClient{Token: "xoxb-test", Channel: "C123", BaseURL: srv.URL, HTTP: srv.Client()}
	assert.NoError(t, c.Notify(context.Background(), notification()))
}

func TestSlackClientErrors(t *testing.T) {
	c := &SlackClient{Channel: "C1", BaseURL: "https://example.test"}
	assert.ErrorContains(t, c.Notify(context.Background(), notification()), "missing slack token")

	c = &SlackClient{Token: "x", BaseURL: "https://example.test"}
	assert.ErrorContains(t, c.Notify(context.Background(), notification()), "missing slack channel")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()
	c = &SlackClient{Token: "x", Channel: "C1", BaseURL: srv.URL, HTTP: srv.Client()}
	assert.ErrorContains(t, c.Notify(context.Background(), notification()), "channel_not_found")
}

// TestRedisPublisher_Integration requires a running Redis and skips otherwise.
func TestRedisPublisher_Integration(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	sub := rdb.Subscribe(ctx, "leads.test")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, NewRedisPublisher(rdb, "leads.test").Notify(ctx, notification()))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	assert.Equal(t, "lead-1", ev.LeadID)
	assert.Equal(t, "Jane Doe", ev.Name)
}
