package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

type captureSender struct {
	msgs []Message
}

func (c *captureSender) Send(_ context.Context, msg Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestMailerBuildsLinks(t *testing.T) {
	sender := &captureSender{}
	m := NewMailer(sender, "https://id.example.com/")
	user := auth.User{Username: "alice", Email: "alice@example.com"}
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, m.SendToken(context.Background(), user, auth.PurposePasswordReset, "a+b/c", exp))
	require.NoError(t, m.SendToken(context.Background(), user, auth.PurposeEmailVerification, "xyz", exp))

	require.Len(t, sender.msgs, 2)
	assert.Equal(t, "alice@example.com", sender.msgs[0].To)
	assert.Equal(t, "Reset your password", sender.msgs[0].Subject)
	assert.Contains(t, sender.msgs[0].TextBody, "https://id.example.com/reset-password?token=a%2Bb%2Fc")
	assert.Contains(t, sender.msgs[0].TextBody, "Hello alice,")
	assert.Contains(t, sender.msgs[1].TextBody, "https://id.example.com/confirm-email?token=xyz")
}

func TestMailerRejectsUnknownPurpose(t *testing.T) {
	sender := &captureSender{}
	err := NewMailer(sender, "http://localhost").SendToken(context.Background(), auth.User{Email: "a@b.c"}, "invite", "v", time.Now())
	require.Error(t, err)
	assert.Empty(t, sender.msgs)
}

func TestLogSender(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := LogSender{Logger: logger}

	require.NoError(t, s.Send(context.Background(), Message{To: "a@b.c", Subject: "hi"}))
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "a@b.c", hook.LastEntry().Data["to"])

	assert.Error(t, s.Send(context.Background(), Message{}))
}

type fakeSES struct {
	in  *ses.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSESSenderBuildsInput(t *testing.T) {
	client := &fakeSES{}
	s := &SESSender{client: client, from: "no-reply@example.com"}

	require.NoError(t, s.Send(context.Background(), Message{To: "bob@example.com", Subject: "S", TextBody: "B"}))
	require.NotNil(t, client.in)
	assert.Equal(t, "no-reply@example.com", aws.ToString(client.in.Source))
	assert.Equal(t, []string{"bob@example.com"}, client.in.Destination.ToAddresses)
	assert.Equal(t, "S", aws.ToString(client.in.Message.Subject.Data))
	assert.Equal(t, "B", aws.ToString(client.in.Message.Body.Text.Data))
}

func TestSESSenderWrapsErrors(t *testing.T) {
	boom := errors.New("throttled")
	s := &SESSender{client: &fakeSES{err: boom}, from: "f@example.com"}
	err := s.Send(context.Background(), Message{To: "bob@example.com"})
	require.ErrorIs(t, err, boom)
}
