package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSMTPClient struct {
	from    string
	rcpt    []string
	body    bytes.Buffer
	quit    bool
	authErr error
}

func (f *fakeSMTPClient) Mail(from string) error { f.from = from; return nil }
func (f *fakeSMTPClient) Rcpt(to string) error   { f.rcpt = append(f.rcpt, to); return nil }
func (f *fakeSMTPClient) Data() (io.WriteCloser, error) {
	return nopWriteCloser{&f.body}, nil
}
func (f *fakeSMTPClient) Quit() error                     { f.quit = true; return nil }
func (f *fakeSMTPClient) Close() error                    { return nil }
func (f *fakeSMTPClient) StartTLS(*tls.Config) error      { return nil }
func (f *fakeSMTPClient) Auth(smtp.Auth) error            { return f.authErr }
func (f *fakeSMTPClient) Extension(string) (bool, string) { return false, "" }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newTestMailer(t *testing.T, cfg Settings, client *fakeSMTPClient) Mailer {
	t.Helper()
	mailer, err := NewSMTPMailer(cfg)
	require.NoError(t, err)

	impl := mailer.(*smtpMailer)
	impl.dial = func(context.Context, Settings) (net.Conn, smtpClient, error) {
		server, conn := net.Pipe()
		t.Cleanup(func() { _ = server.Close() })
		return conn, client, nil
	}
	return impl
}

func TestSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(Settings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: "a@x.com"})
	require.ErrorIs(t, err, ErrDisabled)
}

func TestSendRequiresHostWhenEnabled(t *testing.T) {
	_, err := NewSMTPMailer(Settings{Enabled: true, Port: 587})
	require.Error(t, err)
}

func TestSendDeliversMessage(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestMailer(t, Settings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "noreply@pulsecare.app",
		Timeout: time.Second,
	}, client)

	err := mailer.Send(context.Background(), Message{
		To:      "ann@example.com",
		Subject: "Your verification code",
		Body:    "Code: 123456",
	})
	require.NoError(t, err)

	require.Equal(t, "noreply@pulsecare.app", client.from)
	require.Equal(t, []string{"ann@example.com"}, client.rcpt)
	require.Contains(t, client.body.String(), "Code: 123456")
	require.Contains(t, client.body.String(), "Subject: Your verification code")
	require.True(t, client.quit)
}

func TestSendRejectsInvalidRecipient(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestMailer(t, Settings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "noreply@pulsecare.app",
	}, client)

	err := mailer.Send(context.Background(), Message{To: "not an address"})
	require.Error(t, err)
	require.Empty(t, client.rcpt)
}
